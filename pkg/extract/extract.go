// Package extract pulls searchable text out of uploaded images and PDFs.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
)

// FilePlaceholder is replaced by the upload's temp path in OCR command args.
const FilePlaceholder = "{file}"

var (
	ErrUnsupported = errors.New("unsupported file type")
	ErrTooLarge    = errors.New("file too large")
	ErrNoText      = errors.New("no text extracted")
)

var imageExts = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".tif": {}, ".tiff": {},
	".bmp": {}, ".gif": {}, ".webp": {},
}

// Config configures an Extractor.
type Config struct {
	// OCRCommand is argv for the OCR engine; FilePlaceholder marks the input.
	OCRCommand []string
	Timeout    time.Duration
	MaxBytes   int64
	TempDir    string
}

// DefaultOCRCommand runs tesseract and reads the text from stdout.
func DefaultOCRCommand() []string {
	return []string{"tesseract", FilePlaceholder, "stdout"}
}

// Extractor runs OCR on images and reads the text layer of PDFs.
type Extractor struct {
	ocrCommand []string
	timeout    time.Duration
	maxBytes   int64
	tempDir    string
}

// New builds an Extractor with defaults applied.
func New(cfg Config) *Extractor {
	cmd := cfg.OCRCommand
	if len(cmd) == 0 {
		cmd = DefaultOCRCommand()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &Extractor{
		ocrCommand: cmd,
		timeout:    timeout,
		maxBytes:   maxBytes,
		tempDir:    cfg.TempDir,
	}
}

// Supported reports whether filename has an extension Extract can handle.
func Supported(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == ".pdf" {
		return true
	}
	_, ok := imageExts[ext]
	return ok
}

// Extract returns the normalized text of the upload. Empty output is ErrNoText.
func (e *Extractor) Extract(ctx context.Context, filename string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !Supported(filename) {
		return "", fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
	path, err := e.spool(r, ext)
	if err != nil {
		return "", err
	}
	defer os.Remove(path)

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var text string
	if ext == ".pdf" {
		text, err = e.pdfText(ctx, path)
	} else {
		text, err = e.ocr(ctx, path)
	}
	if err != nil {
		return "", err
	}
	text = normalizeText(text)
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

func (e *Extractor) spool(r io.Reader, ext string) (string, error) {
	f, err := os.CreateTemp(e.tempDir, "upload-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(r, e.maxBytes+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if n > e.maxBytes {
		os.Remove(f.Name())
		return "", ErrTooLarge
	}
	return f.Name(), nil
}

func (e *Extractor) ocr(ctx context.Context, path string) (string, error) {
	args := make([]string, len(e.ocrCommand))
	for i, a := range e.ocrCommand {
		args[i] = strings.ReplaceAll(a, FilePlaceholder, path)
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return "", fmt.Errorf("ocr command not found: %w", err)
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("ocr failed: %w: %s", err, msg)
		}
		return "", fmt.Errorf("ocr failed: %w", err)
	}
	return string(out), nil
}

func (e *Extractor) pdfText(ctx context.Context, path string) (string, error) {
	// pdftotext handles more encodings; the Go reader is the fallback.
	if _, err := exec.LookPath("pdftotext"); err == nil {
		out, err := exec.CommandContext(ctx, "pdftotext", "-layout", "-enc", "UTF-8", path, "-").Output()
		if err == nil && strings.TrimSpace(string(out)) != "" {
			return string(out), nil
		}
	}
	return readPDF(path)
}

func readPDF(path string) (string, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()
	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(text)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	return strings.Join(strings.Fields(text), " ")
}
