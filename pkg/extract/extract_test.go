package extract

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
)

func TestExtractUnsupportedExtension(t *testing.T) {
	e := New(Config{})
	_, err := e.Extract(context.Background(), "notes.docx", strings.NewReader("x"))
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got: %v", err)
	}
}

func TestExtractRunsOCRCommand(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	e := New(Config{OCRCommand: []string{"cat", FilePlaceholder}, TempDir: t.TempDir()})
	got, err := e.Extract(context.Background(), "scan.PNG", strings.NewReader("  atrial\x00fibrillation\n\n anticoagulation "))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got != "atrial fibrillation anticoagulation" {
		t.Fatalf("unexpected text: %q", got)
	}
}

func TestExtractEmptyOutput(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	e := New(Config{OCRCommand: []string{"cat", FilePlaceholder}, TempDir: t.TempDir()})
	_, err := e.Extract(context.Background(), "blank.jpg", strings.NewReader(" \n\t "))
	if !errors.Is(err, ErrNoText) {
		t.Fatalf("expected ErrNoText, got: %v", err)
	}
}

func TestExtractTooLarge(t *testing.T) {
	e := New(Config{OCRCommand: []string{"cat", FilePlaceholder}, MaxBytes: 4, TempDir: t.TempDir()})
	_, err := e.Extract(context.Background(), "big.png", strings.NewReader("0123456789"))
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got: %v", err)
	}
}

func TestExtractMissingOCRCommand(t *testing.T) {
	e := New(Config{OCRCommand: []string{"definitely-not-an-ocr-binary", FilePlaceholder}, TempDir: t.TempDir()})
	if _, err := e.Extract(context.Background(), "scan.png", strings.NewReader("x")); err == nil {
		t.Fatalf("expected missing command to fail")
	}
}

func TestExtractInvalidPDF(t *testing.T) {
	e := New(Config{TempDir: t.TempDir()})
	if _, err := e.Extract(context.Background(), "paper.pdf", strings.NewReader("not a pdf")); err == nil {
		t.Fatalf("expected invalid pdf to fail")
	}
}

func TestSupported(t *testing.T) {
	for _, name := range []string{"a.pdf", "b.PNG", "c.jpeg", "d.tiff", "e.webp"} {
		if !Supported(name) {
			t.Errorf("expected %s supported", name)
		}
	}
	for _, name := range []string{"a.txt", "b", "c.docx"} {
		if Supported(name) {
			t.Errorf("expected %s unsupported", name)
		}
	}
}
