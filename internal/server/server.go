package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"heartsearch/internal/app"
	"heartsearch/internal/security"
	"heartsearch/internal/session"
	"heartsearch/internal/util"
	"heartsearch/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Alerter        *security.AuditAlerter
	TrustedProxies *util.TrustedProxies
	AllowedOrigins []string
}

// Server exposes HTTP endpoints for the backend.
type Server struct {
	app            *app.App
	gate           *session.Gate
	alerter        *security.AuditAlerter
	trustedProxies *util.TrustedProxies
	allowedOrigins []string
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	s := &Server{
		app:            cfg.App,
		gate:           cfg.App.Sessions(),
		alerter:        cfg.Alerter,
		trustedProxies: cfg.TrustedProxies,
		allowedOrigins: cfg.AllowedOrigins,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	h = util.WithCORS(s.allowedOrigins, h)
	h = util.WithSecurityHeaders(h)
	h = util.WithRequestLog("heart", h)
	return util.WithRequestID(h)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// accounts
	s.mux.HandleFunc("/register", s.handleRegister)
	s.mux.HandleFunc("/verify", s.handleVerify)
	s.mux.HandleFunc("/verify/resend", s.handleResend)
	s.mux.HandleFunc("/login", s.handleLogin)
	s.mux.HandleFunc("/logout", s.handleLogout)
	s.mux.Handle("/me", s.authenticated(s.handleMe))

	// search is open; a valid session only adds history
	s.mux.HandleFunc("/search", s.handleSearch)
	s.mux.HandleFunc("/search/image", s.handleImageSearch)

	// user data
	s.mux.Handle("/history", s.authenticated(s.handleHistory))
	s.mux.Handle("/saved-results", s.authenticated(s.handleSavedResults))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type authHandler func(http.ResponseWriter, *http.Request, domain.Account)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acc, err := s.gate.Authenticate(r)
		if err != nil {
			if !errors.Is(err, session.ErrUnauthenticated) {
				s.internalError(w, r, err)
				return
			}
			s.audit(r, security.EventAuthorize, security.OutcomeFail)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, acc)
	})
}

// optionalAccount resolves the caller when a credential is present. Bad or
// stale credentials are treated as anonymous.
func (s *Server) optionalAccount(r *http.Request) *domain.Account {
	if session.Credential(r) == "" {
		return nil
	}
	acc, err := s.gate.Authenticate(r)
	if err != nil {
		return nil
	}
	return &acc
}

// account handlers
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	acc, err := s.app.Register(r.Context(), app.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		s.audit(r, security.EventRegister, security.OutcomeFail, "reason", auditReason(err))
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, security.EventRegister, security.OutcomeSuccess, "account_id", acc.ID)
	writeJSON(w, http.StatusCreated, messageResponse{Message: "User created successfully"})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	// Verification failures answer with {"message"} like its successes.
	var req verifyRequest
	if !decodeJSONAs(w, r, &req, writeMessageError) {
		return
	}
	if err := s.app.Verify(r.Context(), req.Email, req.Code); err != nil {
		s.audit(r, security.EventVerify, security.OutcomeFail, "reason", auditReason(err))
		s.writeAppErrorAs(w, r, err, writeMessageError)
		return
	}
	s.audit(r, security.EventVerify, security.OutcomeSuccess)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Email verified successfully"})
}

func (s *Server) handleResend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req resendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.app.ResendVerification(r.Context(), req.Email); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Verification code sent"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	identifier := req.Identifier
	if strings.TrimSpace(identifier) == "" {
		identifier = req.Email
	}
	res, err := s.app.Login(r.Context(), identifier, req.Password)
	if err != nil {
		s.audit(r, security.EventLogin, security.OutcomeFail, "reason", auditReason(err))
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, security.EventLogin, security.OutcomeSuccess, "account_id", res.Account.ID)
	s.gate.SetCookie(w, res.Credential, res.Session.Expires)
	writeJSON(w, http.StatusOK, loginResponse{
		Account: res.Account,
		Token:   res.Credential,
		Expires: res.Session.Expires,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	_, sess, err := s.gate.Resolve(r.Context(), session.Credential(r))
	if err != nil {
		if !errors.Is(err, session.ErrUnauthenticated) {
			s.internalError(w, r, err)
			return
		}
		s.gate.ClearCookie(w)
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := s.app.Logout(r.Context(), sess.SessionToken); err != nil {
		s.internalError(w, r, err)
		return
	}
	s.gate.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, acc domain.Account) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// search handlers
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req searchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	results, err := s.app.HandleSearch(r.Context(), req.Query, req.Type, s.optionalAccount(r))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: nonNil(results)})
}

func (s *Server) handleImageSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	limit := s.app.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	if err := r.ParseMultipartForm(limit); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()

	res, err := s.app.HandleImageSearch(r.Context(), header.Filename, file, s.optionalAccount(r))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, imageSearchResponse{Query: res.Query, Results: nonNil(res.Results)})
}

// user data handlers
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, acc domain.Account) {
	switch r.Method {
	case http.MethodGet:
		entries, err := s.app.ListHistory(r.Context(), acc)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(entries))
	case http.MethodPost:
		var req historyRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		entry, err := s.app.RecordHistory(r.Context(), acc, req.Query, req.Type)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleSavedResults(w http.ResponseWriter, r *http.Request, acc domain.Account) {
	switch r.Method {
	case http.MethodGet:
		results, err := s.app.ListSavedResults(r.Context(), acc)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(results))
	case http.MethodPost:
		var req saveResultRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		saved, err := s.app.SaveResult(r.Context(), acc, app.SaveResultInput{
			Title:   req.Title,
			Summary: req.Summary,
			Sources: req.Sources,
		})
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, saved)
	case http.MethodDelete:
		if err := s.app.DeleteSavedResult(r.Context(), acc, r.URL.Query().Get("id")); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, messageResponse{Message: "Result deleted successfully"})
	default:
		methodNotAllowed(w)
	}
}

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type resendRequest struct {
	Email string `json:"email"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

type loginResponse struct {
	Account domain.Account `json:"account"`
	Token   string         `json:"token"`
	Expires time.Time      `json:"expires"`
}

type searchRequest struct {
	Query string `json:"query"`
	Type  string `json:"type"`
}

type searchResponse struct {
	Results []domain.SearchResult `json:"results"`
}

type imageSearchResponse struct {
	Query   string                `json:"query"`
	Results []domain.SearchResult `json:"results"`
}

type historyRequest struct {
	Query string `json:"query"`
	Type  string `json:"type"`
}

type saveResultRequest struct {
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Sources []string `json:"sources"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	return decodeJSONAs(w, r, dst, writeError)
}

func decodeJSONAs(w http.ResponseWriter, r *http.Request, dst any, write errorWriter) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		write(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorWriter func(w http.ResponseWriter, status int, msg string)

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeMessageError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, messageResponse{Message: msg})
}

// writeAppError maps application errors onto status codes. Anything not
// recognised is a 500 with a generic message.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeAppErrorAs(w, r, err, writeError)
}

func (s *Server) writeAppErrorAs(w http.ResponseWriter, r *http.Request, err error, write errorWriter) {
	kind, status, ok := classify(err)
	if !ok {
		s.internalError(w, r, err)
		return
	}
	msg, hasDetail := app.DetailMessage(err)
	if !hasDetail {
		msg = kind.Error()
	}
	write(w, status, msg)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	util.LoggerFromContext(r.Context()).Error("request_failed",
		"method", r.Method,
		"path", r.URL.Path,
		"err", err,
	)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

var errorStatus = []struct {
	err    error
	status int
}{
	{app.ErrValidation, http.StatusBadRequest},
	{app.ErrConflict, http.StatusBadRequest},
	{app.ErrNotFound, http.StatusNotFound},
	{app.ErrInvalidCode, http.StatusBadRequest},
	{app.ErrAlreadyVerified, http.StatusBadRequest},
	{app.ErrCodeExpired, http.StatusBadRequest},
	{app.ErrInvalidCredentials, http.StatusUnauthorized},
	{session.ErrUnauthenticated, http.StatusUnauthorized},
	{app.ErrEmailNotVerified, http.StatusForbidden},
}

// classify returns the client-visible sentinel behind err and its status.
func classify(err error) (error, int, bool) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.err, e.status, true
		}
	}
	return nil, 0, false
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// audit writes a security_event record and feeds failures to the alerter.
func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	ip := util.ClientIP(r, s.trustedProxies)
	logger := util.LoggerFromContext(r.Context())
	logAttrs := append([]any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
	}, attrs...)
	if outcome == security.OutcomeSuccess {
		logger.Info("security_event", logAttrs...)
	} else {
		logger.Warn("security_event", logAttrs...)
	}
	if s.alerter == nil {
		return
	}
	ctx := context.WithoutCancel(r.Context())
	result, err := s.alerter.Observe(ctx, event, outcome, ip)
	if err != nil {
		logger.Warn("security_alert_observe_failed", "event", event, "err", err)
		return
	}
	if result.Triggered {
		logger.Error("security_alert",
			"event", event,
			"ip", ip,
			"count", result.Count,
			"threshold", result.Threshold,
			"window", result.Window.String(),
		)
	}
}

func auditReason(err error) string {
	if kind, _, ok := classify(err); ok {
		return kind.Error()
	}
	return "internal"
}
