package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"bookswap/internal/app"
	"bookswap/internal/ratelimit"
	"bookswap/internal/util"
	"bookswap/pkg/domain"
)

const defaultMaxUploadBytes = 5 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                      *app.App
	RedisAddr                string
	RedisPassword            string
	SignupRateLimitPerMinute int
	LoginRateLimitPerMinute  int
	MaxUploadBytes           int64
}

// Server exposes the HTTP API for the marketplace.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	validate       *validator.Validate
	maxUploadBytes int64
	signupLimiter  *ratelimit.FixedWindowLimiter
	loginLimiter   *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured. Rate limiting is enabled
// when a Redis address is supplied.
func New(cfg Config) (*Server, error) {
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		validate:       validator.New(),
		maxUploadBytes: cfg.MaxUploadBytes,
	}
	if s.maxUploadBytes <= 0 {
		s.maxUploadBytes = defaultMaxUploadBytes
	}
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		signupLimit := cfg.SignupRateLimitPerMinute
		if signupLimit <= 0 {
			signupLimit = 5
		}
		loginLimit := cfg.LoginRateLimitPerMinute
		if loginLimit <= 0 {
			loginLimit = 10
		}
		newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
			prefix := "bookswap:ratelimit:" + name
			limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, time.Minute)
			if err != nil {
				return nil, fmt.Errorf("init %s limiter: %w", name, err)
			}
			return limiter, nil
		}
		var err error
		if s.signupLimiter, err = newLimiter("signup", signupLimit); err != nil {
			return nil, err
		}
		if s.loginLimiter, err = newLimiter("login", loginLimit); err != nil {
			return nil, err
		}
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler behind the middleware chain.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.HandleFunc("/api/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)

	s.mux.Handle("/api/users", s.authenticated(s.handleUsers))
	s.mux.Handle("/api/users/", s.authenticated(s.handleUserSubtree))

	s.mux.HandleFunc("/api/books", s.handleBooks)
	s.mux.HandleFunc("/api/books/", s.handleBookSubtree)

	s.mux.Handle("/api/exchanges", s.authenticated(s.handleExchanges))
	s.mux.Handle("/api/exchanges/", s.authenticated(s.handleExchangeSubtree))

	s.mux.Handle("/api/history/reconcile", s.authenticated(s.handleReconcile))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers

type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			s.audit(r, "authorize", "fail")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return domain.User{}, false
	}
	return s.app.UserFromToken(token)
}

// auth handlers

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.signupLimiter, "too many signup attempts") {
		s.audit(r, "signup", "rate_limited")
		return
	}
	var req signupRequest
	if !s.decode(w, r, &req) {
		return
	}
	user, token, err := s.app.SignUp(req.Name, req.Email, req.Password)
	if err != nil {
		s.audit(r, "signup", "fail", "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "signup", "success", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "login", "rate_limited")
		return
	}
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}
	user, token, err := s.app.Login(req.Email, req.Password)
	if err != nil {
		s.audit(r, "login", "fail")
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "login", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

// user handlers

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	users, err := s.app.ListUsers()
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": users, "count": len(users)})
}

func (s *Server) handleUserSubtree(w http.ResponseWriter, r *http.Request, acting domain.User) {
	id, sub, ok := splitResource(r.URL.Path, "/api/users/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	switch sub {
	case "":
		s.handleUserByID(w, r, acting, id)
	case "password":
		s.handleUserPassword(w, r, acting, id)
	case "reputation":
		s.handleUserReputation(w, r, id)
	case "books":
		s.handleUserBooks(w, r, id)
	case "history":
		s.handleUserHistory(w, r, id)
	case "exchanges":
		s.handleUserExchanges(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleUserByID(w http.ResponseWriter, r *http.Request, acting domain.User, id string) {
	switch r.Method {
	case http.MethodGet:
		profile, err := s.app.GetProfile(id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	case http.MethodPatch:
		var req updateUserRequest
		if !s.decode(w, r, &req) {
			return
		}
		updated, err := s.app.UpdateUser(id, acting.ID, req.Name, req.Email)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		if err := s.app.DeleteUser(id, acting.ID); err != nil {
			writeAppError(w, r, err)
			return
		}
		s.audit(r, "user.delete", "success", "user_id", id)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUserPassword(w http.ResponseWriter, r *http.Request, acting domain.User, id string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	var req passwordRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.app.ChangePassword(id, acting.ID, req.Password); err != nil {
		s.audit(r, "password.change", "fail", "user_id", id)
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "password.change", "success", "user_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUserReputation(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	reputation, err := s.app.ReputationFor(id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": id, "reputation": reputation})
}

func (s *Server) handleUserBooks(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	books, err := s.app.ListBooksByOwner(id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": books, "count": len(books)})
}

func (s *Server) handleUserHistory(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	history, err := s.app.HistoryForUser(id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": history, "count": len(history)})
}

func (s *Server) handleUserExchanges(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	items, err := s.app.ListExchangesForUser(id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

// book handlers

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		books, err := s.app.ListBooks()
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": books, "count": len(books)})
	case http.MethodPost:
		user, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		var req bookRequest
		if !s.decode(w, r, &req) {
			return
		}
		book, err := s.app.CreateBook(user.ID, req.attrs())
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, book)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleBookSubtree(w http.ResponseWriter, r *http.Request) {
	id, sub, ok := splitResource(r.URL.Path, "/api/books/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	switch sub {
	case "":
		s.handleBookByID(w, r, id)
	case "cover":
		s.handleBookCover(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		book, err := s.app.GetBook(id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, book)
	case http.MethodPut:
		user, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		var req bookRequest
		if !s.decode(w, r, &req) {
			return
		}
		book, err := s.app.UpdateBook(id, user.ID, req.attrs())
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, book)
	case http.MethodDelete:
		user, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if err := s.app.DeleteBook(r.Context(), id, user.ID); err != nil {
			writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleBookCover(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		url, err := s.app.CoverURL(r.Context(), id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"url": url})
	case http.MethodPost:
		user, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		// the cover store enforces the image content type; non-images
		// surface as 400 through the usual error mapping
		body := http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
		defer body.Close()
		if err := s.app.UploadCover(r.Context(), id, user.ID, body, r.ContentLength, r.Header.Get("Content-Type")); err != nil {
			writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

// exchange handlers

func (s *Server) handleExchanges(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		exchanges, err := s.app.ListExchanges()
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": exchanges, "count": len(exchanges)})
	case http.MethodPost:
		var req exchangeRequest
		if !s.decode(w, r, &req) {
			return
		}
		exchange, err := s.app.CreateExchange(user.ID, req.BookID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, exchange)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleExchangeSubtree(w http.ResponseWriter, r *http.Request, user domain.User) {
	id, sub, ok := splitResource(r.URL.Path, "/api/exchanges/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	switch sub {
	case "":
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		if err := s.app.CancelExchange(id, user.ID); err != nil {
			writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case "status":
		s.handleExchangeStatus(w, r, user, id)
	case "reviews":
		s.handleExchangeReviews(w, r, user, id)
	case "messages":
		s.handleExchangeMessages(w, r, user, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleExchangeStatus(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	var req statusRequest
	if !s.decode(w, r, &req) {
		return
	}
	exchange, err := s.app.UpdateExchangeStatus(r.Context(), id, user.ID, domain.ExchangeStatus(req.Status))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exchange)
}

func (s *Server) handleExchangeReviews(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	switch r.Method {
	case http.MethodGet:
		reviews, err := s.app.ReviewsForExchange(id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": reviews, "count": len(reviews)})
	case http.MethodPost:
		var req reviewRequest
		if !s.decode(w, r, &req) {
			return
		}
		review, err := s.app.CreateReview(id, user.ID, req.Rating, req.Comment)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, review)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleExchangeMessages(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	switch r.Method {
	case http.MethodGet:
		messages, err := s.app.ListMessages(id, user.ID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": messages, "count": len(messages)})
	case http.MethodPost:
		var req messageRequest
		if !s.decode(w, r, &req) {
			return
		}
		message, err := s.app.SendMessage(id, user.ID, req.Body)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, message)
	default:
		methodNotAllowed(w)
	}
}

// history handlers

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	written, err := s.app.Reconcile()
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"written": written})
}

// request DTOs

type signupRequest struct {
	Name     string `json:"name" validate:"required,min=3"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=5"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

type updateUserRequest struct {
	Name  *string `json:"name" validate:"omitempty,min=3"`
	Email *string `json:"email" validate:"omitempty,email"`
}

type passwordRequest struct {
	Password string `json:"password" validate:"required,min=5"`
}

type bookRequest struct {
	Title           string `json:"title" validate:"required,max=255"`
	Author          string `json:"author" validate:"required,max=255"`
	Genre           string `json:"genre" validate:"required,max=255"`
	PublicationYear int    `json:"publicationYear" validate:"gte=0"`
}

func (r bookRequest) attrs() app.BookAttrs {
	return app.BookAttrs{
		Title:           r.Title,
		Author:          r.Author,
		Genre:           r.Genre,
		PublicationYear: r.PublicationYear,
	}
}

type exchangeRequest struct {
	BookID string `json:"bookId" validate:"required"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=approved rejected"`
}

type reviewRequest struct {
	Rating  int    `json:"rating" validate:"required,gte=1,lte=5"`
	Comment string `json:"comment" validate:"max=255"`
}

type messageRequest struct {
	Body string `json:"body" validate:"required,max=2000"`
}

// helpers

// decode parses and validates a JSON request body, writing the 400 itself.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		field := strings.ToLower(verrs[0].Field())
		switch verrs[0].Tag() {
		case "required":
			return field + " is required"
		case "email":
			return field + " must be a valid email address"
		case "min":
			return field + " must be at least " + verrs[0].Param() + " characters"
		case "max":
			return field + " must be at most " + verrs[0].Param() + " characters"
		case "gte", "lte", "oneof":
			return field + " is out of range"
		}
		return field + " is invalid"
	}
	return "invalid request"
}

// splitResource extracts the id and optional subresource from a path like
// /api/books/{id}/cover.
func splitResource(path, prefix string) (id, sub string, ok bool) {
	rest := strings.TrimPrefix(path, prefix)
	if rest == "" || rest == path {
		return "", "", false
	}
	id, sub, _ = strings.Cut(rest, "/")
	if id == "" || strings.Contains(sub, "/") {
		return "", "", false
	}
	return id, sub, true
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r),
		"request_id", util.RequestIDFromRequest(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed",
			"path", r.URL.Path,
			"method", r.Method,
			"request_id", util.RequestIDFromRequest(r),
			"err", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, app.ErrCoversNotConfigured):
		return http.StatusNotImplemented
	case errors.Is(err, app.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, app.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, app.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, app.ErrInvalidInput),
		errors.Is(err, app.ErrPreconditionFailed),
		errors.Is(err, app.ErrInvalidOperation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
