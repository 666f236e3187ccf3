package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"gijiroku/internal/apperr"
	"gijiroku/internal/config"
	"gijiroku/internal/model"
	"gijiroku/internal/observability"
	"gijiroku/internal/transcript"
	"gijiroku/internal/transcription"
	"gijiroku/internal/upstream/openai"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
)

type TranscriptionService interface {
	Transcribe(ctx context.Context, up transcription.Upload, job transcription.Job) (transcript.Result, error)
}

type UpstreamChecker interface {
	CheckModels(ctx context.Context) error
}

type MetricsObserver interface {
	ObserveHTTP(route, method string, status int, duration time.Duration)
}

type Dependencies struct {
	Transcription  TranscriptionService
	Upstream       UpstreamChecker
	Metrics        MetricsObserver
	MetricsHandler http.Handler
}

type server struct {
	cfg          config.Config
	logger       *slog.Logger
	transcriber  TranscriptionService
	upstream     UpstreamChecker
	metrics      MetricsObserver
	metricsRoute http.Handler
}

const (
	serviceName     = "gijiroku"
	requestIDHeader = "X-Request-Id"
	// multipart framing and form fields on top of the audio itself
	formOverheadBytes = 1 << 20
	clientClosed      = 499
)

func NewServer(cfg config.Config, logger *slog.Logger, deps Dependencies) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Transcription == nil || deps.Upstream == nil {
		panic("httpapi: transcription and upstream dependencies are required")
	}

	s := &server{
		cfg:          cfg,
		logger:       logger,
		transcriber:  deps.Transcription,
		upstream:     deps.Upstream,
		metrics:      deps.Metrics,
		metricsRoute: deps.MetricsHandler,
	}

	r := chi.NewRouter()
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/healthz", s.handleHealth)
	if s.metricsRoute != nil {
		r.Handle("/metrics", s.metricsRoute)
	}

	// Only routes that call the provider read the Authorization header.
	r.Group(func(r chi.Router) {
		r.Use(s.credentialMiddleware)
		r.Get("/readyz", s.handleReadyz)
		r.Post("/transcriptions", s.handleTranscriptions)
		r.Post("/transcriptions/", s.handleTranscriptions)
	})

	r.NotFound(s.staticHandler(cfg.StaticDir))

	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.HealthResponse{Status: "ok"})
}

func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ready := model.ReadyResponse{OK: true, ServiceName: serviceName, Backend: s.cfg.TranscriptionBackend}
	if s.cfg.OpenAIAPIKey == "" && openai.RequestAPIKeyFromContext(r.Context()) == "" {
		writeJSON(w, http.StatusOK, ready)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.upstream.CheckModels(ctx); err != nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "not_ready", "upstream check failed", detailsForError(err))
		return
	}
	writeJSON(w, http.StatusOK, ready)
}

func (s *server) handleTranscriptions(w http.ResponseWriter, r *http.Request) {
	up, job, err := s.readTranscriptionForm(w, r)
	if err != nil {
		s.handleFormError(w, r, err)
		return
	}

	ctx := r.Context()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	result, err := s.transcriber.Transcribe(ctx, up, job)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, model.NewTranscriptionResponse(result))
}

var errMissingFile = errors.New("multipart field 'file' is required")

type formError struct{ msg string }

func (e *formError) Error() string { return e.msg }

func (s *server) readTranscriptionForm(w http.ResponseWriter, r *http.Request) (transcription.Upload, transcription.Job, error) {
	limit := s.cfg.MaxUploadBytes() + formOverheadBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(min(limit, 8<<20)); err != nil {
		return transcription.Upload{}, transcription.Job{}, err
	}
	defer cleanupMultipartForm(r.MultipartForm)

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return transcription.Upload{}, transcription.Job{}, errMissingFile
		}
		return transcription.Upload{}, transcription.Job{}, err
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		return transcription.Upload{}, transcription.Job{}, err
	}

	summarize, err := parseFormBool(r.FormValue("summarize"), true)
	if err != nil {
		return transcription.Upload{}, transcription.Job{}, &formError{msg: "summarize must be a boolean"}
	}
	language := strings.TrimSpace(r.FormValue("language"))
	if language == "" {
		language = transcription.DefaultLanguage
	}

	up := transcription.Upload{
		Data:        data,
		ContentType: header.Header.Get("Content-Type"),
		FileName:    header.Filename,
	}
	return up, transcription.Job{Language: language, Summarize: summarize}, nil
}

func (s *server) handleFormError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	var fe *formError
	switch {
	case errors.As(err, &maxErr):
		msg := fmt.Sprintf("uploaded file exceeds the size limit: must be %d MB or smaller", s.cfg.MaxUploadMB)
		s.writeError(w, r, http.StatusRequestEntityTooLarge, "request_too_large", msg, nil)
	case errors.Is(err, errMissingFile):
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error(), nil)
	case errors.As(err, &fe):
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", fe.msg, nil)
	default:
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid multipart form data", nil)
	}
}

func (s *server) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	message := "request failed"

	switch kind := apperr.KindOf(err); {
	case kind == apperr.KindConfiguration || kind == apperr.KindValidation:
		status = http.StatusBadRequest
		code = kind.String()
		message = err.Error()
	case kind == apperr.KindUpstream:
		status = http.StatusBadGateway
		code = kind.String()
		message = err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
		code = "timeout"
		message = "request timed out"
	case errors.Is(err, context.Canceled):
		status = clientClosed
		code = "canceled"
		message = "request canceled"
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("transcription failed",
			"request_id", observability.RequestIDFromContext(r.Context()),
			"status", status,
			"error", err,
		)
	}
	s.writeError(w, r, status, code, message, detailsForError(err))
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	rid := observability.RequestIDFromContext(r.Context())
	if rid != "" {
		w.Header().Set(requestIDHeader, rid)
	}
	writeJSON(w, status, model.ErrorResponse{
		Detail:    message,
		Error:     model.APIError{Code: code, Message: message, Details: details},
		RequestID: rid,
	})
}

func (s *server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(observability.WithRequestID(r.Context(), requestID)))
	})
}

func (s *server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		duration := time.Since(started)
		if s.metrics != nil {
			s.metrics.ObserveHTTP(route, r.Method, status, duration)
		}

		s.logger.Info("http_request",
			"request_id", observability.RequestIDFromContext(r.Context()),
			"method", r.Method,
			"route", route,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", duration.Milliseconds(),
		)
	})
}

func (s *server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", "request_id", observability.RequestIDFromContext(r.Context()), "panic", rec)
				s.writeError(w, r, http.StatusInternalServerError, "internal_error", "internal server error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// credentialMiddleware forwards a caller-supplied provider key. It does not
// authenticate: requests without a header fall back to the configured key.
func (s *server) credentialMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, hasHeader, ok := extractBearerToken(r.Header.Get("Authorization"))
		if hasHeader && !ok {
			s.writeError(w, r, http.StatusUnauthorized, "unauthorized", "Authorization must be Bearer <api_key>", nil)
			return
		}
		if token != "" {
			r = r.WithContext(openai.WithRequestAPIKey(r.Context(), token))
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes before writing the status so an unencodable value becomes
// a 500 instead of a success status with an empty body.
func writeJSON(w http.ResponseWriter, status int, value any) {
	body, err := json.Marshal(value)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"detail":"failed to encode response","error":{"code":"internal_error","message":"failed to encode response"}}`)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

// parseFormBool accepts the spellings HTML forms and curl users send.
func parseFormBool(value string, fallback bool) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return fallback, nil
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", value)
	}
}

func cleanupMultipartForm(form *multipart.Form) {
	if form != nil {
		_ = form.RemoveAll()
	}
}

func extractBearerToken(header string) (token string, hasHeader bool, ok bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false, true
	}
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", true, false
	}
	token = strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", true, false
	}
	return token, true, true
}

func detailsForError(err error) map[string]any {
	if err == nil {
		return nil
	}
	var upstreamErr *openai.Error
	if errors.As(err, &upstreamErr) {
		details := map[string]any{"upstream_status": upstreamErr.StatusCode}
		if upstreamErr.Body != "" {
			details["upstream_body"] = upstreamErr.Body
		}
		return details
	}
	return nil
}
