package main

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sadontsev/flibusta-sub001/internal/convert"
	apperr "github.com/sadontsev/flibusta-sub001/internal/errors"
	"github.com/sadontsev/flibusta-sub001/internal/http/response"
)

// formatPattern keeps format names safe to use as file extensions.
var formatPattern = regexp.MustCompile(`^[a-z0-9]{1,10}$`)

const maxReportedOutput = 500

type errorBody struct {
	Error string `json:"error"`
}

type handler struct {
	converter convert.Converter
	maxBody   int64
	logger    *slog.Logger
}

func newRouter(c convert.Converter, maxBody int64, log *slog.Logger) http.Handler {
	h := &handler{converter: c, maxBody: maxBody, logger: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(noStore)

	r.Get("/health", h.health)
	r.Post("/convert", h.convert)
	r.NotFound(h.fallback)
	r.MethodNotAllowed(h.fallback)
	return r
}

// fallback answers any GET under /health, such as /healthz, and a plain
// text 404 for everything else.
func (h *handler) fallback(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/health") {
		h.health(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = io.WriteString(w, "Not Found")
}

func noStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "OK")
}

func (h *handler) convert(w http.ResponseWriter, r *http.Request) {
	from := queryFormat(r, "from", "bin")
	to := queryFormat(r, "to", "epub")
	if !formatPattern.MatchString(from) || !formatPattern.MatchString(to) {
		response.Raw(w, http.StatusBadRequest, errorBody{Error: "Invalid format"}, h.logger)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Raw(w, http.StatusRequestEntityTooLarge, errorBody{Error: "Request body too large"}, h.logger)
			return
		}
		response.Raw(w, http.StatusBadRequest, errorBody{Error: "Cannot read request body"}, h.logger)
		return
	}
	if len(body) == 0 {
		response.Raw(w, http.StatusBadRequest, errorBody{Error: "Missing request body"}, h.logger)
		return
	}

	out, err := h.converter.Convert(r.Context(), convert.Job{Source: from, Target: to, Input: body})
	if err != nil {
		status, msg := describeFailure(err)
		h.logger.Warn("conversion failed",
			slog.String("from", from),
			slog.String("to", to),
			slog.Int("bytes", len(body)),
			slog.Any("error", err))
		response.Raw(w, status, errorBody{Error: msg}, h.logger)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func queryFormat(r *http.Request, key, def string) string {
	v := strings.ToLower(strings.TrimSpace(r.URL.Query().Get(key)))
	if v == "" {
		return def
	}
	return v
}

func describeFailure(err error) (int, string) {
	switch {
	case errors.Is(err, apperr.ErrConverterTimeout):
		return http.StatusGatewayTimeout, "Conversion timeout"
	case errors.Is(err, convert.ErrSpawn):
		return http.StatusInternalServerError, "Failed to start converter: " + rootCause(err).Error()
	case errors.Is(err, apperr.ErrConverterNonZeroExit):
		return http.StatusInternalServerError, "Converter failed: " + failureOutput(err)
	case errors.Is(err, apperr.ErrOutputMissing):
		return http.StatusInternalServerError, "No output produced"
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func failureOutput(err error) string {
	var e *apperr.Error
	if !errors.As(err, &e) {
		return ""
	}
	details, _ := e.Details.(map[string]string)
	out := details["output"]
	if len(out) > maxReportedOutput {
		out = out[:maxReportedOutput]
	}
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(out)
}

// rootCause digs below the coded wrapper to the exec error.
func rootCause(err error) error {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			if !errors.Is(e, convert.ErrSpawn) {
				return e
			}
		}
	}
	return err
}
