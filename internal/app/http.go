package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/visualize-admin/visualization-tool-sub010/internal/search"
)

type HTTPServer struct {
	service      *Service
	corsOrigin   string
	maxBodyBytes int64
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	limit := service.cfg.MaxBodyBytes
	if limit <= 0 {
		limit = 2 << 20
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, maxBodyBytes: limit}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{}
		for name, err := range s.service.Readiness(ctx) {
			if err == nil {
				checks[name] = map[string]any{"status": "ok"}
				continue
			}
			checks[name] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
			if name == "database" {
				status = "not_ready"
				statusCode = http.StatusServiceUnavailable
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/versions" {
		versions, err := s.service.Versions(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"families": versions})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/migrate" {
		raw, err := s.readDocument(w, r)
		if err != nil {
			s.fail(w, err)
			return
		}
		query := r.URL.Query()
		result, err := s.service.MigrateDocument(r.Context(), query.Get("family"), raw, query.Get("to"))
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		query := r.URL.Query()
		writeJSON(w, http.StatusOK, s.service.Search(search.Query{
			Text:   strings.TrimSpace(query.Get("q")),
			Family: query.Get("family"),
			Limit:  queryInt(query.Get("limit"), 20),
			Offset: queryInt(query.Get("offset"), 0),
		}))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/admin/upgrade" {
		report, err := s.service.UpgradeStale(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "configs" {
		s.handleConfigs(w, r, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleConfigs(w http.ResponseWriter, r *http.Request, parts []string) {
	query := r.URL.Query()

	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		items, err := s.service.ListConfigs(r.Context(), query.Get("family"), queryInt(query.Get("limit"), 50), queryInt(query.Get("offset"), 0))
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})

	case len(parts) == 0 && r.Method == http.MethodPost:
		raw, err := s.readDocument(w, r)
		if err != nil {
			s.fail(w, err)
			return
		}
		saved, err := s.service.SaveConfig(r.Context(), query.Get("family"), raw, authorOf(r))
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, saved)

	case len(parts) == 1 && r.Method == http.MethodGet:
		loaded, err := s.service.LoadConfig(r.Context(), parts[0], query.Get("version"))
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, loaded)

	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := s.service.DeleteConfig(r.Context(), parts[0]); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 2 && parts[1] == "history" && r.Method == http.MethodGet:
		view, err := s.service.History(r.Context(), parts[0], queryInt(query.Get("limit"), 50))
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Printf("app: %s: %v", code, err)
	}
	writeError(w, status, code, message, details)
}

// readDocument reads the raw JSON request body, bounded by the configured size.
func (s *HTTPServer) readDocument(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, domainError(http.StatusBadRequest, "INVALID_BODY", "Request body is required", nil)
	}
	defer r.Body.Close()
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, domainError(http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit), nil)
		}
		return nil, domainError(http.StatusBadRequest, "INVALID_BODY", "Could not read request body", nil)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, domainError(http.StatusBadRequest, "INVALID_BODY", "Request body is required", nil)
	}
	if !json.Valid(raw) {
		return nil, domainError(http.StatusBadRequest, "INVALID_JSON", "Request body is not valid JSON", nil)
	}
	return raw, nil
}

func authorOf(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Author"))
}

func queryInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Author, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
