package httpserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	mcperrors "scoped-memory-mcp/internal/errors"
	"scoped-memory-mcp/internal/logging"
)

// APIKeyAuth checks a bearer or X-API-Key credential against a bcrypt hash
type APIKeyAuth struct {
	hash []byte
}

// NewAPIKeyAuth returns an authenticator; an empty hash admits every request
func NewAPIKeyAuth(hash string) *APIKeyAuth {
	return &APIKeyAuth{hash: []byte(strings.TrimSpace(hash))}
}

// Enabled reports whether requests must carry a key
func (a *APIKeyAuth) Enabled() bool {
	return len(a.hash) > 0
}

// HashKey returns the bcrypt hash to configure for key
func HashKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func credential(r *http.Request) string {
	if v := r.Header.Get("X-API-Key"); v != "" {
		return v
	}
	const prefix = "bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	// browsers cannot set headers on a WebSocket handshake
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("api_key")
	}
	return ""
}

// Middleware rejects requests without a valid key
func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	if !a.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := credential(r)
		if key == "" {
			mcperrors.NewUnauthorizedError("missing API key").
				WithCorrelationID(logging.GetTraceID(r.Context())).
				WriteHTTPError(w)
			return
		}
		if bcrypt.CompareHashAndPassword(a.hash, []byte(key)) != nil {
			mcperrors.NewUnauthorizedError("invalid API key").
				WithCorrelationID(logging.GetTraceID(r.Context())).
				WriteHTTPError(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestID propagates X-Request-ID as the trace id of the request context
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > 128 {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logging.WithTraceID(r.Context(), id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// the recorder hides http.Hijacker from the upgrader
		if r.URL.Path == "/health" || r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.InfoContext(r.Context(), "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", float64(time.Since(start).Microseconds())/1000)
	})
}
