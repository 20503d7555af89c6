package httpapi

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/clinvault/clinvault/internal/anomaly"
	"github.com/clinvault/clinvault/internal/metrics"
	"github.com/clinvault/clinvault/internal/server/auth"
	"github.com/clinvault/clinvault/internal/server/models"
	"github.com/clinvault/clinvault/internal/server/services"
)

type ctxKey int

const claimsKey ctxKey = iota

// snapshotBodyLimit bounds how much of a request body the anomaly detector
// inspects. The rest still reaches the handler untouched.
const snapshotBodyLimit = 64 * 1024

func claimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

func requestContext(r *http.Request) services.RequestContext {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}
	return services.RequestContext{IP: ip, UserAgent: r.UserAgent()}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.RequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
	})
}

// anomalyMiddleware inspects the request line and a bounded body prefix for
// known attack signatures. Detection is advisory: a match is audited and
// counted but the request proceeds, unless block mode is configured.
func (h *Handlers) anomalyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body string
		if r.Body != nil {
			buf, err := io.ReadAll(io.LimitReader(r.Body, snapshotBodyLimit))
			if err == nil {
				body = string(buf)
				r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(buf), r.Body))
			}
		}

		report := h.detector.Inspect(anomaly.Snapshot{
			Path:  r.URL.Path,
			Query: r.URL.RawQuery,
			Body:  body,
		})

		if report.Suspicious {
			for _, pattern := range report.MatchedPatterns {
				metrics.AnomaliesTotal.WithLabelValues(pattern).Inc()
			}
			reqCtx := requestContext(r)
			_ = h.recorder.Record(r.Context(), models.AuditEvent{
				Action:    "anomaly.detected",
				Entity:    "http_request",
				Status:    "flagged",
				IP:        reqCtx.IP,
				UserAgent: reqCtx.UserAgent,
				Severity:  models.SeverityWarning,
				Detail:    "patterns: " + strings.Join(report.MatchedPatterns, ", ") + "; path: " + r.URL.Path,
			})

			if h.blockAnomalies {
				writeError(w, http.StatusBadRequest, "request rejected")
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// authMiddleware requires a valid, non-denylisted bearer token. Every
// failure reads the same from outside.
func (h *Handlers) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			writeError(w, http.StatusUnauthorized, "session invalid")
			return
		}

		claims, err := auth.ParseToken(tokenString, h.jwtSecret)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "session invalid")
			return
		}

		denied, err := h.denylist.IsDenied(r.Context(), claims.ID)
		if err != nil {
			h.log.Error(r.Context(), "denylist lookup failed", "error", err.Error())
			writeError(w, http.StatusUnauthorized, "session invalid")
			return
		}
		if denied {
			writeError(w, http.StatusUnauthorized, "session invalid")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}
