package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/frahmantamala/peerpay/internal/metrics"
	pkglogger "github.com/frahmantamala/peerpay/pkg/logger"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
)

const (
	filtered = "[FILTERED]"
	// maxLoggedBody caps how much of a request or response body is kept for
	// the log line.
	maxLoggedBody = 4 << 10
)

// sensitiveFields are matched as substrings of lower-cased header names and
// JSON keys. A payment preimage proves payment and the PIN authorizes it, so
// both are masked along with credentials.
var sensitiveFields = []string{
	"password",
	"token",
	"authorization",
	"secret",
	"api_key",
	"apikey",
	"credential",
	"cookie",
	"pin",
	"preimage",
}

// quietPaths are served without body logging.
var quietPaths = []string{"/metrics", "/openapi.yml", "/swagger/"}

// LoggingMiddleware logs each request and response with secrets masked and
// records the HTTP metrics. It prefers the request-scoped logger so trace
// and wallet ids come along.
func LoggingMiddleware(fallback *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			logger := pkglogger.FromOr(r.Context(), fallback)
			quiet := isQuiet(r.URL.Path)

			var reqBody []byte
			if !quiet {
				reqBody = captureRequestBody(r)
			}
			logger.Info("incoming request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"query", r.URL.RawQuery,
				"remote_addr", r.RemoteAddr,
				"user_agent", r.UserAgent(),
				"headers", filterHeaders(r.Header),
				"body", filterBody(reqBody),
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			respBody := &limitedBuffer{max: maxLoggedBody}
			if !quiet {
				ww.Tee(respBody)
			}

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			metrics.ObserveHTTPRequest(r.Method, routePattern(r), status, elapsed)
			logResponse(r.Context(), logger, status, ww.BytesWritten(), respBody.Bytes(), elapsed)
		})
	}
}

func logResponse(ctx context.Context, logger *slog.Logger, status, size int, body []byte, elapsed time.Duration) {
	level := slog.LevelInfo
	switch {
	case status >= http.StatusInternalServerError:
		level = slog.LevelError
	case status >= http.StatusBadRequest:
		level = slog.LevelWarn
	}

	logger.Log(ctx, level, "response",
		"request_id", middleware.GetReqID(ctx),
		"status_code", status,
		"duration_ms", elapsed.Milliseconds(),
		"response_size", size,
		"body", filterBody(body),
	)
}

// captureRequestBody reads the body for logging and puts it back for the
// handler. Only the logged prefix is held on to twice.
func captureRequestBody(r *http.Request) []byte {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	raw, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		return nil
	}
	if len(raw) > maxLoggedBody {
		return raw[:maxLoggedBody]
	}
	return raw
}

type limitedBuffer struct {
	bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.Len(); room > 0 {
		if len(p) > room {
			b.Buffer.Write(p[:room])
		} else {
			b.Buffer.Write(p)
		}
	}
	return len(p), nil
}

func isSensitive(name string) bool {
	lower := strings.ToLower(name)
	for _, field := range sensitiveFields {
		if strings.Contains(lower, field) {
			return true
		}
	}
	return false
}

func isQuiet(path string) bool {
	for _, p := range quietPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func filterHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for name, values := range headers {
		if isSensitive(name) {
			out[name] = filtered
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

// filterBody masks sensitive keys in JSON bodies. Bodies that are not JSON
// (including ones truncated by maxLoggedBody) are dropped if they mention a
// sensitive field at all.
func filterBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		if isSensitive(string(body)) {
			return filtered
		}
		return string(body)
	}

	out, err := json.Marshal(filterJSON(data))
	if err != nil {
		return filtered
	}
	return string(out)
}

func filterJSON(data interface{}) interface{} {
	switch v := data.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, value := range v {
			if isSensitive(key) {
				out[key] = filtered
				continue
			}
			out[key] = filterJSON(value)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = filterJSON(item)
		}
		return out
	default:
		return v
	}
}

// routePattern keeps metric labels bounded by using the matched chi route
// instead of the raw path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
