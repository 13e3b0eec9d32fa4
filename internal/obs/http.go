package obs

import (
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// ResponseRecorder remembers the status and size of a response. StatusCode
// is 0 until the wrapped handler writes something.
type ResponseRecorder struct {
	http.ResponseWriter
	statusCode int
	respBytes  int64
}

type flushingRecorder struct {
	*ResponseRecorder
}

func (r *ResponseRecorder) WriteHeader(code int) {
	if r.statusCode != 0 {
		return
	}
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *ResponseRecorder) Write(p []byte) (int, error) {
	if r.statusCode == 0 {
		r.statusCode = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(p)
	r.respBytes += int64(n)
	return n, err
}

func (r *ResponseRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (r *ResponseRecorder) StatusCode() int { return r.statusCode }

func (r *ResponseRecorder) RespBytes() int64 { return r.respBytes }

func (f flushingRecorder) Flush() {
	if f.statusCode == 0 {
		f.statusCode = http.StatusOK
	}
	f.ResponseWriter.(http.Flusher).Flush()
}

// NewResponseRecorder wraps w. The returned writer implements http.Flusher
// when w does.
func NewResponseRecorder(w http.ResponseWriter) (http.ResponseWriter, *ResponseRecorder) {
	rec := &ResponseRecorder{ResponseWriter: w}
	if _, ok := w.(http.Flusher); ok {
		return flushingRecorder{rec}, rec
	}
	return rec, rec
}

// RequestContextMiddleware stores the request's correlation fields in its
// context and echoes the request id as X-Request-Id. An incoming
// X-Request-Id wins, then the W3C trace id, then a fresh id.
func RequestContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header
		traceparent := strings.TrimSpace(h.Get("traceparent"))
		corr := Correlation{
			RequestID:    strings.TrimSpace(h.Get("X-Request-Id")),
			TraceID:      extractTraceID(traceparent),
			Traceparent:  traceparent,
			Tracestate:   h.Get("tracestate"),
			MCPSessionID: h.Get("Mcp-Session-Id"),
			ClientIP:     ForwardedClientIP(r),
			Surface:      SurfaceHTTP,
		}
		switch {
		case corr.RequestID != "":
		case corr.TraceID != "":
			corr.RequestID = corr.TraceID
		default:
			corr.RequestID = newRequestID()
		}
		w.Header().Set("X-Request-Id", corr.RequestID)
		next.ServeHTTP(w, r.WithContext(WithCorrelation(r.Context(), corr)))
	})
}

// AccessLogMiddleware logs one http_access event per request. Server errors
// are logged at WARN.
func AccessLogMiddleware(pkg string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped, rec := NewResponseRecorder(w)
		next.ServeHTTP(wrapped, r)

		status := rec.StatusCode()
		if status == 0 {
			// Nothing written; net/http sends 200.
			status = http.StatusOK
		}
		lvl := slogLevelFor(status)
		From(r.Context()).Log(r.Context(), lvl, "http_access",
			"pkg", pkg,
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"dur_ms", float64(time.Since(start).Microseconds())/1000.0,
			"req_bytes", max(r.ContentLength, 0),
			"resp_bytes", rec.RespBytes(),
		)
	})
}

func slogLevelFor(status int) slog.Level {
	if status >= http.StatusInternalServerError {
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

// ForwardedClientIP returns the caller address as reported by a reverse
// proxy: the first X-Forwarded-For hop, then X-Real-Ip, then the peer
// address. The headers are client-controlled unless a proxy rewrites them.
func ForwardedClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-Ip")); ip != "" {
		return ip
	}
	return RemoteIP(r)
}

// RemoteIP returns the host part of the connection's peer address.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// extractTraceID returns the lowercase trace id of a version-00 style
// traceparent ("vv-<32 hex>-<16 hex>-ff"), or "" when it is malformed or
// all zeros.
func extractTraceID(traceparent string) string {
	parts := strings.Split(traceparent, "-")
	if len(parts) != 4 || len(parts[1]) != 32 {
		return ""
	}
	id := strings.ToLower(parts[1])
	raw, err := hex.DecodeString(id)
	if err != nil {
		return ""
	}
	for _, b := range raw {
		if b != 0 {
			return id
		}
	}
	return ""
}
