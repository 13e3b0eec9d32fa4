// Package obs holds the process logger and the per-request correlation
// fields every log line of a note or user operation carries.
package obs

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Service is stamped on every log line.
const Service = "ticketnotes"

// Surfaces a request can arrive on.
const (
	SurfaceHTTP = "http"
	SurfaceMCP  = "mcp"
)

type correlationContextKey struct{}

// Correlation carries per-request identifiers. Surface is the entry point
// ("http" or "mcp") and Tool names the MCP tool being run, if any.
type Correlation struct {
	RequestID    string
	TraceID      string
	Traceparent  string
	Tracestate   string
	MCPSessionID string
	ClientIP     string
	Surface      string
	Tool         string
}

// fields lists the correlation values in log order. Pointers let merge and
// attrs share one table.
func (c *Correlation) fields() []struct {
	key string
	val *string
} {
	return []struct {
		key string
		val *string
	}{
		{"request_id", &c.RequestID},
		{"trace_id", &c.TraceID},
		{"traceparent", &c.Traceparent},
		{"tracestate", &c.Tracestate},
		{"mcp_session_id", &c.MCPSessionID},
		{"client_ip", &c.ClientIP},
		{"surface", &c.Surface},
		{"tool", &c.Tool},
	}
}

var (
	loggerMu sync.RWMutex
	logger   *slog.Logger
	level    = new(slog.LevelVar)
)

// Init installs the JSON logger on stderr as the slog default. Later calls
// are no-ops.
func Init() {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		install(os.Stderr)
	}
}

// SetLevel changes the minimum level of the process logger.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// ParseLevel accepts slog level names ("debug", "INFO", "warn+1") plus
// "warning". Anything else is info.
func ParseLevel(s string) slog.Level {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// SetOutputForTests points the logger at w until the returned func runs.
func SetOutputForTests(w io.Writer) func() {
	loggerMu.Lock()
	prev := logger
	install(w)
	loggerMu.Unlock()

	return func() {
		loggerMu.Lock()
		defer loggerMu.Unlock()
		if prev == nil {
			install(os.Stderr)
			return
		}
		logger = prev
		slog.SetDefault(prev)
	}
}

// install must be called with loggerMu held.
func install(w io.Writer) {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: utcTime,
	})
	logger = slog.New(handler).With("service", Service)
	slog.SetDefault(logger)
}

func utcTime(_ []string, attr slog.Attr) slog.Attr {
	if attr.Key != slog.TimeKey {
		return attr
	}
	if t, ok := attr.Value.Any().(time.Time); ok {
		return slog.String(slog.TimeKey, t.UTC().Format(time.RFC3339Nano))
	}
	return attr
}

func current() *slog.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l == nil {
		Init()
		loggerMu.RLock()
		l = logger
		loggerMu.RUnlock()
	}
	return l
}

// Pkg returns the process logger tagged with pkg.
func Pkg(pkg string) *slog.Logger {
	return current().With("pkg", pkg)
}

// From returns the process logger carrying ctx's correlation fields.
func From(ctx context.Context) *slog.Logger {
	corr := CorrelationFromContext(ctx)
	if attrs := corr.attrs(); len(attrs) > 0 {
		return current().With(attrs...)
	}
	return current()
}

// WithCorrelation merges corr into ctx. Empty fields keep the values
// already present.
func WithCorrelation(ctx context.Context, corr Correlation) context.Context {
	merged := CorrelationFromContext(ctx)
	dst := merged.fields()
	for i, f := range corr.fields() {
		if v := strings.TrimSpace(*f.val); v != "" {
			*dst[i].val = v
		}
	}
	return context.WithValue(ctx, correlationContextKey{}, merged)
}

// WithTool tags ctx with the MCP tool being run.
func WithTool(ctx context.Context, tool string) context.Context {
	return WithCorrelation(ctx, Correlation{Surface: SurfaceMCP, Tool: tool})
}

// CorrelationFromContext returns the correlation fields stored in ctx.
func CorrelationFromContext(ctx context.Context) Correlation {
	if ctx == nil {
		return Correlation{}
	}
	corr, _ := ctx.Value(correlationContextKey{}).(Correlation)
	return corr
}

func (c Correlation) attrs() []any {
	var attrs []any
	for _, f := range c.fields() {
		if *f.val != "" {
			attrs = append(attrs, f.key, *f.val)
		}
	}
	return attrs
}

func newRequestID() string {
	return "req-" + uuid.NewString()
}
