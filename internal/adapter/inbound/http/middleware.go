package http

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lookym/authgate/internal/port/inbound"
)

const requestIDHeader = "X-Request-ID"

// Client-supplied ids matching this are logged verbatim; others are replaced.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

type requestContextKey struct{}

// RequestInfo is what RequestContext attaches to every request.
type RequestInfo struct {
	ID     string
	Logger *slog.Logger
	// StateVersion is the session store version when the request arrived.
	StateVersion uint64
}

// RequestContext assigns a request id and a request-scoped logger. The
// logger carries the request id, method, path and the auth status and
// state version at arrival, so a /state answer can be matched to the
// transition log. Each request is logged at debug level when it completes.
// states may be nil.
func RequestContext(logger *slog.Logger, states inbound.StateReader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if !requestIDPattern.MatchString(id) {
				id = uuid.NewString()
			}

			info := RequestInfo{ID: id}
			attrs := []any{"request_id", id, "method", r.Method, "path", r.URL.Path}
			if states != nil {
				st := states.State()
				info.StateVersion = st.Version
				attrs = append(attrs, "auth_status", st.Status.String(), "state_version", st.Version)
			}
			info.Logger = logger.With(attrs...)

			w.Header().Set(requestIDHeader, id)
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestContextKey{}, info)))

			info.Logger.Debug("request served", "status", rec.status, "duration", time.Since(start))
		})
	}
}

// RequestInfoFromContext returns the info set by RequestContext.
func RequestInfoFromContext(ctx context.Context) (RequestInfo, bool) {
	info, ok := ctx.Value(requestContextKey{}).(RequestInfo)
	return info, ok
}

// LoggerFromContext returns the request-scoped logger, or slog.Default()
// outside RequestContext.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if info, ok := RequestInfoFromContext(ctx); ok && info.Logger != nil {
		return info.Logger
	}
	return slog.Default()
}

// AllowOrigins gates browser requests by their Origin header. Requests
// without Origin (curl, the CLI, native clients) pass. An allowed origin
// gets CORS headers so a web build of the app can read /state; any other
// origin is refused with 403. Origins are compared as lowercase
// scheme://host[:port]; "null" is never allowed.
func AllowOrigins(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if o, ok := normalizeOrigin(origin); ok {
			allowed[o] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "Origin")
			raw := r.Header.Get("Origin")
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			origin, ok := normalizeOrigin(raw)
			if ok {
				_, ok = allowed[origin]
			}
			if !ok {
				LoggerFromContext(r.Context()).Debug("origin rejected", "origin", raw)
				http.Error(w, "Forbidden: origin not allowed", http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", raw)
			w.Header().Set("Access-Control-Expose-Headers", requestIDHeader)
			next.ServeHTTP(w, r)
		})
	}
}

func normalizeOrigin(origin string) (string, bool) {
	u, err := url.Parse(strings.TrimSuffix(strings.TrimSpace(origin), "/"))
	if err != nil || u.Scheme == "" || u.Host == "" || (u.Path != "" && u.Path != "/") {
		return "", false
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), true
}
