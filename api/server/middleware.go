package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/vita3k/v3kn/api/server/handlers"
	"github.com/vita3k/v3kn/api/services"
	"github.com/vita3k/v3kn/internal/adapters/metrics"
	"github.com/vita3k/v3kn/pkg/otel"
)

// RequestGate lets the release watchdog drain traffic before swapping
// the binary. Gated handlers hold the read side for the length of a
// request; Quiesce takes the write side and returns once every
// in-flight gated request has finished. The long-poll routes stay
// outside the gate so a pending update never waits on a 30-second
// park.
type RequestGate struct {
	mu sync.RWMutex
}

func NewRequestGate() *RequestGate {
	return &RequestGate{}
}

// Quiesce blocks new gated requests and waits out in-flight ones. It
// is not released; the process is expected to exec the update script
// and exit.
func (g *RequestGate) Quiesce() {
	g.mu.Lock()
}

// Gate serialises the wrapped routes against Quiesce.
func Gate(g *RequestGate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.mu.RLock()
			defer g.mu.RUnlock()
			next.ServeHTTP(w, r)
		})
	}
}

// Auth resolves the bearer token and puts the account NPID in the
// request context. create and login are mounted outside this.
func Auth(accounts *services.AccountService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			npid, err := accounts.Authenticate(token)
			if err != nil {
				handlers.WriteErr(w, r, err)
				return
			}
			ctx := handlers.SetNPIDInContext(r.Context(), npid)
			ctx = otel.WithNPID(ctx, npid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

const requestIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// RequestID tags each request with a short id for traces and the
// X-Request-ID response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := gonanoid.Generate(requestIDAlphabet, 12)
		if err != nil {
			id = "unknown"
		}
		w.Header().Set("X-Request-ID", id)
		ctx := otel.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AccessLog writes one line per request. Console traffic is skipped:
// the Vita3K client polls every few seconds and would drown the log.
// Cloudflare headers win over the socket peer when present.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		ua := r.Header.Get("User-Agent")
		if strings.Contains(ua, "Vita3K") {
			return
		}

		country := r.Header.Get("CF-IPCountry")
		if country == "" {
			country = "XX"
		}
		addr := r.Header.Get("CF-Connecting-IP")
		if addr == "" {
			addr = r.RemoteAddr
		}

		msg := fmt.Sprintf("%s %s from [%s] %s", r.Method, r.URL.Path, country, addr)
		if ua != "" {
			slog.Info(msg, "status", sw.status, "duration", time.Since(start), "ua", ua)
		} else {
			slog.Info(msg, "status", sw.status, "duration", time.Since(start))
		}
	})
}

// Metrics records the request counter and duration histogram, labeled
// by route pattern so path cardinality stays bounded.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(sw.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic recovered", "error", err, "method", r.Method, "path", r.URL.Path)
				http.Error(w, "ERR:Internal", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
