// internal/api/router.go
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"bookrental/internal/admin"
	"bookrental/internal/api/render"
	"bookrental/internal/catalog"
	"bookrental/internal/circulation"
	"bookrental/internal/membership"
)

// Pinger reports whether the storage backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services are the engine services exposed over HTTP.
type Services struct {
	Catalog     catalog.Service
	Membership  membership.Service
	Circulation circulation.Service
	Admin       admin.Service
	Store       Pinger
}

// Option configures the router.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	limiter *rate.Limiter
	timeout time.Duration
}

// WithLogger logs every request at info level.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRateLimit rejects requests beyond perSecond with 429. Zero disables it.
func WithRateLimit(perSecond float64) Option {
	return func(o *options) {
		if perSecond <= 0 {
			o.limiter = nil
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithTimeout bounds the time a request may spend in the engine.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// NewRouter wires every handler under /api/v1.
func NewRouter(svc Services, opts ...Option) http.Handler {
	o := options{logger: zap.NewNop(), timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(o.logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", health(svc.Store))
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		render.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		if o.limiter != nil {
			r.Use(rateLimit(o.limiter))
		}
		if o.timeout > 0 {
			r.Use(middleware.Timeout(o.timeout))
		}

		books := catalog.NewHandler(svc.Catalog)
		r.Route("/books", books.BookRoutes)
		r.Route("/genres", books.GenreRoutes)
		r.Route("/customers", membership.NewHandler(svc.Membership).Routes)
		r.Route("/orders", circulation.NewHandler(svc.Circulation).Routes)
		r.Route("/admin", admin.NewHandler(svc.Admin).Routes)
	})
	return r
}

func health(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			render.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
		render.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func rateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				render.Message(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
