package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"conify/internal/common"
	"conify/internal/config"
	"conify/internal/media"
)

// NewRouter assembles the public HTTP surface. Everything under /api/v1
// requires a credential; /ws resolves its own and falls back to anonymous.
func NewRouter(
	cfg *config.Config,
	resolver common.IdentityResolver,
	chat *ChatHandler,
	mediaServer *media.HTTPServer,
	gateway http.Handler,
	gatherer prometheus.Gatherer,
	log *zap.Logger,
) *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware(cfg.Realtime.AllowedOrigins))
	router.Use(loggingMiddleware(log.Named("http")))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		common.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.Handle("/ws", gateway)
	mediaServer.RegisterPublic(router)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(common.HTTPAuthMiddleware(resolver, cfg.Auth.CookieName))
	chat.Register(api)
	mediaServer.RegisterUpload(api)

	return router
}

// corsMiddleware allows any origin unless an allow-list is configured.
func corsMiddleware(allowed []string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := allowedOrigin(allowed, r.Header.Get("Origin")); origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// allowedOrigin returns the origin to reflect. Without an allow list no
// cross-origin caller is granted credentials.
func allowedOrigin(allowed []string, origin string) string {
	if origin == "" || len(allowed) == 0 {
		return ""
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return origin
		}
	}
	return ""
}

// loggingMiddleware does not wrap the ResponseWriter, so /ws can still hijack it.
func loggingMiddleware(log *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("took", time.Since(start)),
			)
		})
	}
}
