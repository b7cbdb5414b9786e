package api

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tasknode/internal/metrics"
)

// AdminTokenHeader carries the token guarding the admin routes
const AdminTokenHeader = "X-Admin-Token"

// SetupRouter creates and configures the HTTP router. Admin routes answer
// 403 when adminToken is empty. Task creation and hash reports must carry
// an account signature.
func SetupRouter(handler *Handler, adminToken string, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()

	// Apply middleware
	router.Use(loggingMiddleware(logger))
	router.Use(corsMiddleware())
	router.Use(recoveryMiddleware(logger))

	router.HandleFunc("/health", handler.HandleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	signed := accountMiddleware(time.Now, logger)

	// Tasks
	api.Handle("/tasks", signed(http.HandlerFunc(handler.HandleCreateTask))).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id:[0-9]+}", handler.HandleGetTask).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id:[0-9]+}/phase", handler.HandleGetTaskPhase).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id:[0-9]+}/result", handler.HandleGetTaskResult).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id:[0-9]+}/events", handler.HandleGetTaskEvents).Methods(http.MethodGet)

	// Phase submissions
	api.HandleFunc("/tasks/{id:[0-9]+}/signature", handler.HandleSubmitSignature).Methods(http.MethodPost)
	api.Handle("/tasks/{id:[0-9]+}/hash", signed(http.HandlerFunc(handler.HandleSubmitHash))).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id:[0-9]+}/result", handler.HandleSubmitResult).Methods(http.MethodPost)

	// Shards and networks
	api.HandleFunc("/shards/{id:[0-9]+}/tasks", handler.HandleGetShardTasks).Methods(http.MethodGet)
	api.HandleFunc("/networks/{network:[0-9]+}/gateway", handler.HandleGetGateway).Methods(http.MethodGet)
	api.HandleFunc("/networks/{network:[0-9]+}/queue", handler.HandleGetQueue).Methods(http.MethodGet)

	// Fee calculation
	api.HandleFunc("/fees/calculate", handler.HandleCalculateFee).Methods(http.MethodPost)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(adminMiddleware(adminToken, logger))
	admin.HandleFunc("/tasks", handler.HandleCreateShardTask).Methods(http.MethodPost)
	admin.HandleFunc("/gateways", handler.HandleRegisterGateway).Methods(http.MethodPost)
	admin.HandleFunc("/gateways/unregister", handler.HandleUnregisterGateways).Methods(http.MethodPost)
	admin.HandleFunc("/tasks/cancel", handler.HandleCancelTasks).Methods(http.MethodPost)
	admin.HandleFunc("/tasks/reset", handler.HandleResetTasks).Methods(http.MethodPost)
	admin.HandleFunc("/tasks/{id:[0-9]+}/cancel", handler.HandleCancelTask).Methods(http.MethodPost)
	admin.HandleFunc("/networks/{network:[0-9]+}/params", handler.HandleUpdateNetworkParams).Methods(http.MethodPut)

	return router
}

// ==================== Middleware ====================

// loggingMiddleware logs HTTP requests and tags each with a request id
func loggingMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", requestID)

			// Wrap response writer to capture status code
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			metrics.HTTPRequests.WithLabelValues(r.Method, strconv.Itoa(wrapped.statusCode)).Inc()
			logger.Info("HTTP request",
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// corsMiddleware adds CORS headers
func corsMiddleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+AdminTokenHeader)

			// Handle preflight requests
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// adminMiddleware rejects requests without the admin token
func adminMiddleware(token string, logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				respondError(w, http.StatusForbidden, "Admin API disabled", nil)
				return
			}
			given := r.Header.Get(AdminTokenHeader)
			if subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
				logger.Warn("Rejected admin request",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr))
				respondError(w, http.StatusUnauthorized, "Invalid admin token", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// recoveryMiddleware recovers from panics and logs them
func recoveryMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("Panic recovered",
						zap.Any("error", err),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
					)

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					w.Write([]byte(`{"error":"Internal server error","message":"An unexpected error occurred"}`))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
