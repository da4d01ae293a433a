package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatd/internal/artifact"
	"chatd/internal/device"
	"chatd/internal/engine"
	"chatd/internal/gate"
	"chatd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	// Generate starts a streaming generation for the WebSocket surface.
	Generate(ctx context.Context, message string, s types.Settings) (*engine.Stream, func(), error)
	// Chat runs a generation to completion for the REST surface.
	Chat(ctx context.Context, req types.ChatRequest) (types.ChatResponse, error)
	Health() types.HealthResponse
	ModelInfo() types.ModelInfoResponse
	Status() types.StatusResponse
	Ready() bool
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints; WebSocket upgrades pass through untouched.
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	health := func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Health())
	}
	r.Get("/health", health)
	r.Get("/api/health", health)

	r.Get("/api/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})

	r.Get("/api/model/info", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.ModelInfo())
	})

	r.Post("/api/chat", func(w http.ResponseWriter, r *http.Request) { handleChat(svc, w, r) })

	r.Get("/ws/chat/{clientID}", func(w http.ResponseWriter, r *http.Request) { handleWS(svc, w, r) })
	r.Get("/ws/chat", func(w http.ResponseWriter, r *http.Request) { handleWS(svc, w, r) })

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

// handleChat serves POST /api/chat: one blocking generation per request.
// @Summary      Chat
// @Description  Generates a complete reply for one message.
// @Accept       json
// @Produce      json
// @Param        request body types.ChatRequest true "chat request"
// @Success      200 {object} types.ChatResponse
// @Failure      400 {object} types.ErrorResponse
// @Failure      429 {object} types.ErrorResponse
// @Failure      503 {object} types.ErrorResponse
// @Router       /api/chat [post]
func handleChat(svc Service, w http.ResponseWriter, r *http.Request) {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req types.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSONError(w, http.StatusBadRequest, "message is required")
		return
	}

	lvl := requestLogLevel(r)
	start := time.Now()
	if lvl >= LevelInfo && zlog != nil {
		z := zlog.Info().Str("path", r.URL.Path)
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			z = z.Str("request_id", rid)
		}
		z.Msg("chat start")
	}

	// Join server base context with request context so shutdown cancels work too.
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	resp, err := svc.Chat(ctx, req)
	if err != nil {
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			return
		}
		status := chatErrorStatus(err)
		if status == http.StatusTooManyRequests {
			IncrementBackpressure("admission")
		}
		writeJSONError(w, status, err.Error())
		if lvl >= LevelInfo && zlog != nil {
			z := zlog.Info().Int("status", status).Dur("dur", time.Since(start))
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				z = z.Str("request_id", rid)
			}
			z.Err(err).Msg("chat end")
		}
		return
	}
	ObserveGeneration(resp.TokensGenerated, resp.InferenceTime)
	writeJSON(w, http.StatusOK, resp)
	if lvl >= LevelInfo && zlog != nil {
		z := zlog.Info().Int("status", http.StatusOK).Dur("dur", time.Since(start)).Int("tokens", resp.TokensGenerated)
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			z = z.Str("request_id", rid)
		}
		z.Msg("chat end")
	}
}

// chatErrorStatus maps well-known service errors to HTTP status codes.
func chatErrorStatus(err error) int {
	switch {
	case engine.IsInvalidSettings(err):
		return http.StatusBadRequest
	case gate.IsBusy(err):
		return http.StatusTooManyRequests
	case artifact.IsUnavailable(err), device.IsNoDevice(err), engine.IsUnavailable(err):
		return http.StatusServiceUnavailable
	}
	if he, ok := err.(HTTPError); ok {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}
