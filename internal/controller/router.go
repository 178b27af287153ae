package controller

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/unclebandit/gymcall-scheduler/internal/handler"
)

// NewRouter mounts the scheduling API.
func NewRouter(c *CampaignController, h *handler.CampaignHandler, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Post("/campaigns/schedule", c.ScheduleAll)
	r.Route("/campaigns/{id}", func(r chi.Router) {
		r.Get("/", h.GetCampaignHandler)
		r.Post("/schedule", c.ScheduleCampaign)
		r.Post("/pause", c.PauseCampaign)
		r.Post("/cancel", c.CancelCampaign)
	})
	r.Get("/jobs", h.ListJobsHandler)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		handler.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
