package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// NewRouter mounts the REST API, the websocket endpoint and the
// operational routes. gatherer may be nil to skip /metrics.
func NewRouter(sessions *SessionHandler, ws *WSHandler, gatherer prometheus.Gatherer, log logrus.FieldLogger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/ws", ws.ServeWS)

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", sessions.Create)
		r.Get("/", sessions.List)
		r.Get("/pin/{pin}", sessions.GetByPin)
		r.Post("/join/{pin}", sessions.Join)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", sessions.Get)
			r.Put("/", sessions.Update)
			r.Delete("/", sessions.Delete)
			r.Put("/start", sessions.Start)
			r.Put("/finalize", sessions.Finalize)
			r.Put("/questions/{index}/conclude", sessions.Conclude)
			r.Post("/answers", sessions.Answer)
			r.Get("/ranking", sessions.Ranking)
			r.Get("/report", sessions.Report)
			r.Get("/questions", sessions.Questions)
			r.Get("/participants/{userId}", sessions.Progress)
		})
	})

	return r
}

// requestLogger logs one line per request through logrus.
func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
				"request_id": chimiddleware.GetReqID(r.Context()),
			}).Debug("http request")
		})
	}
}
