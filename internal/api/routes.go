package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *RESTServer) setupRoutesV1() {
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.HandleHealth)
		r.Get("/", s.HandleRoot)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", s.HandleLogin)
			r.Post("/refresh", s.HandleRefresh)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/device", func(r chi.Router) {
				r.Get("/", s.HandleGetDevice)
				r.Post("/join", s.HandleJoin)
				r.Post("/uplink", s.HandleUplink)
			})
			r.Get("/frames", s.HandleListFrames)
			r.Get("/gateway", s.HandleGetGateway)
			r.Get("/frequency-plans", s.HandleListFrequencyPlans)
			r.Get("/integration", s.HandleGetIntegration)
		})
	})
}
