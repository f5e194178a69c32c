// Package httpapi exposes one session over a JSON HTTP API.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(accessLog(h.log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { writeSuccess(w, http.StatusOK, "ok") })

	r.Route("/session", func(r chi.Router) {
		r.Get("/", h.getSession)
		r.Put("/", h.openSession)
		r.Delete("/", h.closeSession)
		r.Post("/reload", h.reloadSession)
		r.Post("/actions/{op}", h.contractAction)
		r.Post("/milestones/{index}/evidence", h.submitEvidence)
		r.Post("/milestones/{index}/{op}", h.milestoneAction)
	})
	r.Route("/escrows", func(r chi.Router) {
		r.Get("/", h.listEscrows)
		r.Post("/", h.createEscrow)
	})
	r.Route("/evidence", func(r chi.Router) {
		r.Post("/", h.putEvidence)
		r.Get("/{cid}", h.getEvidence)
	})
	return r
}
