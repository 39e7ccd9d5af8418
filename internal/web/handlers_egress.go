package web

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/helios/internal/core"
)

// entityOps binds the service calls of one egress entity kind.
type entityOps[T any] struct {
	create func(context.Context, T) (*T, error)
	get    func(context.Context, string) (*T, error)
	list   func(context.Context, core.Page) ([]T, error)
	update func(context.Context, string, T) (*T, error)
}

// entityRoutes mounts list/create on "/" and get/update/delete on "/{id}".
// Deletes go through the referential guard.
func entityRoutes[T any](s *Server, e core.Entity, ops entityOps[T]) func(chi.Router) {
	return func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			page, err := parsePage(r)
			if err != nil {
				respondError(w, r, err)
				return
			}
			items, err := ops.list(r.Context(), page)
			if err != nil {
				respondError(w, r, err)
				return
			}
			if items == nil {
				items = []T{}
			}
			writeJSON(w, http.StatusOK, items)
		})

		r.Post("/", func(w http.ResponseWriter, r *http.Request) {
			var in T
			if err := decodeJSON(w, r, s.cfg.Ingest.MaxBodySize, &in); err != nil {
				respondError(w, r, err)
				return
			}
			out, err := ops.create(r.Context(), in)
			if err != nil {
				respondError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, out)
		})

		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			out, err := ops.get(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				respondError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, out)
		})

		r.Put("/{id}", func(w http.ResponseWriter, r *http.Request) {
			var in T
			if err := decodeJSON(w, r, s.cfg.Ingest.MaxBodySize, &in); err != nil {
				respondError(w, r, err)
				return
			}
			out, err := ops.update(r.Context(), chi.URLParam(r, "id"), in)
			if err != nil {
				respondError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, out)
		})

		r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
			if err := s.service.Delete(r.Context(), e, chi.URLParam(r, "id")); err != nil {
				respondError(w, r, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

// handleBundles returns every configuration bundle, or only enabled ones.
func (s *Server) handleBundles(enabledOnly bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bundles, err := s.service.Bundles(r.Context(), enabledOnly)
		if err != nil {
			respondError(w, r, err)
			return
		}
		if bundles == nil {
			bundles = []core.Bundle{}
		}
		writeJSON(w, http.StatusOK, bundles)
	}
}

// handleBundle returns the bundle of one configuration.
func (s *Server) handleBundle(w http.ResponseWriter, r *http.Request) {
	bundle, err := s.service.Bundle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

func parsePage(r *http.Request) (core.Page, error) {
	skip, err := intParam(r, "skip", 0)
	if err != nil {
		return core.Page{}, err
	}
	limit, err := intParam(r, "limit", core.DefaultPageLimit)
	if err != nil {
		return core.Page{}, err
	}
	return core.Page{Skip: skip, Limit: limit}, nil
}
