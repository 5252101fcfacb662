package web

import (
	"io"
	"net/http"

	"github.com/mtzanidakis/sminos/internal/toolkit"
)

func (s *Server) getProfileToolkit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, err := s.registry.Get(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if p == nil {
		jsonError(w, "profile not found", http.StatusNotFound)
		return
	}

	tkJSON, err := s.store.GetProfileToolkit(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(tkJSON))
}

func (s *Server) updateProfileToolkit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, err := s.registry.Get(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if p == nil {
		jsonError(w, "profile not found", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		jsonError(w, "read body failed", http.StatusBadRequest)
		return
	}

	// Parse and validate before touching the store
	tk, err := toolkit.Parse(string(body))
	if err != nil {
		jsonError(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := tk.Validate(); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.SetProfileToolkit(id, string(body)); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	jsonResponse(w, map[string]string{"status": "saved"})
}
