package api

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	qrcode "github.com/skip2/go-qrcode"
)

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	instances, err := s.instances.FetchInstances(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, instances)
}

type createInstanceReq struct {
	Name string `json:"name" validate:"required"`
}

func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var req createInstanceReq
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	info, err := s.instances.CreateInstance(r.Context(), req.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, info)
}

// handleInstanceQR serves the pairing QR as a PNG. The gateway returns
// either a ready-made image or a pairing code to render locally.
func (s *Server) handleInstanceQR(w http.ResponseWriter, r *http.Request) {
	pairing, err := s.instances.ConnectInstance(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	var png []byte
	switch {
	case pairing.Base64 != "":
		raw := pairing.Base64
		if idx := strings.Index(raw, ","); idx >= 0 && strings.HasPrefix(raw, "data:") {
			raw = raw[idx+1:]
		}
		png, err = base64.StdEncoding.DecodeString(raw)
		if err != nil {
			s.writeError(w, err)
			return
		}
	case pairing.Code != "":
		png, err = qrcode.Encode(pairing.Code, qrcode.Medium, 512)
		if err != nil {
			s.writeError(w, err)
			return
		}
	default:
		s.writeJSON(w, http.StatusNotFound, apiError{Error: "no pairing material available, instance may already be connected"})
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func (s *Server) handleInstanceState(w http.ResponseWriter, r *http.Request) {
	state, err := s.instances.ConnectionState(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"state": state})
}

func (s *Server) handleRestartInstance(w http.ResponseWriter, r *http.Request) {
	s.command(w, s.instances.RestartInstance(r.Context(), chi.URLParam(r, "name")))
}

func (s *Server) handleLogoutInstance(w http.ResponseWriter, r *http.Request) {
	s.command(w, s.instances.LogoutInstance(r.Context(), chi.URLParam(r, "name")))
}

func (s *Server) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	s.command(w, s.instances.DeleteInstance(r.Context(), chi.URLParam(r, "name")))
}

func (s *Server) handleGetPreferred(w http.ResponseWriter, _ *http.Request) {
	id, name := s.prefs.Preferred()
	s.writeJSON(w, http.StatusOK, map[string]string{"id": id, "name": name})
}

type setPreferredReq struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name" validate:"required"`
}

func (s *Server) handleSetPreferred(w http.ResponseWriter, r *http.Request) {
	var req setPreferredReq
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	s.command(w, s.prefs.SetPreferred(req.ID, req.Name))
}
