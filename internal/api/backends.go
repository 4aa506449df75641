package api

import "net/http"

type backendInfo struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

func (s *Server) handleListBackends(w http.ResponseWriter, _ *http.Request) {
	active := s.bridge.Status().Backend.Name

	names := s.registry.Names()
	backends := make([]backendInfo, len(names))
	for i, name := range names {
		backends[i] = backendInfo{Name: name, Active: name == active}
	}
	s.writeJSON(w, http.StatusOK, backends)
}
