package gateway

import "net/http"

// handleProfiles lists the test profiles available in the configured folder.
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		s.sendError(w, http.StatusNotImplemented, "PROFILES_UNCONFIGURED", "no profile folder configured")
		return
	}
	list := s.catalog.List()
	s.sendData(w, map[string]interface{}{
		"profiles": list,
		"count":    len(list),
	}, "")
}
