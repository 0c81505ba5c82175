package gateway

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/vibelab/vvbridge/pkg/profiles"
)

// testNameParam extracts a profile name from the request: the named query
// parameter if present, otherwise the whole decoded query string. The latter
// keeps URLs like /api/opentest?test1.vsp working.
func testNameParam(r *http.Request, name string) string {
	if v := r.URL.Query().Get(name); v != "" {
		return v
	}
	if r.URL.RawQuery == "" {
		return ""
	}
	decoded, err := url.QueryUnescape(r.URL.RawQuery)
	if err != nil {
		return r.URL.RawQuery
	}
	return decoded
}

// resolveProfile maps a profile name onto a full path inside the configured
// profile folder.
func (s *Server) resolveProfile(w http.ResponseWriter, name string) (string, bool) {
	if s.catalog == nil {
		s.sendError(w, http.StatusNotImplemented, "PROFILES_UNCONFIGURED", "no profile folder configured")
		return "", false
	}
	path, err := s.catalog.Resolve(name)
	switch {
	case errors.Is(err, profiles.ErrNotFound):
		s.sendError(w, http.StatusNotFound, "PROFILE_NOT_FOUND", err.Error())
		return "", false
	case errors.Is(err, profiles.ErrInvalidName):
		s.sendError(w, http.StatusBadRequest, "INVALID_PROFILE_NAME", err.Error())
		return "", false
	case err != nil:
		s.sendError(w, http.StatusInternalServerError, "PROFILE_ERROR", err.Error())
		return "", false
	}
	return path, true
}

func (s *Server) handleStartTest(w http.ResponseWriter, r *http.Request) {
	sess, err := s.acquire(r.Context())
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	defer sess.Close()

	result, err := sess.Invoke(r.Context(), "StartTest")
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	running, _ := sess.Invoke(r.Context(), "IsRunning")
	b, _ := asBool(running)
	s.sendData(w, map[string]interface{}{
		"result":  result,
		"running": b,
	}, "StartTest command executed")
}

func (s *Server) handleStopTest(w http.ResponseWriter, r *http.Request) {
	s.invokeControl(w, r, "StopTest")
}

func (s *Server) handleResumeTest(w http.ResponseWriter, r *http.Request) {
	s.invokeControl(w, r, "ResumeTest")
}

// invokeControl runs one argument-less control operation through a session.
func (s *Server) invokeControl(w http.ResponseWriter, r *http.Request, op string) {
	sess, err := s.acquire(r.Context())
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	defer sess.Close()

	result, err := sess.Invoke(r.Context(), op)
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendData(w, map[string]interface{}{"result": result}, op+" command executed")
}

// handleRunTest opens and starts a profile in one operation. Without a test
// name it degrades to a running-status probe.
func (s *Server) handleRunTest(w http.ResponseWriter, r *http.Request) {
	name := testNameParam(r, "testname")
	if name == "" {
		s.handleBoolProp("IsRunning")(w, r)
		return
	}
	path, ok := s.resolveProfile(w, name)
	if !ok {
		return
	}

	sess, err := s.acquire(r.Context())
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	defer sess.Close()

	if _, err := sess.Invoke(r.Context(), "RunTest", path); err != nil {
		s.sendFailure(w, err)
		return
	}
	running, err := sess.Invoke(r.Context(), "IsRunning")
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	b, err := asBool(running)
	if err != nil {
		s.sendError(w, http.StatusBadGateway, "UNEXPECTED_RESULT", err.Error())
		return
	}
	s.sendData(w, map[string]interface{}{
		"test":    name,
		"running": b,
	}, "RunTest command executed")
}

func (s *Server) handleOpenTest(w http.ResponseWriter, r *http.Request) {
	name := testNameParam(r, "testname")
	if name == "" {
		s.sendError(w, http.StatusBadRequest, "MISSING_PARAMETER", "missing query parameter: testname")
		return
	}
	path, ok := s.resolveProfile(w, name)
	if !ok {
		return
	}

	sess, err := s.acquire(r.Context())
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	defer sess.Close()

	result, err := sess.Invoke(r.Context(), "OpenTest", path)
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendData(w, map[string]interface{}{
		"result": result,
		"test":   name,
	}, "OpenTest command executed")
}

func (s *Server) handleCloseTest(w http.ResponseWriter, r *http.Request) {
	name := testNameParam(r, "profilename")
	if name == "" {
		s.sendError(w, http.StatusBadRequest, "MISSING_PARAMETER", "missing query parameter: profilename")
		return
	}

	sess, err := s.acquire(r.Context())
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	defer sess.Close()

	result, err := sess.Invoke(r.Context(), "CloseTest", name)
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	closed, err := asBool(result)
	if err != nil {
		s.sendError(w, http.StatusBadGateway, "UNEXPECTED_RESULT", err.Error())
		return
	}
	s.sendData(w, map[string]interface{}{
		"closed": closed,
		"test":   name,
	}, "CloseTest command executed")
}
