package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/vibelab/vvbridge/pkg/instrument"
)

// Response is the wire envelope shared by every JSON endpoint.
type Response struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorInfo carries a machine-readable code alongside the human message.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (s *Server) sendData(w http.ResponseWriter, data interface{}, message string) {
	s.sendJSON(w, http.StatusOK, Response{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Server) sendError(w http.ResponseWriter, status int, code, message string) {
	s.sendJSON(w, status, Response{
		Success:   false,
		Error:     &ErrorInfo{Code: code, Message: message},
		Timestamp: time.Now().UTC(),
	})
}

// sendFailure maps a pool or instrument error onto the HTTP surface. Caller
// mistakes surface as 400; a saturated or closing pool as 503; everything the
// instrument side got wrong as 502, since the bridge itself is healthy.
func (s *Server) sendFailure(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	s.sendError(w, status, code, err.Error())
}

func classifyError(err error) (int, string) {
	if errors.Is(err, instrument.ErrPoolExhausted) {
		return http.StatusServiceUnavailable, "POOL_EXHAUSTED"
	}
	if errors.Is(err, instrument.ErrPoolClosed) {
		return http.StatusServiceUnavailable, "SHUTTING_DOWN"
	}
	var ue *instrument.UnavailableError
	if errors.As(err, &ue) {
		return http.StatusBadGateway, "INSTRUMENT_UNAVAILABLE"
	}
	switch instrument.KindOf(err) {
	case instrument.KindInvalidArgument:
		return http.StatusBadRequest, "INVALID_ARGUMENT"
	case instrument.KindConnect, instrument.KindVerify:
		return http.StatusBadGateway, "INSTRUMENT_UNAVAILABLE"
	case instrument.KindFatal:
		return http.StatusBadGateway, "INSTRUMENT_FAULT"
	default:
		return http.StatusBadGateway, "INSTRUMENT_ERROR"
	}
}
