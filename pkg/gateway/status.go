package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/vibelab/vvbridge/pkg/instrument"
)

// asBool normalizes the automation layer's boolean-ish return values.
func asBool(v interface{}) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case int:
		return b != 0, nil
	case int16:
		return b != 0, nil
	case int32:
		return b != 0, nil
	case int64:
		return b != 0, nil
	case float64:
		return b != 0, nil
	default:
		return false, fmt.Errorf("unexpected boolean type %T", v)
	}
}

// asInt normalizes the automation layer's numeric return values.
func asInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int16:
		return int(n), nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("unexpected numeric type %T", v)
	}
}

// handleBoolProp serves one boolean status property read.
func (s *Server) handleBoolProp(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
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
		b, err := asBool(result)
		if err != nil {
			s.sendError(w, http.StatusBadGateway, "UNEXPECTED_RESULT", err.Error())
			return
		}
		s.sendData(w, map[string]interface{}{"result": b}, op+" query executed")
	}
}

// handleIntProp serves one integer property read.
func (s *Server) handleIntProp(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
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
		n, err := asInt(result)
		if err != nil {
			s.sendError(w, http.StatusBadGateway, "UNEXPECTED_RESULT", err.Error())
			return
		}
		s.sendData(w, map[string]interface{}{"result": n}, op+" query executed")
	}
}

// handleValueProp serves one property read whose value is passed through
// untouched (serial numbers, version strings).
func (s *Server) handleValueProp(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
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
		s.sendData(w, map[string]interface{}{"result": result}, op+" query executed")
	}
}

// statusSnapshot gathers the aggregate status block through one session. A
// failed individual read is reported in place of its value so one flaky
// property does not hide the rest.
func (s *Server) statusSnapshot(ctx context.Context, sess *instrument.Session) map[string]interface{} {
	snapshot := make(map[string]interface{})

	if v, err := sess.Invoke(ctx, "Status"); err != nil {
		snapshot["status"] = errValue(err)
	} else {
		snapshot["status"] = v
	}
	for _, op := range []string{"IsReady", "IsRunning", "IsAborted", "CanResumeTest"} {
		key := snakeCase(op)
		if v, err := sess.Invoke(ctx, op); err != nil {
			snapshot[key] = errValue(err)
		} else if b, err := asBool(v); err != nil {
			snapshot[key] = errValue(err)
		} else {
			snapshot[key] = b
		}
	}
	return snapshot
}

func errValue(err error) map[string]string {
	return map[string]string{"error": err.Error()}
}

// snakeCase converts an automation op name like CanResumeTest to
// can_resume_test for JSON keys.
func snakeCase(op string) string {
	var b strings.Builder
	for i, r := range op {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// handleStatus serves the aggregate status block.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess, err := s.acquire(r.Context())
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	defer sess.Close()

	s.sendData(w, s.statusSnapshot(r.Context(), sess), "status query executed")
}
