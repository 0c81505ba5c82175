package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/xeipuuv/gojsonschema"

	"github.com/vibelab/vvbridge/pkg/instrument"
	"github.com/vibelab/vvbridge/pkg/report"
)

// reportFieldsSchema validates the /api/reportfields request body.
const reportFieldsSchema = `{
	"type": "object",
	"required": ["fields"],
	"properties": {
		"fields": {
			"type": "array",
			"minItems": 1,
			"items": {"type": "string", "minLength": 1}
		},
		"channel": {"type": ["string", "integer"]},
		"loop": {"type": ["string", "integer"]}
	}
}`

var reportFieldsLoader = gojsonschema.NewStringLoader(reportFieldsSchema)

// fieldInvoker adapts a session to the resolver: every concrete field name
// becomes one ReportField call.
type fieldInvoker struct {
	sess *instrument.Session
}

func (f fieldInvoker) Invoke(ctx context.Context, field string, _ ...interface{}) (interface{}, error) {
	return f.sess.Invoke(ctx, "ReportField", field)
}

// sessionLister answers "all" selectors with a live hardware query on the
// same session the fields are read through.
type sessionLister struct {
	sess *instrument.Session
}

func (l sessionLister) InputChannels(ctx context.Context) (int, error) {
	v, err := l.sess.Invoke(ctx, "GetHardwareInputChannels")
	if err != nil {
		return 0, err
	}
	return asInt(v)
}

func (l sessionLister) OutputLoops(ctx context.Context) (int, error) {
	v, err := l.sess.Invoke(ctx, "GetHardwareOutputChannels")
	if err != nil {
		return 0, err
	}
	return asInt(v)
}

func (s *Server) handleReportField(w http.ResponseWriter, r *http.Request) {
	field := testNameParam(r, "field")
	if field == "" {
		s.sendError(w, http.StatusBadRequest, "MISSING_PARAMETER", "missing query parameter: field")
		return
	}

	sess, err := s.acquire(r.Context())
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	defer sess.Close()

	result, err := sess.Invoke(r.Context(), "ReportField", field)
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendData(w, map[string]interface{}{
		"field":  field,
		"result": result,
	}, "ReportField executed for field: "+field)
}

type reportFieldsRequest struct {
	Fields  []string    `json:"fields"`
	Channel interface{} `json:"channel"`
	Loop    interface{} `json:"loop"`
}

// handleReportFields resolves a bulk field request: each logical field is
// expanded over the channel/loop selectors and read through one session.
// URL selector parameters override the body's.
func (s *Server) handleReportFields(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "INVALID_BODY", "failed to read request body")
		return
	}

	docLoader := gojsonschema.NewBytesLoader(body)
	validation, err := gojsonschema.Validate(reportFieldsLoader, docLoader)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "INVALID_BODY", "request body is not valid JSON")
		return
	}
	if !validation.Valid() {
		msg := ""
		for i, verr := range validation.Errors() {
			if i > 0 {
				msg += "; "
			}
			msg += verr.String()
		}
		s.sendError(w, http.StatusBadRequest, "INVALID_PARAMETER", msg)
		return
	}

	var req reportFieldsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	channel, err := selectorParam(r, "channel", req.Channel)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "INVALID_PARAMETER", err.Error())
		return
	}
	loop, err := selectorParam(r, "loop", req.Loop)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "INVALID_PARAMETER", err.Error())
		return
	}

	queries := make([]report.Query, 0, len(req.Fields))
	for _, field := range req.Fields {
		queries = append(queries, report.Query{Field: field, Channel: channel, Loop: loop})
	}

	sess, err := s.acquire(r.Context())
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	defer sess.Close()

	results, err := report.Collect(r.Context(), fieldInvoker{sess}, sessionLister{sess}, queries)
	if err != nil {
		s.sendFailure(w, err)
		return
	}

	operations, failures := 0, 0
	for _, fr := range results {
		operations += len(fr.Entries)
		failures += fr.Errors
	}
	message := "ReportFields executed"
	if failures > 0 {
		message = fmt.Sprintf("ReportFields executed with %d failures out of %d operations", failures, operations)
	}
	s.sendData(w, map[string]interface{}{
		"results": results,
		"summary": map[string]int{
			"fields":     len(results),
			"operations": operations,
			"errors":     failures,
		},
	}, message)
}

// selectorParam resolves a channel/loop selector: the URL parameter wins over
// the body value, which may be a JSON string or number.
func selectorParam(r *http.Request, name string, bodyValue interface{}) (report.Selector, error) {
	if v := r.URL.Query().Get(name); v != "" {
		return report.ParseSelector(v)
	}
	switch v := bodyValue.(type) {
	case nil:
		return report.Selector{}, nil
	case string:
		return report.ParseSelector(v)
	case float64:
		if v < 1 || v != float64(int(v)) {
			return report.Selector{}, fmt.Errorf("parameter %q must be a positive integer or \"all\"", name)
		}
		return report.Selector{Index: int(v)}, nil
	default:
		return report.Selector{}, fmt.Errorf("parameter %q must be a positive integer or \"all\"", name)
	}
}

func (s *Server) handleReportVector(w http.ResponseWriter, r *http.Request) {
	vectors := testNameParam(r, "vectors")
	if vectors == "" {
		s.sendError(w, http.StatusBadRequest, "MISSING_PARAMETER", "missing query parameter: vectors")
		return
	}

	sess, err := s.acquire(r.Context())
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	defer sess.Close()

	result, err := sess.Invoke(r.Context(), "ReportVector", vectors)
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendData(w, map[string]interface{}{
		"vectors": vectors,
		"result":  result,
	}, "ReportVector executed for: "+vectors)
}
