package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/cuemby/cord/pkg/protocol"
	"github.com/cuemby/cord/pkg/storage"
	"github.com/cuemby/cord/pkg/types"
)

const maxRESTBody = 16 << 20

// errorBody is the JSON body of a failed REST call
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	code := protocol.CodeFor(err)
	status := http.StatusInternalServerError
	if code != protocol.CodeInternal {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}

// queryFromRequest builds a Query from orderBy, limitToLast, startAt,
// endAt and equalTo URL parameters
func queryFromRequest(r *http.Request) (types.Query, error) {
	var q types.Query
	values := r.URL.Query()

	q.OrderBy = values.Get("orderBy")
	if v := values.Get("limitToLast"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return q, fmt.Errorf("%w: limitToLast must be a non-negative integer", types.ErrInvalidPayload)
		}
		q.LimitToLast = n
	}
	if values.Has("startAt") {
		q.StartAt = types.Bound(values.Get("startAt"))
	}
	if values.Has("endAt") {
		q.EndAt = types.Bound(values.Get("endAt"))
	}
	if values.Has("equalTo") {
		q.EqualTo = types.Bound(values.Get("equalTo"))
	}
	return q, nil
}

func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRESTBody))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read body: %v", types.ErrInvalidPayload, err)
	}
	return data, nil
}

// valuePayload checks that body is a {"value": ...} envelope. An explicit
// null value is kept; a missing one is rejected so an empty body cannot
// clear the path.
func valuePayload(body []byte) (json.RawMessage, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil || envelope == nil {
		return nil, fmt.Errorf("%w: body must be a JSON object with a value field", types.ErrInvalidPayload)
	}
	raw, ok := envelope["value"]
	if !ok {
		return nil, fmt.Errorf("%w: missing value", types.ErrInvalidPayload)
	}

	var p protocol.WritePayload
	if err := json.Unmarshal(raw, &p.Value); err != nil {
		if errors.Is(err, types.ErrInvalidPayload) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidPayload, err)
	}
	return json.Marshal(p)
}

func (s *Server) restCall(w http.ResponseWriter, op protocol.Operation, path string, payload json.RawMessage) {
	result, err := s.execute(s.logger, op, types.NormalizePath(path), payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) restRead(w http.ResponseWriter, r *http.Request) {
	q, err := queryFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	payload, _ := json.Marshal(protocol.ReadPayload{Query: q})
	s.restCall(w, protocol.OpRead, r.URL.Query().Get("path"), payload)
}

func (s *Server) restWrite(w http.ResponseWriter, r *http.Request) {
	s.restValue(w, r, protocol.OpWrite)
}

func (s *Server) restMerge(w http.ResponseWriter, r *http.Request) {
	s.restValue(w, r, protocol.OpMerge)
}

func (s *Server) restValue(w http.ResponseWriter, r *http.Request, op protocol.Operation) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	payload, err := valuePayload(body)
	if err != nil {
		writeError(w, err)
		return
	}
	s.restCall(w, op, r.URL.Query().Get("path"), payload)
}

func (s *Server) restDelete(w http.ResponseWriter, r *http.Request) {
	s.restCall(w, protocol.OpDelete, r.URL.Query().Get("path"), nil)
}

func (s *Server) restBatch(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s.restCall(w, protocol.OpBatch, types.RootPath, body)
}

func (s *Server) restIdentity(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s.restCall(w, protocol.OpIdentity, types.RootPath, body)
}

func (s *Server) restLog(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, fmt.Errorf("%w: limit must be a non-negative integer", types.ErrInvalidPayload))
			return
		}
		limit = n
	}

	entries, err := s.manager.RequestLog(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []*storage.RequestLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
