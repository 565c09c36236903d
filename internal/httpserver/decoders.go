package httpserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/render"

	"ttlpaste/internal/paste"
)

const multipartMemory = 1 << 20

// bodyLimit bounds the raw request body. Encodings can inflate content up to
// six bytes per input byte (JSON \u escapes), plus room for the other fields.
func (s *Server) bodyLimit() int64 {
	return int64(s.maxBytes)*6 + 4096
}

func isJSONRequest(r *http.Request) bool {
	return render.GetRequestContentType(r) == render.ContentTypeJSON
}

// decodeJSON reads {content, ttl_seconds, max_views}. The numeric options may
// be JSON numbers or numeric strings; null and "" mean absent.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request) (paste.CreateRequest, error) {
	var req paste.CreateRequest
	r.Body = http.MaxBytesReader(w, r.Body, s.bodyLimit())

	var raw map[string]json.RawMessage
	if err := render.DecodeJSON(r.Body, &raw); err != nil {
		return req, s.bodyError(err)
	}

	if v, ok := raw["content"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &req.Content); err != nil {
			return req, &paste.InvalidArgumentError{Field: "content", Reason: "must be a string"}
		}
	}

	var err error
	if req.TTLSeconds, err = jsonOptionalInt("ttl_seconds", raw["ttl_seconds"]); err != nil {
		return req, err
	}
	if req.MaxViews, err = jsonOptionalInt("max_views", raw["max_views"]); err != nil {
		return req, err
	}
	return req, nil
}

func (s *Server) decodeForm(w http.ResponseWriter, r *http.Request) (paste.CreateRequest, error) {
	var req paste.CreateRequest
	r.Body = http.MaxBytesReader(w, r.Body, s.bodyLimit())

	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		err = r.ParseMultipartForm(multipartMemory)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		return req, s.bodyError(err)
	}

	req.Content = r.PostFormValue("content")
	if req.TTLSeconds, err = paste.ParseOptionalInt("ttl_seconds", r.PostFormValue("ttl_seconds")); err != nil {
		return req, err
	}
	if req.MaxViews, err = paste.ParseOptionalInt("max_views", r.PostFormValue("max_views")); err != nil {
		return req, err
	}
	return req, nil
}

func (s *Server) bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return &paste.InvalidArgumentError{Field: "content", Reason: fmt.Sprintf("exceeds %d byte limit", s.maxBytes)}
	case errors.Is(err, io.EOF):
		return &paste.InvalidArgumentError{Field: "body", Reason: "request body is empty"}
	default:
		return &paste.InvalidArgumentError{Field: "body", Reason: "malformed request body"}
	}
}

func jsonOptionalInt(field string, v json.RawMessage) (*int64, error) {
	if len(v) == 0 || isNull(v) {
		return nil, nil
	}
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, &paste.InvalidArgumentError{Field: field, Reason: "must be a non-negative integer"}
		}
		return paste.ParseOptionalInt(field, s)
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err != nil {
		return nil, &paste.InvalidArgumentError{Field: field, Reason: "must be a non-negative integer"}
	}
	i, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return nil, &paste.InvalidArgumentError{Field: field, Reason: "must be a non-negative integer"}
	}
	return &i, nil
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
