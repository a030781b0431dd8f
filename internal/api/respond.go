package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-kit/log/level"

	"taskflow/pkg/fault"
)

// maxFormMemory bounds how much of a multipart body is held in memory;
// the rest spills to temporary files.
const maxFormMemory = 32 << 20

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// writeJSON writes v with status. The header is already sent when encoding
// fails, so the error is only logged.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		level.Warn(s.logger).Log("msg", "write json", "status", status, "err", err)
	}
}

func (s *Server) writeData(w http.ResponseWriter, status int, data any) {
	s.writeJSON(w, status, envelope{Success: true, Data: data})
}

func (s *Server) writeMessage(w http.ResponseWriter, status int, success bool, msg string) {
	s.writeJSON(w, status, envelope{Success: success, Message: msg})
}

// writeFault maps err onto the response. Server-side failures are logged
// with their cause and answered with a generic message.
func (s *Server) writeFault(w http.ResponseWriter, r *http.Request, err error) {
	status := fault.KindOf(err).Status()
	if status >= http.StatusInternalServerError {
		level.Error(s.logger).Log("msg", "request failed", "method", r.Method, "path", r.URL.Path,
			"err", err, "request_id", middleware.GetReqID(r.Context()))
	}
	s.writeMessage(w, status, false, fault.PublicMessage(err))
}

// form is the union of the request's body fields, whatever their encoding.
type form map[string]string

func (f form) get(key string) string { return strings.TrimSpace(f[key]) }

// readForm parses a urlencoded, multipart or JSON body.
func readForm(r *http.Request) (form, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "application/json":
		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			if isTooLarge(err) {
				return nil, tooLarge()
			}
			return nil, fault.Wrap(fault.Validation, "Invalid JSON body", err)
		}
		f := form{}
		for k, v := range raw {
			switch v := v.(type) {
			case nil:
			case string:
				f[k] = v
			case float64:
				f[k] = strconv.FormatFloat(v, 'f', -1, 64)
			default:
				f[k] = fmt.Sprint(v)
			}
		}
		return f, nil
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxFormMemory); err != nil {
			if isTooLarge(err) {
				return nil, tooLarge()
			}
			return nil, fault.Wrap(fault.Validation, "Invalid form body", err)
		}
		return flatten(r.MultipartForm.Value), nil
	default:
		if err := r.ParseForm(); err != nil {
			if isTooLarge(err) {
				return nil, tooLarge()
			}
			return nil, fault.Wrap(fault.Validation, "Invalid form body", err)
		}
		return flatten(r.PostForm), nil
	}
}

func flatten(values url.Values) form {
	f := form{}
	for k, v := range values {
		if len(v) > 0 {
			f[k] = v[0]
		}
	}
	return f
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

func tooLarge() error {
	return fault.New(fault.FileTooLarge, "File too large. Max 100MB allowed.")
}

// pathID reads the numeric {id} route parameter.
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fault.New(fault.NotFound, "Not found")
	}
	return id, nil
}

// formID parses a positive integer field; zero means absent or invalid.
func formID(v string) int64 {
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "approved", "approve":
		return true, nil
	case "0", "false", "no", "rejected", "reject":
		return false, nil
	}
	return false, fault.New(fault.Validation, "Field 'approved' must be true or false")
}
