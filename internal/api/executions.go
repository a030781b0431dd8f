package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-kit/log/level"

	"taskflow/pkg/execution"
	"taskflow/pkg/fault"
	"taskflow/pkg/gate"
	"taskflow/pkg/user"
)

// maxSubmitBody leaves room for the form fields around a maximum-size file.
const maxSubmitBody = execution.MaxFileSize + 1<<20

func (s *Server) handleExecutionList(w http.ResponseWriter, r *http.Request) {
	execs, err := s.execs.ListExecutions(r.Context(), currentSession(r))
	if err != nil {
		s.writeFault(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, execs)
}

func (s *Server) handleExecutionGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeFault(w, r, err)
		return
	}
	e, err := s.execs.GetExecution(r.Context(), currentSession(r), id)
	if err != nil {
		s.writeFault(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, e)
}

func (s *Server) handleExecutionSubmit(w http.ResponseWriter, r *http.Request) {
	sess := currentSession(r)
	// Refuse before reading a possibly large body.
	if err := gate.RequireRole(sess, user.Collaborator); err != nil {
		s.writeFault(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxSubmitBody)
	f, err := readForm(r)
	if err != nil {
		s.countSubmission(err)
		s.writeFault(w, r, err)
		return
	}

	var upload *execution.Upload
	if r.MultipartForm != nil {
		file, header, err := r.FormFile("file")
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			s.writeFault(w, r, fault.Wrap(fault.Validation, "Invalid file upload", err))
			return
		default:
			defer file.Close()
			upload = &execution.Upload{Name: header.Filename, Size: header.Size, Body: file}
		}
	}

	e, err := s.execs.SubmitExecution(r.Context(), sess, formID(f.get("task_id")), f.get("description"), upload)
	s.countSubmission(err)
	if err != nil {
		s.writeFault(w, r, err)
		return
	}
	if upload != nil && s.metrics != nil {
		s.metrics.UploadBytes.Add(float64(upload.Size))
	}
	s.writeJSON(w, http.StatusCreated, envelope{Success: true, Message: "Task execution submitted successfully", Data: e})
}

func (s *Server) countSubmission(err error) {
	if s.metrics == nil {
		return
	}
	result := "accepted"
	if err != nil {
		result = string(fault.KindOf(err))
	}
	s.metrics.Submissions.WithLabelValues(result).Inc()
	if fault.KindOf(err) == fault.UploadFailed {
		s.metrics.UploadFailures.Inc()
	}
}

func (s *Server) handleExecutionDownload(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeFault(w, r, err)
		return
	}
	obj, name, err := s.execs.DownloadFile(r.Context(), currentSession(r), id)
	if err != nil {
		s.writeFault(w, r, err)
		return
	}
	defer obj.Body.Close()

	h := w.Header()
	h.Set("Content-Type", obj.ContentType)
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	if obj.Size > 0 {
		h.Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	h.Set("Cache-Control", "must-revalidate")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, obj.Body); err != nil {
		level.Warn(s.logger).Log("msg", "download interrupted", "execution", id, "err", err)
	}
}

func (s *Server) handleExecutionReview(w http.ResponseWriter, r *http.Request) {
	if err := gate.RequireRole(currentSession(r), user.Administrator); err != nil {
		s.writeFault(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.writeFault(w, r, err)
		return
	}
	f, err := readForm(r)
	if err != nil {
		s.writeFault(w, r, err)
		return
	}
	approved, err := parseBool(f.get("approved"))
	if err != nil {
		s.writeFault(w, r, err)
		return
	}
	e, err := s.execs.ReviewExecution(r.Context(), currentSession(r), id, approved)
	if err != nil {
		s.writeFault(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Execution status updated successfully", Data: e})
}
