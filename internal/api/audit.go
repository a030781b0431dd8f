package api

import (
	"net/http"
	"strconv"

	"github.com/go-kit/log/level"

	"taskflow/pkg/audit"
	"taskflow/pkg/fault"
	"taskflow/pkg/gate"
	"taskflow/pkg/user"
)

func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	if err := gate.RequireRole(currentSession(r), user.Administrator); err != nil {
		s.writeFault(w, r, err)
		return
	}
	limit := queryInt(r, "limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var (
		events []audit.Event
		err    error
	)
	if eventType := r.URL.Query().Get("type"); eventType != "" {
		events, err = s.audit.ByType(r.Context(), eventType, limit)
	} else {
		events, err = s.audit.Recent(r.Context(), limit)
	}
	if err != nil {
		s.writeFault(w, r, fault.Wrap(fault.Persistence, "list audit events", err))
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	s.writeData(w, http.StatusOK, events)
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	if err := gate.RequireRole(currentSession(r), user.Administrator); err != nil {
		s.writeFault(w, r, err)
		return
	}
	result := map[string]any{"intact": true}
	if err := s.audit.VerifyChain(r.Context()); err != nil {
		level.Warn(s.logger).Log("msg", "audit chain verification failed", "err", err)
		result["intact"] = false
		result["error"] = err.Error()
	}
	s.writeData(w, http.StatusOK, result)
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
