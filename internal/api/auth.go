package api

import (
	"net/http"

	"taskflow/pkg/fault"
	"taskflow/pkg/gate"
	"taskflow/pkg/user"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	f, err := readForm(r)
	if err != nil {
		s.writeFault(w, r, err)
		return
	}
	sess, err := s.identity.Login(r.Context(), f.get("email"), f["password"])
	if err != nil {
		if s.metrics != nil && fault.KindOf(err) == fault.InvalidCredentials {
			s.metrics.Logins.WithLabelValues("failure").Inc()
		}
		s.writeFault(w, r, err)
		return
	}
	if s.metrics != nil {
		s.metrics.Logins.WithLabelValues("success").Inc()
	}
	s.setSessionCookie(w, sess)
	s.writeJSON(w, http.StatusOK, struct {
		Success bool         `json:"success"`
		Message string       `json:"message"`
		User    user.Summary `json:"user"`
	}{true, "Login successful", sess.Profile()})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(SessionCookie); err == nil {
		if err := s.identity.DestroySession(r.Context(), c.Value); err != nil {
			s.writeFault(w, r, err)
			return
		}
	}
	s.clearSessionCookie(w)
	s.writeMessage(w, http.StatusOK, true, "Logout successful")
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	sess := currentSession(r)
	resp := struct {
		Success       bool          `json:"success"`
		Authenticated bool          `json:"authenticated"`
		User          *user.Summary `json:"user"`
	}{Success: true}
	if gate.RequireAuthenticated(sess) == nil {
		p := sess.Profile()
		resp.Authenticated = true
		resp.User = &p
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	sess := currentSession(r)
	if err := gate.RequireAuthenticated(sess); err != nil {
		s.writeFault(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, sess.Profile())
}
