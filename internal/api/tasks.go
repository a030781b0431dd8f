package api

import (
	"net/http"
)

func (s *Server) handleTaskList(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.tasks.ListTasks(r.Context(), currentSession(r))
	if err != nil {
		s.writeFault(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, tasks)
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeFault(w, r, err)
		return
	}
	t, err := s.tasks.GetTask(r.Context(), currentSession(r), id)
	if err != nil {
		s.writeFault(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, t)
}

func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	f, err := readForm(r)
	if err != nil {
		s.writeFault(w, r, err)
		return
	}
	t, err := s.tasks.CreateTask(r.Context(), currentSession(r),
		formID(f.get("user_id")), f.get("task_type"), f.get("description"))
	if err != nil {
		s.writeFault(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, envelope{Success: true, Message: "Task created successfully", Data: t})
}

func (s *Server) handleCollaborators(w http.ResponseWriter, r *http.Request) {
	users, err := s.tasks.ListCollaborators(r.Context(), currentSession(r))
	if err != nil {
		s.writeFault(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, users)
}

func (s *Server) handleMyTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.tasks.ListMyTasks(r.Context(), currentSession(r))
	if err != nil {
		s.writeFault(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, tasks)
}
