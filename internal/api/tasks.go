package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"TaskPulse/internal/auth"
	"TaskPulse/internal/task"
)

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var draft task.Draft
	if err := decodeJSON(w, r, &draft); err != nil {
		s.writeError(w, r, err)
		return
	}
	created, err := s.tasks.Create(r.Context(), auth.OwnerFromContext(r.Context()), draft)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	opts, err := task.ParseListQuery(r.URL.Query().Get)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.tasks.List(r.Context(), auth.OwnerFromContext(r.Context()), opts...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.tasks.Stats(r.Context(), auth.OwnerFromContext(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var patch task.Patch
	if err := decodeJSON(w, r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.tasks.Update(r.Context(), auth.OwnerFromContext(r.Context()), mux.Vars(r)["id"], patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.tasks.Delete(r.Context(), auth.OwnerFromContext(r.Context()), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Task deleted"})
}
