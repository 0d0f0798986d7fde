package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"sidedock/internal/core"
)

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET is allowed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": "sidedock-api",
	})
}

// handleTasks returns all known tasks
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET is allowed")
		return
	}

	tasks := s.taskMgr.ListTasks()
	var active uint64
	for _, t := range tasks {
		if t.Status == core.TaskWaiting || t.Status == core.TaskRunning {
			active = t.ID
			break
		}
	}

	s.writeJSON(w, http.StatusOK, TaskListResponse{Tasks: tasks, ActiveTask: active})
}

// handleTask handles GET /api/tasks/{id} and POST /api/tasks/{id}/cancel
func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_path", "Task ID required")
		return
	}

	id, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_path", "Task ID must be numeric")
		return
	}
	isCancel := len(parts) > 1 && parts[1] == "cancel"

	switch r.Method {
	case http.MethodGet:
		task, err := s.taskMgr.GetTask(id)
		if err != nil {
			s.writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, task)

	case http.MethodPost:
		if !isCancel {
			s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use POST /api/tasks/{id}/cancel to cancel")
			return
		}
		if err := s.taskMgr.CancelTask(id); err != nil {
			s.writeError(w, http.StatusBadRequest, "cancel_failed", err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{
			"message": fmt.Sprintf("Task %d cancellation requested", id),
		})

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET or POST to /cancel allowed")
	}
}

// handleStartDownload starts a download-only task.
func (s *Server) handleStartDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST is allowed")
		return
	}
	if s.startDownloadFunc == nil {
		s.writeError(w, http.StatusNotImplemented, "not_implemented", "Download starter not configured")
		return
	}

	var req StartDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_body", "Could not parse request body")
		return
	}

	id, err := s.startDownloadFunc(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "start_failed", err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{"taskId": id})
}

// handleStartDownloadInstall starts a download-then-install task.
func (s *Server) handleStartDownloadInstall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST is allowed")
		return
	}
	if s.startInstallFunc == nil {
		s.writeError(w, http.StatusNotImplemented, "not_implemented", "Download-install starter not configured")
		return
	}

	var req StartDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_body", "Could not parse request body")
		return
	}

	id, err := s.startInstallFunc(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "start_failed", err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{"taskId": id})
}

// handlePrereqs returns the prerequisites report
func (s *Server) handlePrereqs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET is allowed")
		return
	}
	if s.prereqProvider == nil {
		s.writeError(w, http.StatusNotImplemented, "not_implemented", "Prereq provider not configured")
		return
	}
	s.writeJSON(w, http.StatusOK, s.prereqProvider())
}

// handleDevices returns the connected device
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET is allowed")
		return
	}
	if s.deviceProvider == nil {
		s.writeError(w, http.StatusNotImplemented, "not_implemented", "Device provider not configured")
		return
	}
	s.writeJSON(w, http.StatusOK, s.deviceProvider())
}

// handleSettings returns the current settings document
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET is allowed")
		return
	}
	if s.settingsProvider == nil {
		s.writeError(w, http.StatusNotImplemented, "not_implemented", "Settings provider not configured")
		return
	}
	s.writeJSON(w, http.StatusOK, s.settingsProvider())
}
