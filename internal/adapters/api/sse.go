package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"sidedock/internal/core"
)

// handleSSE handles Server-Sent Events for real-time updates. Clients
// connect to /api/events and receive task updates as they happen.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET is allowed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "sse_not_supported", "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	clientChan := make(chan core.TaskUpdateEvent, 100)
	s.addSSEClient(clientChan)
	defer s.removeSSEClient(clientChan)

	s.sendSSEEvent(w, "connected", map[string]interface{}{
		"message": "Connected to the task event stream",
	})
	flusher.Flush()

	for _, t := range s.taskMgr.ListTasks() {
		if t.Status == core.TaskWaiting || t.Status == core.TaskRunning {
			s.sendSSEEvent(w, "task:snapshot", t)
			flusher.Flush()
		}
	}

	s.logger.Printf("[API] SSE client connected, waiting for events...")
	for {
		select {
		case <-r.Context().Done():
			s.logger.Printf("[API] SSE client disconnected (context done)")
			return
		case event, ok := <-clientChan:
			if !ok {
				s.logger.Printf("[API] SSE client channel closed")
				return
			}

			eventType := "task:update"
			switch event.Status {
			case core.TaskCompleted:
				eventType = "task:completed"
			case core.TaskFailed:
				eventType = "task:failed"
			case core.TaskCancelled:
				eventType = "task:cancelled"
			}

			if event.LogLine != "" {
				s.sendSSEEvent(w, "task:log", map[string]interface{}{
					"taskId":  event.ID,
					"logLine": event.LogLine,
				})
				flusher.Flush()
			}

			s.sendSSEEvent(w, eventType, event)
			flusher.Flush()
		}
	}
}

func (s *Server) sendSSEEvent(w http.ResponseWriter, eventType string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		s.logger.Printf("[API] SSE marshal error: %v", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
}
