// Package api provides an HTTP API adapter exposing REST endpoints and SSE
// event streaming for remote control of the task manager, devices, and
// catalogs.
package api

import "sidedock/internal/core"

// APIResponse wraps all API responses with a consistent structure
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// APIError represents an API error
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TaskListResponse contains every known task plus the ID of the most
// recently started one still in a non-terminal state, if any.
type TaskListResponse struct {
	Tasks      []*core.TaskProgress `json:"tasks"`
	ActiveTask uint64               `json:"activeTask,omitempty"`
}

// StartDownloadRequest is the request body for /api/tasks/download and
// /api/tasks/download-install.
type StartDownloadRequest struct {
	FullName    string `json:"fullName"`
	PackageName string `json:"packageName"`
}

// DeviceInfo represents the currently connected device, serialized for API
// clients.
type DeviceInfo struct {
	Serial    string `json:"serial"`
	Name      string `json:"name,omitempty"`
	Connected bool   `json:"connected"`
}

// DevicesResponse contains device status
type DevicesResponse struct {
	Devices   []DeviceInfo `json:"devices"`
	Connected bool         `json:"connected"`
}

// SSEEvent represents a Server-Sent Event
type SSEEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}
