package dashboard

import (
	"encoding/json"
	"time"
)

// ========== VIEW STATE ==========

// StateResponse is the JSON rendering of ViewState
type StateResponse struct {
	SelectedDate    string                  `json:"selected_date"`
	SystemStatus    SystemStatus            `json:"system_status"`
	Attendance      []AttendanceRowResponse `json:"attendance"`
	Analytics       []json.RawMessage       `json:"analytics"`
	Unauthorized    []UnauthorizedRowItem   `json:"unauthorized"`
	LastRefreshedAt *string                 `json:"last_refreshed_at,omitempty"` // RFC 3339
	RefreshID       string                  `json:"refresh_id,omitempty"`
	LastError       *ErrorStateResponse     `json:"last_error,omitempty"`
}

// AttendanceRowResponse is one row of the attendance table
type AttendanceRowResponse struct {
	Name            string  `json:"name"`
	Timestamp       string  `json:"timestamp"`
	CameraID        string  `json:"camera_id"`
	Confidence      float64 `json:"confidence"`
	ConfidenceLabel string  `json:"confidence_label"` // e.g. "87.50%"
}

// UnauthorizedRowItem is one row of the unauthorized access table
type UnauthorizedRowItem struct {
	Timestamp       string  `json:"timestamp"`
	CameraID        string  `json:"camera_id"`
	ImagePath       string  `json:"image_path"`
	Confidence      float64 `json:"confidence"`
	ConfidenceLabel string  `json:"confidence_label"`
}

type ErrorStateResponse struct {
	Kind    ErrorKind `json:"kind"`
	Op      string    `json:"op"`
	Message string    `json:"message"`
	At      string    `json:"at"`
}

// NewStateResponse renders a snapshot. Lists are never null in the output.
func NewStateResponse(v ViewState) StateResponse {
	resp := StateResponse{
		SelectedDate: v.SelectedDate,
		SystemStatus: v.SystemStatus,
		Attendance:   make([]AttendanceRowResponse, 0, len(v.Attendance)),
		Analytics:    make([]json.RawMessage, 0, len(v.Analytics)),
		Unauthorized: make([]UnauthorizedRowItem, 0, len(v.Unauthorized)),
		RefreshID:    v.RefreshID,
	}

	for _, e := range v.Attendance {
		resp.Attendance = append(resp.Attendance, AttendanceRowResponse{
			Name:            e.Name,
			Timestamp:       e.Timestamp,
			CameraID:        string(e.CameraID),
			Confidence:      float64(e.Confidence),
			ConfidenceLabel: e.Confidence.Label(),
		})
	}
	for _, p := range v.Analytics {
		resp.Analytics = append(resp.Analytics, json.RawMessage(p))
	}
	for _, e := range v.Unauthorized {
		resp.Unauthorized = append(resp.Unauthorized, UnauthorizedRowItem{
			Timestamp:       e.Timestamp,
			CameraID:        string(e.CameraID),
			ImagePath:       e.ImagePath,
			Confidence:      float64(e.Confidence),
			ConfidenceLabel: e.Confidence.Label(),
		})
	}

	if !v.LastRefreshedAt.IsZero() {
		ts := v.LastRefreshedAt.Format(time.RFC3339)
		resp.LastRefreshedAt = &ts
	}
	if v.LastError != nil {
		resp.LastError = &ErrorStateResponse{
			Kind:    v.LastError.Kind,
			Op:      v.LastError.Op,
			Message: v.LastError.Message,
			At:      v.LastError.At.Format(time.RFC3339),
		}
	}
	return resp
}

// StateEvent is a pushed snapshot for SSE and WebSocket subscribers
type StateEvent struct {
	Event string        `json:"event"`
	Data  StateResponse `json:"data"`
}

// ========== REQUESTS ==========

// SelectDateRequest is the body of PUT /dashboard/date
type SelectDateRequest struct {
	Date string `json:"date"`
}

// ========== EXPORT ==========

// ExportResponse describes a saved export when the caller asks for a link instead of the file
type ExportResponse struct {
	Filename    string       `json:"filename"`
	URL         string       `json:"url"`
	ContentType string       `json:"content_type"`
	Size        int64        `json:"size"`
	Date        string       `json:"date"`
	Format      ExportFormat `json:"format"`
}

func NewExportResponse(r ExportResult) ExportResponse {
	return ExportResponse{
		Filename:    r.Filename,
		URL:         r.URL,
		ContentType: r.ContentType,
		Size:        r.Size,
		Date:        r.Date,
		Format:      r.Format,
	}
}
