package dashboard

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the ISO 8601 date-only layout used for selectedDate
const DateLayout = "2006-01-02"

// SystemStatus is the run-state of the recognition system as seen by the dashboard
type SystemStatus string

const (
	StatusStopped  SystemStatus = "stopped"
	StatusStarting SystemStatus = "starting"
	StatusStarted  SystemStatus = "started"
	StatusStopping SystemStatus = "stopping"
)

// Pending reports whether the status is waiting for the backend to confirm a transition
func (s SystemStatus) Pending() bool {
	return s == StatusStarting || s == StatusStopping
}

// Target returns the settled status a pending status is heading to
func (s SystemStatus) Target() SystemStatus {
	switch s {
	case StatusStarting:
		return StatusStarted
	case StatusStopping:
		return StatusStopped
	default:
		return s
	}
}

// Confidence is a recognition score in [0,1].
// Numeric strings are accepted; null, unparseable and non-finite values decode as 0.
type Confidence float64

func (c *Confidence) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = 0
		return nil
	}

	var raw string
	if data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	} else {
		raw = string(data)
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		*c = 0
		return nil
	}
	*c = Confidence(clamp(v))
	return nil
}

// Label formats the confidence as a percentage with two decimals, e.g. "87.50%"
func (c Confidence) Label() string {
	return fmt.Sprintf("%.2f%%", float64(c)*100)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// CameraID identifies a camera; the backend sends it either as a string or an integer
type CameraID string

func (id *CameraID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = CameraID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("camera_id: %w", err)
	}
	*id = CameraID(n.String())
	return nil
}

type AttendanceEntry struct {
	Name       string     `json:"name"`
	Timestamp  string     `json:"timestamp"`
	CameraID   CameraID   `json:"camera_id"`
	Confidence Confidence `json:"confidence"`
}

type UnauthorizedEntry struct {
	Timestamp  string     `json:"timestamp"`
	CameraID   CameraID   `json:"camera_id"`
	ImagePath  string     `json:"image_path"`
	Confidence Confidence `json:"confidence"`
}

// AnalyticsPoint is owned by the charting collaborator and passed through untouched
type AnalyticsPoint = json.RawMessage

// ViewState is the complete snapshot the dashboard renders from
type ViewState struct {
	SelectedDate    string
	SystemStatus    SystemStatus
	Attendance      []AttendanceEntry
	Analytics       []AnalyticsPoint
	Unauthorized    []UnauthorizedEntry
	LastRefreshedAt time.Time
	RefreshID       string
	LastError       *ErrorState
}

// Clone returns a deep copy safe to hand out of the controller
func (v ViewState) Clone() ViewState {
	out := v
	out.Attendance = append([]AttendanceEntry(nil), v.Attendance...)
	out.Unauthorized = append([]UnauthorizedEntry(nil), v.Unauthorized...)
	out.Analytics = make([]AnalyticsPoint, len(v.Analytics))
	for i, p := range v.Analytics {
		out.Analytics[i] = append(AnalyticsPoint(nil), p...)
	}
	if v.LastError != nil {
		e := *v.LastError
		out.LastError = &e
	}
	return out
}

// ErrorKind classifies failures surfaced in the error slot
type ErrorKind string

const (
	KindNetwork     ErrorKind = "network"
	KindStatus      ErrorKind = "status"
	KindDecode      ErrorKind = "decode"
	KindUnconfirmed ErrorKind = "unconfirmed"
	KindStorage     ErrorKind = "storage"
)

// Operations recorded in ErrorState.Op
const (
	OpRefresh = "refresh"
	OpStart   = "start"
	OpStop    = "stop"
	OpExport  = "export"
)

// ErrorState is the observable error slot the view may render
type ErrorState struct {
	Kind    ErrorKind
	Op      string
	Message string
	At      time.Time
}

// ExportFormat is a file format the backend can export attendance to
type ExportFormat string

const (
	FormatCSV   ExportFormat = "csv"
	FormatExcel ExportFormat = "excel"
	FormatPDF   ExportFormat = "pdf"
)

// ExportFormats lists the accepted formats in display order
var ExportFormats = []ExportFormat{FormatCSV, FormatExcel, FormatPDF}

// ExportFilename is the download name for an export of the given date
func ExportFilename(date string, format ExportFormat) string {
	return fmt.Sprintf("attendance_%s.%s", date, format)
}

// ExportResult describes a file saved by Export
type ExportResult struct {
	Filename    string
	Path        string
	URL         string
	ContentType string
	Size        int64
	Date        string
	Format      ExportFormat
}

// BackendStatus is the backend's own view of whether recognition is running
type BackendStatus struct {
	Running bool
}
