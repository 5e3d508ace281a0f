package dashboard

import (
	"context"
	"io"
)

// ExportPayload is the binary body returned by the export endpoint
type ExportPayload struct {
	Body        io.ReadCloser
	ContentType string
}

// BackendClient is the recognition backend's HTTP contract as consumed by the dashboard
type BackendClient interface {
	// GetAttendance returns attendance entries for a YYYY-MM-DD date
	GetAttendance(ctx context.Context, date string) ([]AttendanceEntry, error)

	// GetAnalytics returns chart points verbatim
	GetAnalytics(ctx context.Context) ([]AnalyticsPoint, error)

	// GetUnauthorized returns unauthorized access events
	GetUnauthorized(ctx context.Context) ([]UnauthorizedEntry, error)

	// Start asks the backend to start recognition; the response body is ignored
	Start(ctx context.Context) error

	// Stop asks the backend to stop recognition; the response body is ignored
	Stop(ctx context.Context) error

	// Export streams an export of the given date. Caller closes Body.
	Export(ctx context.Context, format ExportFormat, date string) (*ExportPayload, error)

	// Status reads the backend run-state. Only used when confirmation is enabled.
	Status(ctx context.Context) (BackendStatus, error)
}

// ExportStore receives exported files
type ExportStore interface {
	// Upload writes the file and returns its cleaned path
	Upload(ctx context.Context, file io.Reader, path string, contentType string) (string, error)

	// Download opens a previously saved file
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// GetURL returns where the saved file is served from
	GetURL(ctx context.Context, path string) (string, error)

	// Delete removes a saved file; missing files are not an error
	Delete(ctx context.Context, path string) error
}
