package http

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/cmlabs-hris/attendance-dashboard/internal/domain/dashboard"
	"github.com/cmlabs-hris/attendance-dashboard/internal/pkg/backend"
	"github.com/cmlabs-hris/attendance-dashboard/internal/pkg/storage"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubController is a scriptable dashboard.Controller
type stubController struct {
	state     dashboard.ViewState
	err       error
	events    chan dashboard.StateEvent
	exportRes dashboard.ExportResult

	selected []string
	forced   int
	started  int
	stopped  int
	formats  []dashboard.ExportFormat
}

func newStubController() *stubController {
	return &stubController{
		state: dashboard.ViewState{
			SelectedDate: "2024-05-01",
			SystemStatus: dashboard.StatusStopped,
			Attendance: []dashboard.AttendanceEntry{
				{Name: "Alice", Timestamp: "2024-05-01T08:00:00", CameraID: "1", Confidence: 0.875},
			},
			Analytics: []dashboard.AnalyticsPoint{dashboard.AnalyticsPoint(`{"hour":8}`)},
		},
		events: make(chan dashboard.StateEvent, 4),
	}
}

func (s *stubController) Mount(ctx context.Context) error { return nil }
func (s *stubController) Unmount() {}

func (s *stubController) Refresh(ctx context.Context) error {
	return s.err
}

func (s *stubController) ForceRefresh(ctx context.Context) error {
	s.forced++
	return s.err
}

func (s *stubController) SelectDate(ctx context.Context, date string) error {
	s.selected = append(s.selected, date)
	if s.err != nil {
		return s.err
	}
	s.state.SelectedDate = date
	return nil
}

func (s *stubController) Start(ctx context.Context) error {
	s.started++
	if s.err != nil {
		return s.err
	}
	s.state.SystemStatus = dashboard.StatusStarted
	return nil
}

func (s *stubController) Stop(ctx context.Context) error {
	s.stopped++
	if s.err != nil {
		return s.err
	}
	s.state.SystemStatus = dashboard.StatusStopped
	return nil
}

func (s *stubController) Export(ctx context.Context, format dashboard.ExportFormat) (dashboard.ExportResult, error) {
	s.formats = append(s.formats, format)
	if s.err != nil {
		return dashboard.ExportResult{}, s.err
	}
	return s.exportRes, nil
}

func (s *stubController) State() dashboard.ViewState { return s.state.Clone() }

func (s *stubController) Subscribe(ctx context.Context) (<-chan dashboard.StateEvent, func()) {
	return s.events, func() {}
}

func newTestRouter(t *testing.T, ctrl *stubController) (http.Handler, *storage.LocalStorage) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir, "/exports")
	require.NoError(t, err)

	h := NewDashboardHandler(ctrl, store, nil, nil)
	return NewRouter(RouterOptions{
		AllowedOrigins: []string{"http://localhost:3000"},
		ExportDir:      dir,
		ExportBaseURL:  "/exports",
	}, h), store
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestDashboardHandler_GetState(t *testing.T) {
	router, _ := newTestRouter(t, newStubController())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dashboard", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])

	data := body["data"].(map[string]any)
	assert.Equal(t, "2024-05-01", data["selected_date"])
	assert.Equal(t, "stopped", data["system_status"])
	assert.Equal(t, []any{}, data["unauthorized"])

	rows := data["attendance"].([]any)
	require.Len(t, rows, 1)
	assert.Equal(t, "87.50%", rows[0].(map[string]any)["confidence_label"])
}

func TestDashboardHandler_SelectDate(t *testing.T) {
	ctrl := newStubController()
	router, _ := newTestRouter(t, ctrl)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/dashboard/date", strings.NewReader(`{"date":"2024-04-30"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"2024-04-30"}, ctrl.selected)
	data := decodeBody(t, rec)["data"].(map[string]any)
	assert.Equal(t, "2024-04-30", data["selected_date"])
}

func TestDashboardHandler_SelectDateValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed json", `{"date":`, http.StatusBadRequest},
		{"missing date", `{}`, http.StatusUnprocessableEntity},
		{"bad format", `{"date":"01/05/2024"}`, http.StatusUnprocessableEntity},
		{"impossible day", `{"date":"2024-02-31"}`, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := newStubController()
			router, _ := newTestRouter(t, ctrl)

			req := httptest.NewRequest(http.MethodPut, "/api/v1/dashboard/date", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.code, rec.Code)
			assert.Empty(t, ctrl.selected)
		})
	}
}

func TestDashboardHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		kind string
	}{
		{"invalid transition", fmt.Errorf("%w: cannot start while started", dashboard.ErrInvalidTransition), http.StatusConflict, "CONFLICT"},
		{"superseded", dashboard.ErrRefreshSuperseded, http.StatusConflict, "CONFLICT"},
		{"backend status", fmt.Errorf("attendance: %w", &backend.APIError{StatusCode: 500, Method: "GET", Path: "/api/attendance"}), http.StatusBadGateway, "BACKEND_ERROR"},
		{"backend decode", fmt.Errorf("%w: GET /api/analytics: eof", backend.ErrDecode), http.StatusBadGateway, "BACKEND_ERROR"},
		{"unmounted", dashboard.ErrUnmounted, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{"unknown", io.ErrUnexpectedEOF, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := newStubController()
			ctrl.err = tt.err
			router, _ := newTestRouter(t, ctrl)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/dashboard/start", nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.code, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.kind, body["error"].(map[string]any)["code"])
		})
	}
}

func TestDashboardHandler_StartStop(t *testing.T) {
	ctrl := newStubController()
	router, _ := newTestRouter(t, ctrl)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/dashboard/start", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "started", decodeBody(t, rec)["data"].(map[string]any)["system_status"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/dashboard/stop", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stopped", decodeBody(t, rec)["data"].(map[string]any)["system_status"])

	assert.Equal(t, 1, ctrl.started)
	assert.Equal(t, 1, ctrl.stopped)
}

func TestDashboardHandler_PendingCommandAccepted(t *testing.T) {
	ctrl := newStubController()
	ctrl.state.SystemStatus = dashboard.StatusStarted

	h := NewDashboardHandler(&pendingController{stubController: ctrl}, nil, nil, nil)
	router := NewRouter(RouterOptions{}, h)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/dashboard/stop", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "stopping", decodeBody(t, rec)["data"].(map[string]any)["system_status"])
}

// pendingController leaves commands unconfirmed
type pendingController struct {
	*stubController
}

func (p *pendingController) Stop(ctx context.Context) error {
	p.state.SystemStatus = dashboard.StatusStopping
	return nil
}

func TestDashboardHandler_Refresh(t *testing.T) {
	ctrl := newStubController()
	router, _ := newTestRouter(t, ctrl)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/dashboard/refresh", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ctrl.forced)
}

func TestDashboardHandler_ExportStreamsAttachment(t *testing.T) {
	ctrl := newStubController()
	router, store := newTestRouter(t, ctrl)

	content := "name,timestamp\nAlice,2024-05-01T08:00:00\n"
	path, err := store.Upload(context.Background(), strings.NewReader(content), "attendance_2024-05-01.csv", "text/csv")
	require.NoError(t, err)

	ctrl.exportRes = dashboard.ExportResult{
		Filename:    "attendance_2024-05-01.csv",
		Path:        path,
		URL:         "/exports/attendance_2024-05-01.csv",
		ContentType: "text/csv",
		Size:        int64(len(content)),
		Date:        "2024-05-01",
		Format:      dashboard.FormatCSV,
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/dashboard/export?format=csv", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []dashboard.ExportFormat{dashboard.FormatCSV}, ctrl.formats)
	assert.Equal(t, `attachment; filename="attendance_2024-05-01.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t, "/exports/attendance_2024-05-01.csv", rec.Header().Get("X-Export-URL"))
	assert.Equal(t, content, rec.Body.String())

	// the saved file is also served statically
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/exports/attendance_2024-05-01.csv", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, content, rec.Body.String())
}

func TestDashboardHandler_ExportSizedFromServedFile(t *testing.T) {
	ctrl := newStubController()
	router, store := newTestRouter(t, ctrl)
	ctx := context.Background()

	first := "name\nAlice\n"
	path, err := store.Upload(ctx, strings.NewReader(first), "attendance_2024-05-01.csv", "text/csv")
	require.NoError(t, err)
	ctrl.exportRes = dashboard.ExportResult{
		Filename:    "attendance_2024-05-01.csv",
		Path:        path,
		ContentType: "text/csv",
		Size:        int64(len(first)),
	}

	// a later export of the same date replaces the file before it is streamed
	second := "name\nAlice\nBob\nCarol\n"
	_, err = store.Upload(ctx, strings.NewReader(second), "attendance_2024-05-01.csv", "text/csv")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/dashboard/export?format=csv", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, strconv.Itoa(len(second)), rec.Header().Get("Content-Length"))
	assert.Equal(t, second, rec.Body.String())
}

func TestDashboardHandler_ExportLinkOnly(t *testing.T) {
	ctrl := newStubController()
	ctrl.exportRes = dashboard.ExportResult{
		Filename:    "attendance_2024-05-01.pdf",
		Path:        "attendance_2024-05-01.pdf",
		URL:         "/exports/attendance_2024-05-01.pdf",
		ContentType: "application/pdf",
		Size:        42,
		Date:        "2024-05-01",
		Format:      dashboard.FormatPDF,
	}
	router, _ := newTestRouter(t, ctrl)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/dashboard/export?format=pdf&download=false", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Disposition"))
	data := decodeBody(t, rec)["data"].(map[string]any)
	assert.Equal(t, "attendance_2024-05-01.pdf", data["filename"])
	assert.Equal(t, "/exports/attendance_2024-05-01.pdf", data["url"])
	assert.Equal(t, "pdf", data["format"])
}

func TestDashboardHandler_ExportInvalidFormat(t *testing.T) {
	ctrl := newStubController()
	ctrl.err = dashboard.ErrInvalidExportFormat
	router, _ := newTestRouter(t, ctrl)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/dashboard/export?format=docx", nil))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	details := decodeBody(t, rec)["error"].(map[string]any)["details"].(map[string]any)
	assert.Contains(t, details, "format")
}

func TestDashboardHandler_Heartbeat(t *testing.T) {
	router, _ := newTestRouter(t, newStubController())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDashboardHandler_StreamSSE(t *testing.T) {
	ctrl := newStubController()
	router, _ := newTestRouter(t, ctrl)
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/dashboard/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	ctrl.events <- dashboard.StateEvent{
		Event: "state",
		Data:  dashboard.NewStateResponse(ctrl.State()),
	}

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 4 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if line != "" {
			lines = append(lines, line)
		}
	}

	assert.Equal(t, "event: connected", lines[0])
	assert.Equal(t, "event: state", lines[2])
	assert.True(t, strings.HasPrefix(lines[3], "data: {"))
	assert.Contains(t, lines[3], `"selected_date":"2024-05-01"`)
}

func TestDashboardHandler_WebSocket(t *testing.T) {
	ctrl := newStubController()
	router, _ := newTestRouter(t, ctrl)
	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/dashboard/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	ctrl.events <- dashboard.StateEvent{
		Event: "state",
		Data:  dashboard.NewStateResponse(ctrl.State()),
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev dashboard.StateEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "state", ev.Event)
	assert.Equal(t, "2024-05-01", ev.Data.SelectedDate)
	require.Len(t, ev.Data.Attendance, 1)
	assert.Equal(t, "Alice", ev.Data.Attendance[0].Name)
}

func TestDashboardHandler_WebSocketRejectsForeignOrigin(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir(), "/exports")
	require.NoError(t, err)
	h := NewDashboardHandler(newStubController(), store, nil, []string{"http://localhost:3000"})
	srv := httptest.NewServer(NewRouter(RouterOptions{}, h))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/dashboard/ws"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
