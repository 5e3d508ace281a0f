package http

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/cmlabs-hris/attendance-dashboard/internal/domain/dashboard"
	"github.com/cmlabs-hris/attendance-dashboard/internal/handler/http/response"
	"github.com/cmlabs-hris/attendance-dashboard/internal/pkg/validator"
	"github.com/gorilla/websocket"
)

const (
	keepaliveInterval = 30 * time.Second
	wsWriteWait       = 10 * time.Second
	wsPongWait        = 60 * time.Second
)

type DashboardHandler interface {
	// GetState returns the current view state
	GetState(w http.ResponseWriter, r *http.Request)
	// SelectDate changes the selected date and refreshes for it
	SelectDate(w http.ResponseWriter, r *http.Request)
	// Refresh forces an immediate refresh cycle
	Refresh(w http.ResponseWriter, r *http.Request)
	// Start sends the start command to the recognition backend
	Start(w http.ResponseWriter, r *http.Request)
	// Stop sends the stop command to the recognition backend
	Stop(w http.ResponseWriter, r *http.Request)
	// Export saves an export of the selected date and streams it back as an attachment
	Export(w http.ResponseWriter, r *http.Request)

	// Stream pushes state snapshots over SSE
	Stream(w http.ResponseWriter, r *http.Request)
	// WebSocket pushes state snapshots over a WebSocket
	WebSocket(w http.ResponseWriter, r *http.Request)
}

type dashboardHandlerImpl struct {
	controller dashboard.Controller
	store      dashboard.ExportStore
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	keepalive  time.Duration
}

// NewDashboardHandler creates the dashboard handler. allowedOrigins limits WebSocket upgrades; empty allows any.
func NewDashboardHandler(controller dashboard.Controller, store dashboard.ExportStore, logger *slog.Logger, allowedOrigins []string) DashboardHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &dashboardHandlerImpl{
		controller: controller,
		store:      store,
		logger:     logger,
		keepalive:  keepaliveInterval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if len(allowedOrigins) == 0 || origin == "" {
					return true
				}
				return validator.IsInSlice(origin, allowedOrigins)
			},
		},
	}
}

// GetState handles GET /dashboard
func (h *dashboardHandlerImpl) GetState(w http.ResponseWriter, r *http.Request) {
	response.Success(w, dashboard.NewStateResponse(h.controller.State()))
}

// SelectDate handles PUT /dashboard/date
func (h *dashboardHandlerImpl) SelectDate(w http.ResponseWriter, r *http.Request) {
	var req dashboard.SelectDateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body", nil)
		return
	}

	var errs validator.ValidationErrors
	if validator.IsEmpty(req.Date) {
		errs.Add("date", "date is required")
	} else if _, ok := validator.IsValidDate(req.Date); !ok {
		errs.Add("date", "date must be formatted as YYYY-MM-DD")
	}
	if err := errs.Err(); err != nil {
		response.HandleError(w, err)
		return
	}

	if err := h.controller.SelectDate(r.Context(), req.Date); err != nil {
		response.HandleError(w, err)
		return
	}

	response.SuccessWithMessage(w, "Date selected", dashboard.NewStateResponse(h.controller.State()))
}

// Refresh handles POST /dashboard/refresh
func (h *dashboardHandlerImpl) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.ForceRefresh(r.Context()); err != nil {
		response.HandleError(w, err)
		return
	}

	response.SuccessWithMessage(w, "Dashboard refreshed", dashboard.NewStateResponse(h.controller.State()))
}

// Start handles POST /dashboard/start
func (h *dashboardHandlerImpl) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.Start(r.Context()); err != nil {
		response.HandleError(w, err)
		return
	}
	h.respondCommand(w, "System started")
}

// Stop handles POST /dashboard/stop
func (h *dashboardHandlerImpl) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.Stop(r.Context()); err != nil {
		response.HandleError(w, err)
		return
	}
	h.respondCommand(w, "System stopped")
}

func (h *dashboardHandlerImpl) respondCommand(w http.ResponseWriter, message string) {
	state := h.controller.State()
	if state.SystemStatus.Pending() {
		response.Accepted(w, "Command sent, awaiting confirmation", dashboard.NewStateResponse(state))
		return
	}
	response.SuccessWithMessage(w, message, dashboard.NewStateResponse(state))
}

// Export handles GET /dashboard/export?format=[&download=false]
func (h *dashboardHandlerImpl) Export(w http.ResponseWriter, r *http.Request) {
	format := dashboard.ExportFormat(r.URL.Query().Get("format"))

	result, err := h.controller.Export(r.Context(), format)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	if r.URL.Query().Get("download") == "false" {
		response.SuccessWithMessage(w, "Export saved", dashboard.NewExportResponse(result))
		return
	}

	file, err := h.store.Download(r.Context(), result.Path)
	if err != nil {
		h.logger.Error("Failed to open saved export", "path", result.Path, "error", err)
		response.HandleError(w, err)
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.Header().Set("X-Export-URL", result.URL)

	// the file may have been replaced by a newer export since it was saved, so size it from what was opened
	if rs, ok := file.(io.ReadSeeker); ok {
		var modTime time.Time
		if st, ok := file.(interface{ Stat() (fs.FileInfo, error) }); ok {
			if info, err := st.Stat(); err == nil {
				modTime = info.ModTime()
			}
		}
		http.ServeContent(w, r, result.Filename, modTime, rs)
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, file); err != nil {
		h.logger.Warn("Export download interrupted", "file", result.Filename, "error", err)
	}
}

// Stream handles SSE connections for live dashboard state
func (h *dashboardHandlerImpl) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	events, cleanup := h.controller.Subscribe(r.Context())
	defer cleanup()

	fmt.Fprint(w, "event: connected\ndata: {\"status\":\"connected\"}\n\n")
	flusher.Flush()

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(event.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Event, data)
			flusher.Flush()

		case <-keepalive.C:
			fmt.Fprintf(w, "event: ping\ndata: {\"timestamp\":%d}\n\n", time.Now().Unix())
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// WebSocket handles WebSocket connections for live dashboard state
func (h *dashboardHandlerImpl) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, cleanup := h.controller.Subscribe(r.Context())
	defer cleanup()

	// the read loop only tracks liveness; closed connections end the write loop
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("WebSocket closed", "error", err)
				}
				return
			}
		}
	}()

	ping := time.NewTicker(h.keepalive)
	defer ping.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				return
			}

		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-closed:
			return

		case <-r.Context().Done():
			return
		}
	}
}
