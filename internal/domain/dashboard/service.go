package dashboard

import "context"

// Controller is the polling view controller behind the dashboard
type Controller interface {
	// Mount starts periodic refreshing; one refresh runs immediately
	Mount(ctx context.Context) error

	// Unmount stops the timer and drops results of requests still in flight
	Unmount()

	// Refresh runs one refresh cycle; skipped when a cycle is already in flight
	Refresh(ctx context.Context) error

	// ForceRefresh runs one refresh cycle, superseding any cycle in flight
	ForceRefresh(ctx context.Context) error

	// SelectDate changes the selected date and refreshes immediately
	SelectDate(ctx context.Context, date string) error

	// Start sends the start command
	Start(ctx context.Context) error

	// Stop sends the stop command
	Stop(ctx context.Context) error

	// Export downloads an export of the selected date into the export store
	Export(ctx context.Context, format ExportFormat) (ExportResult, error)

	// State returns a copy of the current view state
	State() ViewState

	// Subscribe streams a snapshot after every state change until ctx is done or cleanup is called
	Subscribe(ctx context.Context) (<-chan StateEvent, func())
}
