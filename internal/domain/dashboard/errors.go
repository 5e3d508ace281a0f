package dashboard

import "errors"

// Dashboard domain errors
var (
	// Input errors
	ErrInvalidExportFormat = errors.New("export format must be one of csv, excel, pdf")
	ErrInvalidDate         = errors.New("date must be formatted as YYYY-MM-DD")

	// Control errors
	ErrInvalidTransition = errors.New("system status does not allow this command")
	ErrAlreadyMounted    = errors.New("dashboard controller is already mounted")
	ErrUnmounted         = errors.New("dashboard controller has been unmounted")

	// Refresh errors
	ErrRefreshSuperseded = errors.New("refresh superseded by a newer cycle")
	ErrRefreshInFlight   = errors.New("refresh already in flight")
)
