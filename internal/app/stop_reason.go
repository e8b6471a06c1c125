package app

// StopReason says why the app is shutting down. It doubles as a context
// cancel cause so signal handlers can pass it through.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopRunFor     StopReason = "run_for_elapsed"
	StopFatalError StopReason = "fatal_error"
)

func (r StopReason) Error() string { return "stop: " + string(r) }
