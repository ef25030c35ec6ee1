package input

// StopReason says why the event pump asked playback to stop.
type StopReason string

const (
	StopNone   StopReason = ""
	StopWindow StopReason = "window closed"
	StopKey    StopReason = "stop key pressed"
	StopSignal StopReason = "signal received"
)
