package domain

type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusDenied       Status = "denied"
	StatusClosed       Status = "closed"
)

// Terminal statuses are never left again.
func (s Status) Terminal() bool {
	return s == StatusDenied || s == StatusClosed
}
