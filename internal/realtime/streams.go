package realtime

// Named realtime streams.
const (
	StreamAlerts = "alerts"
	StreamSystem = "system"
)

// Event names sent to clients.
const (
	EventAsteroidAlert = "asteroid_alert"
	EventConnected     = "connected"
	EventPong          = "pong"
)

// DefaultStreams are subscribed when a client does not ask for any.
var DefaultStreams = []string{StreamAlerts}
