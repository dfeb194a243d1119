// ABOUTME: Domain interfaces for dependency inversion
// ABOUTME: Transport capability contract and status event callback
package domain

// Transport is the capability set the stream source requires from an
// HTTP(S) connection. Implementations own the socket; the stream source
// never touches the network directly.
type Transport interface {
	// Open issues a GET request for url and returns the response status code.
	Open(url string) (int, error)

	// Header returns a response header value by name.
	Header(name string) (string, bool)

	// ContentLength returns the declared body length, or 0 when the
	// resource does not declare one (chunked or unbounded streams).
	ContentLength() uint32

	// Connected reports whether bytes can still be delivered, either from
	// the live socket or from data already received.
	Connected() bool

	// Available returns the number of bytes that can be read right now
	// without waiting.
	Available() int

	// Read copies up to len(p) already-available bytes into p. It never
	// waits for the network; a 0 count with a nil error means no data yet.
	Read(p []byte) (int, error)

	// Close terminates the connection and discards undelivered bytes.
	Close() error
}

// StatusKind identifies a stream status event.
type StatusKind int

const (
	StatusRequestFailed StatusKind = iota
	StatusDisconnected
	StatusReconnecting
	StatusReconnected
	StatusReconnectFailed
	StatusNoData
	StatusFramingError
	StatusUsageError
)

func (k StatusKind) String() string {
	switch k {
	case StatusRequestFailed:
		return "request_failed"
	case StatusDisconnected:
		return "disconnected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusReconnected:
		return "reconnected"
	case StatusReconnectFailed:
		return "unable_to_reconnect"
	case StatusNoData:
		return "no_data_available"
	case StatusFramingError:
		return "framing_error"
	case StatusUsageError:
		return "usage_error"
	default:
		return "unknown"
	}
}

// StatusFunc receives status events from the stream source. It is purely
// observational and must not block.
type StatusFunc func(kind StatusKind, message string)
