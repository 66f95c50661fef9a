// Package capability defines the transport contract a host environment
// provides to sandboxed guests in place of raw sockets.
//
// The core consumes this interface and never implements it: the host owns
// the actual TCP connection and hands the guest an opaque handle. Tests
// substitute a scripted implementation.
package capability

// Handle identifies one host-side connection. It is opaque to the guest and
// must not be reused after Close transfers ownership back to the host.
type Handle uint64

// ConnectConfig carries the connection parameters the host needs to open or
// check out a backend connection.
type ConnectConfig struct {
	// Host is the database server hostname.
	Host string

	// Port is the database server port.
	Port uint16

	// Database is the database name.
	Database string

	// User is the role to authenticate as.
	User string

	// Password is optional; hosts that authenticate on the guest's behalf
	// may use it, otherwise the guest authenticates in-band.
	Password string
}

// Transport is the four-function capability boundary.
//
// All methods may fail with a host-side error; the core wraps every failure
// in *types.TransportError naming the operation. Recv is a non-blocking
// poll: an empty slice means "no data yet", not end-of-stream.
type Transport interface {
	// Connect obtains a connection handle for the given parameters.
	Connect(cfg ConnectConfig) (Handle, error)

	// Send writes data to the connection and returns the byte count written.
	Send(h Handle, data []byte) (int, error)

	// Recv polls for up to maxBytes of inbound data. An empty result is not
	// an error; it signals that no bytes are currently available.
	Recv(h Handle, maxBytes int) ([]byte, error)

	// Close releases the handle. After Close returns the handle is invalid
	// regardless of the error value.
	Close(h Handle) error
}
