package engine

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// Command gating errors returned by OpenDoor and CloseDoor
var (
	ErrNotConnected           = errors.New("not connected to VTO")
	ErrDoorControlUnavailable = errors.New("door control unavailable: access control instance not loaded")
	ErrDoorOnHold             = errors.New("door is on hold after a recent unlock")
	ErrStopped                = errors.New("engine stopped")
)

// TransportErrorKind classifies failures of the device link
type TransportErrorKind int

const (
	TransportGeneral TransportErrorKind = iota
	TransportTimeout
	TransportRefused
	TransportDNS
	TransportUnreachable
	TransportClosed
)

func (k TransportErrorKind) String() string {
	switch k {
	case TransportGeneral:
		return "network error"
	case TransportTimeout:
		return "timeout"
	case TransportRefused:
		return "connection refused"
	case TransportDNS:
		return "DNS error"
	case TransportUnreachable:
		return "unreachable"
	case TransportClosed:
		return "closed by peer"
	default:
		return fmt.Sprintf("TransportErrorKind(%d)", int(k))
	}
}

// TransportError is a connect or read failure on the device link. All of
// them are recoverable by reconnecting.
type TransportError struct {
	Kind    TransportErrorKind
	Address string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s (caused by: %v)", e.Address, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ClassifyTransportError wraps err with the kind of link failure it represents
func ClassifyTransportError(err error, address string) *TransportError {
	if err == nil {
		return nil
	}

	te := &TransportError{Kind: TransportGeneral, Address: address, Err: err}

	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.ECONNRESET) {
		te.Kind = TransportClosed
		return te
	}

	if os.IsTimeout(err) {
		te.Kind = TransportTimeout
		return te
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		te.Kind = TransportDNS
		return te
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch {
		case errors.Is(opErr.Err, syscall.ECONNREFUSED):
			te.Kind = TransportRefused
		case errors.Is(opErr.Err, syscall.EHOSTUNREACH), errors.Is(opErr.Err, syscall.ENETUNREACH):
			te.Kind = TransportUnreachable
		}
	}

	return te
}
