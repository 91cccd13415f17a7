package device

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the category of a failure reported to callers
type Kind string

const (
	AdapterUnavailable     Kind = "adapter_unavailable"
	PermissionDenied       Kind = "permission_denied"
	AlreadyScanning        Kind = "already_scanning"
	NotConnected           Kind = "not_connected"
	OperationInProgress    Kind = "operation_in_progress"
	ConnectionFailed       Kind = "connection_error"
	DiscoveryFailed        Kind = "discovery_failed"
	ServiceNotFound        Kind = "service_not_found"
	CharacteristicNotFound Kind = "characteristic_not_found"
	DescriptorNotFound     Kind = "descriptor_not_found"
	ReadFailed             Kind = "read_failed"
	WriteFailed            Kind = "write_failed"
)

// Error is the error type every client operation resolves with.
// Two Errors match under errors.Is when their kinds are equal.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Kind)
	if e.Msg != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Is allows errors.Is to compare Error values by Kind
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Predefined sentinel errors, one per kind
var (
	ErrAdapterUnavailable     = &Error{Kind: AdapterUnavailable}
	ErrPermissionDenied       = &Error{Kind: PermissionDenied}
	ErrAlreadyScanning        = &Error{Kind: AlreadyScanning}
	ErrNotConnected           = &Error{Kind: NotConnected}
	ErrOperationInProgress    = &Error{Kind: OperationInProgress}
	ErrConnection             = &Error{Kind: ConnectionFailed}
	ErrDiscoveryFailed        = &Error{Kind: DiscoveryFailed}
	ErrServiceNotFound        = &Error{Kind: ServiceNotFound}
	ErrCharacteristicNotFound = &Error{Kind: CharacteristicNotFound}
	ErrDescriptorNotFound     = &Error{Kind: DescriptorNotFound}
	ErrReadFailed             = &Error{Kind: ReadFailed}
	ErrWriteFailed            = &Error{Kind: WriteFailed}
)

// Causes wrapped inside kinded errors
var (
	ErrTimeout          = errors.New("timeout")
	ErrUnsupported      = errors.New("unsupported")
	ErrAlreadyConnected = errors.New("already connected")
	ErrBluetoothOff     = errors.New("bluetooth is turned off")
)

// NewError builds a kinded error with an optional message and cause
func NewError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Wrap attaches kind to err unless err already carries a kind
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != "" {
		return err
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf reports the kind carried by err, or "" for foreign errors
func KindOf(err error) Kind {
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr.Kind
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return nf.Kind()
	}
	return ""
}

// NotFoundError represents an error when a GATT resource is not found
type NotFoundError struct {
	Resource string   // "service", "characteristic", "descriptor"
	UUIDs    []string // path from the service down to the missing resource
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	parent := "service"
	if e.Resource == "descriptor" {
		parent = "characteristic"
	}
	return fmt.Sprintf("%s %q not found in %s %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], parent, e.UUIDs[len(e.UUIDs)-2])
}

// Kind maps the missing resource onto its error kind
func (e *NotFoundError) Kind() Kind {
	switch e.Resource {
	case "service":
		return ServiceNotFound
	case "characteristic":
		return CharacteristicNotFound
	case "descriptor":
		return DescriptorNotFound
	default:
		return ""
	}
}

// Is lets errors.Is(err, ErrServiceNotFound) and friends match
func (e *NotFoundError) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind()
}

// ContainsIgnoreCase checks the substring case-insensitively
func ContainsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
