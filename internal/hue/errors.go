package hue

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the bridge client. Callers classify failures with errors.Is.
var (
	// ErrTransport covers connection, timeout and non-2xx HTTP failures.
	ErrTransport = errors.New("bridge transport failure")

	// ErrDecode means the bridge answered with a payload of an unexpected shape.
	ErrDecode = errors.New("unexpected bridge response")

	// ErrAddressParse is returned for malformed bridge addresses.
	ErrAddressParse = errors.New("invalid bridge address")

	// ErrOutOfRange is returned by the unit converters for inputs outside their domain.
	ErrOutOfRange = errors.New("value out of range")

	// ErrLinkButtonNotPressed is the retryable pairing outcome.
	ErrLinkButtonNotPressed = errors.New("link button not pressed")
)

// Bridge error types (v1 API).
const (
	ErrorTypeUnauthorizedUser  = 1
	ErrorTypeInvalidJSON       = 2
	ErrorTypeResourceNotFound  = 3
	ErrorTypeParameterNotAvail = 6
	ErrorTypeInvalidValue      = 7
	ErrorTypeLinkButton        = 101
)

// APIError is an error record reported by the bridge:
//
//	{"error":{"type":101,"address":"","description":"link button not pressed"}}
type APIError struct {
	Type        int    `json:"type"`
	Address     string `json:"address,omitempty"`
	Description string `json:"description,omitempty"`
}

func (e *APIError) Error() string {
	if e.Address != "" {
		return fmt.Sprintf("bridge error %d at %s: %s", e.Type, e.Address, e.Description)
	}
	return fmt.Sprintf("bridge error %d: %s", e.Type, e.Description)
}

// Is lets errors.Is(err, ErrLinkButtonNotPressed) match the bridge's 101 record.
func (e *APIError) Is(target error) bool {
	return target == ErrLinkButtonNotPressed && e.Type == ErrorTypeLinkButton
}

func transportError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
}

func decodeError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrDecode, err)
}

func decodeErrorf(op, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %s", op, ErrDecode, fmt.Sprintf(format, args...))
}
