package protocol

import (
	"errors"
	"fmt"
)

// ErrorCode identifies the error carried by an Error message.
type ErrorCode uint32

const (
	ErrCodeUnknown           ErrorCode = 0x0000 // Unknown error
	ErrCodeInvalidFrame      ErrorCode = 0x0001 // Frame failed to decode
	ErrCodeUnexpectedMessage ErrorCode = 0x0002 // Valid frame, wrong place
	ErrCodeHandshakeRequired ErrorCode = 0x0003 // First frame was not Connect/Reconnect
	ErrCodeSessionExpired    ErrorCode = 0x0004 // Session no longer resumable
	ErrCodeReplayIncomplete  ErrorCode = 0x0005 // Buffered frames were dropped
	ErrCodeCapacity          ErrorCode = 0x0006 // Server at session capacity
	ErrCodeServerError       ErrorCode = 0x0100 // Internal server error
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeUnknown:
		return "Unknown"
	case ErrCodeInvalidFrame:
		return "InvalidFrame"
	case ErrCodeUnexpectedMessage:
		return "UnexpectedMessage"
	case ErrCodeHandshakeRequired:
		return "HandshakeRequired"
	case ErrCodeSessionExpired:
		return "SessionExpired"
	case ErrCodeReplayIncomplete:
		return "ReplayIncomplete"
	case ErrCodeCapacity:
		return "Capacity"
	case ErrCodeServerError:
		return "ServerError"
	default:
		return fmt.Sprintf("Code(%d)", uint32(c))
	}
}

// Decode error classes. A *DecodeError unwraps to exactly one of these.
var (
	ErrTruncated    = errors.New("protocol: truncated frame")
	ErrUnknownType  = errors.New("protocol: unknown message type")
	ErrTypeMismatch = errors.New("protocol: payload tag does not match message type")
	ErrMalformed    = errors.New("protocol: malformed payload")
)

// Encode errors.
var (
	ErrNilPayload      = errors.New("protocol: message has no payload")
	ErrPayloadTooLarge = errors.New("protocol: payload too large")
	ErrNotDataFrame    = errors.New("protocol: not a data frame")
)

// DecodeErrorKind classifies a decode failure.
type DecodeErrorKind uint8

const (
	KindTruncated DecodeErrorKind = iota + 1
	KindUnknownType
	KindTypeMismatch
	KindMalformed
)

// String returns the string representation of the kind.
func (k DecodeErrorKind) String() string {
	switch k {
	case KindTruncated:
		return "Truncated"
	case KindUnknownType:
		return "UnknownType"
	case KindTypeMismatch:
		return "TypeMismatch"
	case KindMalformed:
		return "Malformed"
	default:
		return "Unknown"
	}
}

func (k DecodeErrorKind) sentinel() error {
	switch k {
	case KindTruncated:
		return ErrTruncated
	case KindUnknownType:
		return ErrUnknownType
	case KindTypeMismatch:
		return ErrTypeMismatch
	default:
		return ErrMalformed
	}
}

// DecodeError describes why a frame could not be decoded.
type DecodeError struct {
	Kind DecodeErrorKind
	Type MessageType // outer type byte, if the header was readable
	Tag  uint8       // payload tag byte, for TypeMismatch
	Want int         // bytes required, for Truncated
	Have int         // bytes available, for Truncated
	Err  error       // underlying primitive error, if any
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	switch e.Kind {
	case KindTruncated:
		if e.Want > 0 {
			return fmt.Sprintf("protocol: truncated %s frame: need %d bytes, have %d", e.Type, e.Want, e.Have)
		}
		return fmt.Sprintf("protocol: truncated %s payload: %v", e.Type, e.Err)
	case KindUnknownType:
		return fmt.Sprintf("protocol: unknown message type 0x%02x", uint8(e.Type))
	case KindTypeMismatch:
		return fmt.Sprintf("protocol: %s frame carries payload tag 0x%02x", e.Type, e.Tag)
	default:
		if e.Err != nil {
			return fmt.Sprintf("protocol: malformed %s payload: %v", e.Type, e.Err)
		}
		return fmt.Sprintf("protocol: malformed %s payload", e.Type)
	}
}

// Unwrap exposes the kind sentinel and the underlying cause.
func (e *DecodeError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind.sentinel(), e.Err}
	}
	return []error{e.Kind.sentinel()}
}
