// Package protocol implements the binary wire format for wsession.
//
// Every application-level message travels as exactly one binary WebSocket
// message holding one encoded Message envelope. There is no multiplexing of
// several envelopes per transport frame.
//
// # Wire Format
//
// Each envelope starts with a 6-byte header:
//
//	┌─────────────┬──────────────┬───────────────────────────────┐
//	│ Type        │ Payload Tag  │ Payload Length                │
//	│ (1 byte)    │ (1 byte)     │ (4 bytes, big-endian)         │
//	└─────────────┴──────────────┴───────────────────────────────┘
//	│                                                             │
//	│  Payload (Payload Length bytes)                             │
//	│                                                             │
//	└─────────────────────────────────────────────────────────────┘
//
// The payload tag repeats the type. A decoder that finds the two disagreeing
// rejects the frame with ErrTypeMismatch instead of guessing which one is
// right.
//
// # Message Types
//
//   - TypeConnect (0x01): client opens a new logical session
//   - TypeDisconnect (0x02): either side ends the session for good
//   - TypeData (0x03): opaque application payload
//   - TypeHeartbeat (0x04): liveness probe carrying a timestamp
//   - TypeReconnect (0x05): client resumes an existing session
//   - TypeError (0x06): error report, never retried
//
// # Payload Encoding
//
// Strings are prefixed with a varint length. Fixed-width integers are
// big-endian. The Data payload is laid out as
//
//	[MessageID: uint64][Timestamp: uint64][Payload bytes to end of frame]
//
// The message id always sits at offset HeaderSize, which lets a sender encode
// a broadcast once and stamp a per-session id into copies of the frame with
// StampDataMessageID.
//
// # Zero-Copy Decoding
//
// Decode never copies DataPayload.Payload; it is a sub-slice of the buffer
// passed to Decode. Callers that reuse their read buffer must copy the payload
// before the next read.
//
// # Errors
//
// Decode failures are reported as *DecodeError. Use errors.Is with
// ErrTruncated, ErrUnknownType, ErrTypeMismatch, or ErrMalformed to classify
// them.
package protocol
