package protocol

// MessageType identifies the kind of envelope.
type MessageType uint8

const (
	TypeConnect    MessageType = 0x01 // Client opens a new session
	TypeDisconnect MessageType = 0x02 // Session ends for good
	TypeData       MessageType = 0x03 // Opaque application payload
	TypeHeartbeat  MessageType = 0x04 // Liveness probe
	TypeReconnect  MessageType = 0x05 // Client resumes a session
	TypeError      MessageType = 0x06 // Error report
)

// String returns the string representation of the message type.
func (t MessageType) String() string {
	switch t {
	case TypeConnect:
		return "Connect"
	case TypeDisconnect:
		return "Disconnect"
	case TypeData:
		return "Data"
	case TypeHeartbeat:
		return "Heartbeat"
	case TypeReconnect:
		return "Reconnect"
	case TypeError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Valid reports whether t is one of the defined message types.
func (t MessageType) Valid() bool {
	return t >= TypeConnect && t <= TypeError
}

// Payload is the typed body of a Message. The set of implementations is
// closed; each payload reports the MessageType it belongs to.
type Payload interface {
	MessageType() MessageType
	encodeTo(e *Encoder)
}

// Message is one wire envelope.
type Message struct {
	Type    MessageType
	Payload Payload
}

// ConnectPayload opens a new logical session.
type ConnectPayload struct {
	SessionID     string
	ClientVersion string
}

// ReconnectPayload resumes a session. LastMessageID is the highest Data
// message id the client has processed from the server.
type ReconnectPayload struct {
	SessionID     string
	LastMessageID uint64
}

// DataPayload carries opaque application bytes.
type DataPayload struct {
	MessageID uint64
	Timestamp uint64 // milliseconds since the Unix epoch
	Payload   []byte
}

// HeartbeatPayload is a liveness probe.
type HeartbeatPayload struct {
	Timestamp uint64
}

// DisconnectPayload ends a session.
type DisconnectPayload struct {
	Reason string
}

// ErrorPayload reports an error to the peer.
type ErrorPayload struct {
	Code    ErrorCode
	Message string
	Details string
}

func (*ConnectPayload) MessageType() MessageType    { return TypeConnect }
func (*ReconnectPayload) MessageType() MessageType  { return TypeReconnect }
func (*DataPayload) MessageType() MessageType       { return TypeData }
func (*HeartbeatPayload) MessageType() MessageType  { return TypeHeartbeat }
func (*DisconnectPayload) MessageType() MessageType { return TypeDisconnect }
func (*ErrorPayload) MessageType() MessageType      { return TypeError }

func (p *ConnectPayload) encodeTo(e *Encoder) {
	e.WriteString(p.SessionID)
	e.WriteString(p.ClientVersion)
}

func (p *ReconnectPayload) encodeTo(e *Encoder) {
	e.WriteString(p.SessionID)
	e.WriteUint64(p.LastMessageID)
}

func (p *DataPayload) encodeTo(e *Encoder) {
	e.WriteUint64(p.MessageID)
	e.WriteUint64(p.Timestamp)
	e.WriteBytes(p.Payload)
}

func (p *HeartbeatPayload) encodeTo(e *Encoder) {
	e.WriteUint64(p.Timestamp)
}

func (p *DisconnectPayload) encodeTo(e *Encoder) {
	e.WriteString(p.Reason)
}

func (p *ErrorPayload) encodeTo(e *Encoder) {
	e.WriteUint32(uint32(p.Code))
	e.WriteString(p.Message)
	e.WriteString(p.Details)
}

// Error implements the error interface so a received ErrorPayload can be
// surfaced directly.
func (p *ErrorPayload) Error() string {
	if p.Details != "" {
		return p.Code.String() + ": " + p.Message + " (" + p.Details + ")"
	}
	return p.Code.String() + ": " + p.Message
}

// NewConnect builds a Connect message.
func NewConnect(sessionID, clientVersion string) Message {
	return Message{Type: TypeConnect, Payload: &ConnectPayload{SessionID: sessionID, ClientVersion: clientVersion}}
}

// NewReconnect builds a Reconnect message.
func NewReconnect(sessionID string, lastMessageID uint64) Message {
	return Message{Type: TypeReconnect, Payload: &ReconnectPayload{SessionID: sessionID, LastMessageID: lastMessageID}}
}

// NewData builds a Data message. payload is referenced, not copied.
func NewData(messageID, timestamp uint64, payload []byte) Message {
	return Message{Type: TypeData, Payload: &DataPayload{MessageID: messageID, Timestamp: timestamp, Payload: payload}}
}

// NewHeartbeat builds a Heartbeat message.
func NewHeartbeat(timestamp uint64) Message {
	return Message{Type: TypeHeartbeat, Payload: &HeartbeatPayload{Timestamp: timestamp}}
}

// NewDisconnect builds a Disconnect message.
func NewDisconnect(reason string) Message {
	return Message{Type: TypeDisconnect, Payload: &DisconnectPayload{Reason: reason}}
}

// NewError builds an Error message.
func NewError(code ErrorCode, message, details string) Message {
	return Message{Type: TypeError, Payload: &ErrorPayload{Code: code, Message: message, Details: details}}
}
