package protocol

import (
	"errors"
	"io"
	"math"
)

const (
	// HeaderSize is the size of the envelope header in bytes.
	HeaderSize = 6

	// dataIDOffset is where a Data frame stores its message id.
	dataIDOffset = HeaderSize
)

// Encode encodes m into a newly allocated buffer.
func Encode(m Message) ([]byte, error) {
	return AppendMessage(nil, m)
}

// AppendMessage appends the encoding of m to dst and returns the extended
// buffer. dst is returned unchanged on error.
func AppendMessage(dst []byte, m Message) ([]byte, error) {
	if !m.Type.Valid() {
		return dst, &DecodeError{Kind: KindUnknownType, Type: m.Type}
	}
	if m.Payload == nil {
		return dst, ErrNilPayload
	}
	if tag := m.Payload.MessageType(); tag != m.Type {
		return dst, &DecodeError{Kind: KindTypeMismatch, Type: m.Type, Tag: uint8(tag)}
	}

	start := len(dst)
	e := NewEncoderBuffer(dst)
	e.WriteByte(byte(m.Type))
	e.WriteByte(byte(m.Type))
	e.WriteUint32(0)
	m.Payload.encodeTo(e)

	buf := e.Bytes()
	n := len(buf) - start - HeaderSize
	if uint64(n) > math.MaxUint32 {
		return dst, ErrPayloadTooLarge
	}
	putUint32(buf, start+2, uint32(n))
	return buf, nil
}

// Decode decodes one envelope from data. DataPayload.Payload aliases data.
func Decode(data []byte) (Message, error) {
	if len(data) < HeaderSize {
		return Message{}, &DecodeError{Kind: KindTruncated, Want: HeaderSize, Have: len(data)}
	}

	t := MessageType(data[0])
	if !t.Valid() {
		return Message{}, &DecodeError{Kind: KindUnknownType, Type: t}
	}
	if tag := data[1]; tag != byte(t) {
		return Message{}, &DecodeError{Kind: KindTypeMismatch, Type: t, Tag: tag}
	}

	length := uint64(readUint32(data, 2))
	have := uint64(len(data) - HeaderSize)
	if have < length {
		return Message{}, &DecodeError{Kind: KindTruncated, Type: t, Want: int(length) + HeaderSize, Have: len(data)}
	}
	if have > length {
		return Message{}, &DecodeError{Kind: KindMalformed, Type: t, Err: errTrailingBytes}
	}

	d := NewDecoder(data[HeaderSize:])
	p, err := decodePayload(t, d)
	if err != nil {
		return Message{}, payloadError(t, err)
	}
	if d.Remaining() != 0 {
		return Message{}, &DecodeError{Kind: KindMalformed, Type: t, Err: errTrailingBytes}
	}
	return Message{Type: t, Payload: p}, nil
}

var errTrailingBytes = errors.New("trailing bytes after payload")

// decodePayload switches exhaustively over the defined types.
func decodePayload(t MessageType, d *Decoder) (Payload, error) {
	switch t {
	case TypeConnect:
		id, err := d.ReadString()
		if err != nil {
			return nil, err
		}
		version, err := d.ReadString()
		if err != nil {
			return nil, err
		}
		return &ConnectPayload{SessionID: id, ClientVersion: version}, nil

	case TypeReconnect:
		id, err := d.ReadString()
		if err != nil {
			return nil, err
		}
		last, err := d.ReadUint64()
		if err != nil {
			return nil, err
		}
		return &ReconnectPayload{SessionID: id, LastMessageID: last}, nil

	case TypeData:
		id, err := d.ReadUint64()
		if err != nil {
			return nil, err
		}
		ts, err := d.ReadUint64()
		if err != nil {
			return nil, err
		}
		return &DataPayload{MessageID: id, Timestamp: ts, Payload: d.Rest()}, nil

	case TypeHeartbeat:
		ts, err := d.ReadUint64()
		if err != nil {
			return nil, err
		}
		return &HeartbeatPayload{Timestamp: ts}, nil

	case TypeDisconnect:
		reason, err := d.ReadString()
		if err != nil {
			return nil, err
		}
		return &DisconnectPayload{Reason: reason}, nil

	case TypeError:
		code, err := d.ReadUint32()
		if err != nil {
			return nil, err
		}
		msg, err := d.ReadString()
		if err != nil {
			return nil, err
		}
		details, err := d.ReadString()
		if err != nil {
			return nil, err
		}
		return &ErrorPayload{Code: ErrorCode(code), Message: msg, Details: details}, nil

	default:
		return nil, &DecodeError{Kind: KindUnknownType, Type: t}
	}
}

func payloadError(t MessageType, err error) error {
	var de *DecodeError
	if errors.As(err, &de) {
		return de
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return &DecodeError{Kind: KindTruncated, Type: t, Err: err}
	}
	return &DecodeError{Kind: KindMalformed, Type: t, Err: err}
}

// PeekType returns the message type of an encoded frame without decoding it.
func PeekType(frame []byte) (MessageType, bool) {
	if len(frame) < HeaderSize {
		return 0, false
	}
	t := MessageType(frame[0])
	return t, t.Valid()
}

// StampDataMessageID overwrites the message id of an encoded Data frame in
// place. It is used to fan one encoded frame out to several sessions.
func StampDataMessageID(frame []byte, id uint64) error {
	if len(frame) < HeaderSize+8 || MessageType(frame[0]) != TypeData {
		return ErrNotDataFrame
	}
	putUint64(frame, dataIDOffset, id)
	return nil
}
