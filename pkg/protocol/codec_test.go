package protocol

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func sampleMessages() []Message {
	return []Message{
		NewConnect("3f1c9e4a-5b7d-4c2e-9a11-0d2f3b4c5d6e", "1.4.0"),
		NewConnect("", ""),
		NewReconnect("sess-1", 0),
		NewReconnect("sess-1", 1<<63+7),
		NewData(1, 1700000000000, []byte("hello")),
		NewData(42, 0, nil),
		NewData(^uint64(0), ^uint64(0), bytes.Repeat([]byte{0xAB}, 70000)),
		NewHeartbeat(1700000000123),
		NewDisconnect("client"),
		NewDisconnect(""),
		NewError(ErrCodeSessionExpired, "session expired", "id=sess-1"),
		NewError(ErrorCode(0xFFFFFFFF), "", ""),
	}
}

func messagesEqual(a, b Message) bool {
	if a.Type != b.Type {
		return false
	}
	da, okA := a.Payload.(*DataPayload)
	db, okB := b.Payload.(*DataPayload)
	if okA || okB {
		if !okA || !okB {
			return false
		}
		return da.MessageID == db.MessageID &&
			da.Timestamp == db.Timestamp &&
			bytes.Equal(da.Payload, db.Payload)
	}
	return reflect.DeepEqual(a.Payload, b.Payload)
}

func TestRoundTrip(t *testing.T) {
	for _, m := range sampleMessages() {
		t.Run(m.Type.String(), func(t *testing.T) {
			data, err := Encode(m)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if got := MessageType(data[0]); got != m.Type {
				t.Fatalf("header type = %v, want %v", got, m.Type)
			}

			got, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !messagesEqual(got, m) {
				t.Fatalf("Decode(Encode(m)) = %+v, want %+v", got.Payload, m.Payload)
			}
		})
	}
}

func TestAppendMessageReusesBuffer(t *testing.T) {
	buf := make([]byte, 0, 256)
	buf = append(buf, 0xEE)

	out, err := AppendMessage(buf, NewHeartbeat(99))
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if out[0] != 0xEE {
		t.Fatalf("AppendMessage() clobbered prefix byte")
	}

	m, err := Decode(out[1:])
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if hb := m.Payload.(*HeartbeatPayload); hb.Timestamp != 99 {
		t.Fatalf("Timestamp = %d, want 99", hb.Timestamp)
	}
}

func TestDecodeDataIsZeroCopy(t *testing.T) {
	data, err := Encode(NewData(7, 8, []byte("payload")))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	m, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	p := m.Payload.(*DataPayload).Payload

	// The payload must alias the input buffer.
	data[len(data)-1] = 'X'
	if p[len(p)-1] != 'X' {
		t.Fatalf("Data payload was copied; want a view into the frame")
	}
	if cap(p) != len(p) {
		t.Fatalf("cap(payload) = %d, want %d so appends cannot clobber the frame", cap(p), len(p))
	}
}

func TestDecodeErrors(t *testing.T) {
	valid, _ := Encode(NewConnect("abc", "1"))

	mismatch := append([]byte(nil), valid...)
	mismatch[1] = byte(TypeData)

	unknown := append([]byte(nil), valid...)
	unknown[0] = 0x7F

	zeroType := append([]byte(nil), valid...)
	zeroType[0], zeroType[1] = 0, 0

	longLength := append([]byte(nil), valid...)
	putUint32(longLength, 2, uint32(len(valid)))

	trailing := append(append([]byte(nil), valid...), 0x00)

	// Declared length is consistent but the string inside claims more bytes.
	badInner := []byte{byte(TypeDisconnect), byte(TypeDisconnect), 0, 0, 0, 2, 0x05, 'a'}

	shortData := []byte{byte(TypeData), byte(TypeData), 0, 0, 0, 4, 0, 0, 0, 1}

	tests := []struct {
		name string
		data []byte
		want error
		kind DecodeErrorKind
	}{
		{"empty", nil, ErrTruncated, KindTruncated},
		{"short header", valid[:3], ErrTruncated, KindTruncated},
		{"short payload", valid[:len(valid)-1], ErrTruncated, KindTruncated},
		{"declared length too long", longLength, ErrTruncated, KindTruncated},
		{"inner string overruns", badInner, ErrTruncated, KindTruncated},
		{"data header cut", shortData, ErrTruncated, KindTruncated},
		{"unknown type", unknown, ErrUnknownType, KindUnknownType},
		{"zero type", zeroType, ErrUnknownType, KindUnknownType},
		{"tag mismatch", mismatch, ErrTypeMismatch, KindTypeMismatch},
		{"trailing bytes", trailing, ErrMalformed, KindMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			if err == nil {
				t.Fatalf("Decode() error = nil, want %v", tt.want)
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("Decode() error = %v, want errors.Is %v", err, tt.want)
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("Decode() error type = %T, want *DecodeError", err)
			}
			if de.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", de.Kind, tt.kind)
			}
		})
	}
}

func TestEncodeRejectsInvalidMessages(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want error
	}{
		{"nil payload", Message{Type: TypeData}, ErrNilPayload},
		{"unknown type", Message{Type: 0x42, Payload: &HeartbeatPayload{}}, ErrUnknownType},
		{"mismatch", Message{Type: TypeData, Payload: &HeartbeatPayload{}}, ErrTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Encode(tt.msg); !errors.Is(err, tt.want) {
				t.Fatalf("Encode() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestStampDataMessageID(t *testing.T) {
	frame, err := Encode(NewData(0, 55, []byte("fan-out")))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	for _, id := range []uint64{1, 2, 1 << 40} {
		cp := append([]byte(nil), frame...)
		if err := StampDataMessageID(cp, id); err != nil {
			t.Fatalf("StampDataMessageID() error = %v", err)
		}
		m, err := Decode(cp)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		d := m.Payload.(*DataPayload)
		if d.MessageID != id || d.Timestamp != 55 || string(d.Payload) != "fan-out" {
			t.Fatalf("stamped frame = %+v, want id %d", d, id)
		}
	}

	hb, _ := Encode(NewHeartbeat(1))
	if err := StampDataMessageID(hb, 1); !errors.Is(err, ErrNotDataFrame) {
		t.Fatalf("StampDataMessageID(heartbeat) error = %v, want ErrNotDataFrame", err)
	}
}

func TestPeekType(t *testing.T) {
	frame, _ := Encode(NewDisconnect("bye"))
	if typ, ok := PeekType(frame); !ok || typ != TypeDisconnect {
		t.Fatalf("PeekType() = %v, %v; want Disconnect, true", typ, ok)
	}
	if _, ok := PeekType([]byte{0x03}); ok {
		t.Fatalf("PeekType(short) ok = true, want false")
	}
}

func TestErrorPayloadError(t *testing.T) {
	p := &ErrorPayload{Code: ErrCodeReplayIncomplete, Message: "frames dropped", Details: "ids 3-9"}
	if got, want := p.Error(), "ReplayIncomplete: frames dropped (ids 3-9)"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
	if got := ErrorCode(77).String(); got != "Code(77)" {
		t.Fatalf("String() = %q, want Code(77)", got)
	}
}
