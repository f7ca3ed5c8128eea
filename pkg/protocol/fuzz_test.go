package protocol

import "testing"

// FuzzDecode checks that arbitrary input never panics and that anything
// that decodes survives another encode/decode pass unchanged.
func FuzzDecode(f *testing.F) {
	for _, m := range sampleMessages() {
		data, err := Encode(m)
		if err != nil {
			f.Fatalf("Encode() error = %v", err)
		}
		if len(data) < 4096 {
			f.Add(data)
		}
	}
	f.Add([]byte{})
	f.Add([]byte{0x03, 0x03, 0xFF, 0xFF, 0xFF, 0xFF})

	f.Fuzz(func(t *testing.T, data []byte) {
		m, err := Decode(data)
		if err != nil {
			return
		}
		out, err := Encode(m)
		if err != nil {
			t.Fatalf("Encode(Decode(data)) error = %v", err)
		}
		again, err := Decode(out)
		if err != nil {
			t.Fatalf("Decode(Encode(m)) error = %v", err)
		}
		if !messagesEqual(again, m) {
			t.Fatalf("second pass = %+v, want %+v", again.Payload, m.Payload)
		}
	})
}
