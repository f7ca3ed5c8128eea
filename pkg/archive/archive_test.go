package archive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vango-dev/wsession/pkg/server"
)

type putCall struct {
	bucket, key, contentType string
	metadata                 map[string]string
	body                     []byte
}

type fakePutter struct {
	mu    sync.Mutex
	calls []putCall
	err   error
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, putCall{
		bucket:      *in.Bucket,
		key:         *in.Key,
		contentType: *in.ContentType,
		metadata:    in.Metadata,
		body:        body,
	})
	return &s3.PutObjectOutput{}, nil
}

func (f *fakePutter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSource struct {
	stats    server.Stats
	sessions []server.SessionInfo
}

func (s *fakeSource) Stats() server.Stats            { return s.stats }
func (s *fakeSource) Sessions() []server.SessionInfo { return s.sessions }

func testConfig() *Config {
	return &Config{
		Bucket: "stats",
		Prefix: "wsession/",
		Node:   "node-1",
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Bucket: "b"}, false},
		{"missing bucket", Config{}, true},
		{"negative interval", Config{Bucket: "b", Interval: -time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if _, err := New(&fakePutter{}, &fakeSource{}, &Config{}); !errors.Is(err, ErrNoBucket) {
		t.Fatalf("New() error = %v, want ErrNoBucket", err)
	}
}

func TestKey(t *testing.T) {
	a, err := New(&fakePutter{}, &fakeSource{}, testConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	at := time.Date(2026, 3, 4, 5, 6, 7, 8, time.UTC)
	want := "wsession/node-1/dt=2026-03-04/" + "1772600767000000008" + ".msgpack"
	if got := a.Key(at); got != want {
		t.Fatalf("Key() = %q, want %q", got, want)
	}
}

func TestUpload(t *testing.T) {
	put := &fakePutter{}
	src := &fakeSource{
		stats: server.Stats{ConnectedSessions: 2, TotalSessions: 3, MessagesSent: 42},
		sessions: []server.SessionInfo{
			{ID: "a", Connected: true, LastOutboundID: 7},
			{ID: "b"},
		},
	}
	cfg := testConfig()
	cfg.IncludeSessions = true
	a, err := New(put, src, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	a.now = func() time.Time { return at }

	key, err := a.Upload(context.Background())
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if put.count() != 1 {
		t.Fatalf("PutObject calls = %d, want 1", put.count())
	}
	call := put.calls[0]
	if call.bucket != "stats" || call.key != key || call.contentType != ContentType {
		t.Fatalf("PutObject(%q, %q, %q)", call.bucket, call.key, call.contentType)
	}
	if call.metadata["sessions"] != "3" || call.metadata["node"] != "node-1" {
		t.Fatalf("metadata = %v", call.metadata)
	}

	snap, err := Decode(call.body)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if snap.Node != "node-1" || !snap.CollectedAt.Equal(at) {
		t.Fatalf("snapshot header = %q %v", snap.Node, snap.CollectedAt)
	}
	if snap.Stats.MessagesSent != 42 || snap.Stats.ConnectedSessions != 2 {
		t.Fatalf("snapshot stats = %+v", snap.Stats)
	}
	if len(snap.Sessions) != 2 || snap.Sessions[0].ID != "a" || snap.Sessions[0].LastOutboundID != 7 {
		t.Fatalf("snapshot sessions = %+v", snap.Sessions)
	}
}

func TestUploadWithoutSessions(t *testing.T) {
	put := &fakePutter{}
	src := &fakeSource{sessions: []server.SessionInfo{{ID: "a"}}}
	a, _ := New(put, src, testConfig())

	if _, err := a.Upload(context.Background()); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	snap, err := Decode(put.calls[0].body)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(snap.Sessions) != 0 {
		t.Fatalf("Sessions = %v, want none", snap.Sessions)
	}
}

func TestUploadError(t *testing.T) {
	put := &fakePutter{err: errors.New("access denied")}
	a, _ := New(put, &fakeSource{}, testConfig())

	_, err := a.Upload(context.Background())
	if err == nil || !strings.Contains(err.Error(), "access denied") {
		t.Fatalf("Upload() error = %v, want wrapped put error", err)
	}
}

func TestRunUploadsEachInterval(t *testing.T) {
	put := &fakePutter{}
	cfg := testConfig()
	cfg.Interval = 5 * time.Millisecond
	a, _ := New(put, &fakeSource{}, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx, 0)

	deadline := time.Now().Add(2 * time.Second)
	for put.count() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("uploads = %d, want at least 3", put.count())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRunFinalUpload(t *testing.T) {
	put := &fakePutter{}
	cfg := testConfig()
	cfg.Interval = time.Hour
	a, _ := New(put, &fakeSource{}, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a.Run(ctx, time.Second)

	if got := put.count(); got != 1 {
		t.Fatalf("uploads = %d, want 1 final upload", got)
	}
}

func TestDecodeGarbage(t *testing.T) {
	if _, err := Decode([]byte{0xc1}); err == nil {
		t.Fatal("Decode() error = nil, want error")
	}
}
