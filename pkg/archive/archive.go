// Package archive periodically uploads server statistics to S3.
//
// Each upload is one msgpack-encoded Snapshot stored under a dated key:
//
//	<prefix><node>/dt=2006-01-02/<unix-nanos>.msgpack
//
// Any S3-compatible store works; set Endpoint and UsePathStyle for MinIO
// or R2.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/vango-dev/wsession/pkg/server"
)

// ContentType is set on every uploaded object.
const ContentType = "application/msgpack"

// ErrNoBucket is returned by Validate when Bucket is empty.
var ErrNoBucket = errors.New("archive: bucket is required")

// Config configures an Archiver.
type Config struct {
	// Bucket is the destination bucket. Required.
	Bucket string

	// Prefix is prepended to every key, e.g. "wsession/".
	Prefix string

	// Region overrides the region from the AWS default chain.
	Region string

	// Endpoint is a custom S3 endpoint for S3-compatible stores.
	Endpoint string

	// UsePathStyle puts the bucket in the path instead of the host name.
	UsePathStyle bool

	// Interval between uploads.
	// Default: 1m
	Interval time.Duration

	// IncludeSessions adds per-session snapshots to each upload.
	IncludeSessions bool

	// Node names this process in keys. Default: the host name.
	Node string

	// Logger for upload events. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{Interval: time.Minute}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return ErrNoBucket
	}
	if c.Interval < 0 {
		return fmt.Errorf("archive: negative interval %s", c.Interval)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultConfig().Interval
	}
	if c.Node == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			c.Node = host
		} else {
			c.Node = "unknown"
		}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ObjectPutter is the part of *s3.Client the archiver uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Source supplies the data to archive. *server.Server implements it.
type Source interface {
	Stats() server.Stats
	Sessions() []server.SessionInfo
}

// Snapshot is one archived record.
type Snapshot struct {
	Node        string               `msgpack:"node"`
	CollectedAt time.Time            `msgpack:"collected_at"`
	Stats       server.Stats         `msgpack:"stats"`
	Sessions    []server.SessionInfo `msgpack:"sessions,omitempty"`
}

// Decode reads a Snapshot written by an Archiver.
func Decode(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("archive: decode snapshot: %w", err)
	}
	return s, nil
}

// NewS3Client builds an S3 client from the AWS default credential chain,
// applying the region, endpoint and path-style overrides in cfg.
func NewS3Client(ctx context.Context, cfg *Config) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}

// Archiver uploads snapshots of a Source.
type Archiver struct {
	cfg    *Config
	client ObjectPutter
	src    Source
	logger *slog.Logger

	now func() time.Time
}

// New creates an Archiver. cfg is copied; zero fields take defaults.
func New(client ObjectPutter, src Source, cfg *Config) (*Archiver, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c.applyDefaults()
	return &Archiver{
		cfg:    &c,
		client: client,
		src:    src,
		logger: c.Logger.With("component", "archive", "bucket", c.Bucket),
		now:    time.Now,
	}, nil
}

// Key returns the object key for a snapshot taken at t.
func (a *Archiver) Key(t time.Time) string {
	t = t.UTC()
	var b strings.Builder
	b.WriteString(a.cfg.Prefix)
	b.WriteString(a.cfg.Node)
	b.WriteString("/dt=")
	b.WriteString(t.Format("2006-01-02"))
	b.WriteByte('/')
	b.WriteString(strconv.FormatInt(t.UnixNano(), 10))
	b.WriteString(".msgpack")
	return b.String()
}

// Upload takes one snapshot and stores it. It returns the object key.
func (a *Archiver) Upload(ctx context.Context) (string, error) {
	now := a.now()
	snap := Snapshot{
		Node:        a.cfg.Node,
		CollectedAt: now.UTC(),
		Stats:       a.src.Stats(),
	}
	if a.cfg.IncludeSessions {
		snap.Sessions = a.src.Sessions()
	}

	body, err := msgpack.Marshal(&snap)
	if err != nil {
		return "", fmt.Errorf("archive: encode snapshot: %w", err)
	}

	key := a.Key(now)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(ContentType),
		Metadata: map[string]string{
			"node":     a.cfg.Node,
			"sessions": strconv.Itoa(snap.Stats.TotalSessions),
		},
	})
	if err != nil {
		return "", fmt.Errorf("archive: put %s: %w", key, err)
	}

	a.logger.Debug("snapshot uploaded", "key", key, "bytes", len(body))
	return key, nil
}

// Run uploads every Interval until ctx ends, then makes a final upload
// bounded by finalTimeout. Failed uploads are logged and retried on the
// next tick.
func (a *Archiver) Run(ctx context.Context, finalTimeout time.Duration) {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	a.logger.Info("archive started",
		"interval", a.cfg.Interval,
		"prefix", a.cfg.Prefix,
		"node", a.cfg.Node)

	for {
		select {
		case <-ticker.C:
			if _, err := a.Upload(ctx); err != nil {
				a.logger.Warn("snapshot upload failed", "error", err)
			}
		case <-ctx.Done():
			if finalTimeout > 0 {
				fctx, cancel := context.WithTimeout(context.Background(), finalTimeout)
				if _, err := a.Upload(fctx); err != nil {
					a.logger.Warn("final snapshot upload failed", "error", err)
				}
				cancel()
			}
			a.logger.Info("archive stopped")
			return
		}
	}
}
