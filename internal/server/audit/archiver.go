package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/clinvault/clinvault/internal/logging"
	"github.com/clinvault/clinvault/internal/server/models"
	"github.com/clinvault/clinvault/internal/server/repositories/auditevents"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
		return c.PutObject(ctx, in)
	}
)

// S3Options configures the archive destination.
type S3Options struct {
	RootUser     string
	RootPassword string
	Bucket       string
	Region       string
	BaseEndpoint string
}

// Archiver periodically exports new audit events as NDJSON batches to an
// S3-compatible store for off-box retention. It is an additional exporter:
// the Postgres table written by the Recorder remains the durable trail, so
// an archive failure is logged and retried, never escalated to requests.
type Archiver struct {
	repo      auditevents.Repository
	log       logging.Logger
	opts      S3Options
	interval  time.Duration
	batchSize int
	lastID    int64
}

func NewArchiver(repo auditevents.Repository, log logging.Logger, opts S3Options, interval time.Duration) *Archiver {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Archiver{repo: repo, log: log, opts: opts, interval: interval, batchSize: 1000}
}

// Run exports batches on a ticker until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.exportOnce(ctx); err != nil {
				a.log.Warn(ctx, "audit archive export failed", "error", err.Error())
			}
		}
	}
}

func (a *Archiver) exportOnce(ctx context.Context) error {
	events, err := a.repo.ListAfter(ctx, a.lastID, a.batchSize)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	body, err := encodeNDJSON(events)
	if err != nil {
		return err
	}

	client, err := a.getClient(ctx)
	if err != nil {
		return err
	}

	key := archiveKey(time.Now().UTC(), events[0].ID, events[len(events)-1].ID)
	if _, err := putObject(client, ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.opts.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/x-ndjson"),
	}); err != nil {
		return err
	}

	// advance the cursor only after a successful upload
	a.lastID = events[len(events)-1].ID
	a.log.Info(ctx, "audit batch archived", "key", key, "events", len(events))
	return nil
}

func (a *Archiver) getClient(ctx context.Context) (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(a.opts.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			a.opts.RootUser,
			a.opts.RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if a.opts.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(a.opts.BaseEndpoint)
		}
	}), nil
}

func encodeNDJSON(events []models.AuditEvent) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func archiveKey(now time.Time, firstID, lastID int64) string {
	return fmt.Sprintf("audit/%04d/%02d/%02d/%d-%d.ndjson",
		now.Year(), now.Month(), now.Day(), firstID, lastID)
}
