// Package archive moves consumed tasks out of the live database once
// they age past the retention window, optionally parking a JSON copy
// of each batch in S3 first.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/me/slotq/internal/config"
	"github.com/me/slotq/internal/envrt"
	"github.com/me/slotq/internal/store"
	"github.com/me/slotq/pkg/model"
)

// Uploader stores one object per swept batch.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader) error
}

// S3Uploader writes batch objects to an S3 bucket.
type S3Uploader struct {
	bucket string
	up     *manager.Uploader
}

// NewS3Uploader resolves AWS credentials from the environment and
// builds an uploader for the given bucket.
func NewS3Uploader(ctx context.Context, bucket, region string) (*S3Uploader, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return &S3Uploader{bucket: bucket, up: manager.NewUploader(client)}, nil
}

func (u *S3Uploader) Upload(ctx context.Context, key string, body io.Reader) error {
	_, err := u.up.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String("application/json"),
	})
	return err
}

// Clock supplies the current slot. Engine clocks satisfy it.
type Clock interface {
	Now() model.Slot
}

// Sweeper deletes consumed tasks whose target slot fell out of the
// retention window, along with their queue entries and any
// environments no remaining task references.
type Sweeper struct {
	cfg      config.ArchiveConfig
	store    store.Store
	runtime  *envrt.Runtime
	clock    Clock
	uploader Uploader
	logger   *slog.Logger

	mu       sync.Mutex
	sweeping bool
	lastErr  error
	swept    uint64
}

// NewSweeper builds a sweeper. The uploader may be nil, in which case
// swept tasks are deleted without an S3 copy.
func NewSweeper(cfg config.ArchiveConfig, st store.Store, rt *envrt.Runtime, clock Clock, uploader Uploader, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		cfg:      cfg,
		store:    st,
		runtime:  rt,
		clock:    clock,
		uploader: uploader,
		logger:   logger.With("component", "archive"),
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval.Std())
	defer ticker.Stop()
	s.logger.Info("retention sweeper started",
		"retention_slots", s.cfg.RetentionSlots,
		"interval", s.cfg.Interval.String(),
		"batch_size", s.cfg.BatchSize)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention sweeper stopped")
			return
		case <-ticker.C:
			n, err := s.SweepOnce(ctx)
			if err != nil {
				s.logger.Error("sweep failed", "error", err)
			} else if n > 0 {
				s.logger.Info("sweep complete", "tasks", n)
			}
		}
	}
}

// SweepOnce archives every eligible batch and reports how many tasks
// were removed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.clock.Now()
	if uint64(now) <= s.cfg.RetentionSlots {
		return 0, nil
	}
	cutoff := now - model.Slot(s.cfg.RetentionSlots)

	s.setSweeping(true)
	defer s.setSweeping(false)

	total := 0
	for {
		n, orphans, err := s.sweepBatch(ctx, cutoff)
		if err != nil {
			s.fail(err)
			return total, err
		}
		// The rows are gone once the batch commits; only then may the
		// compiled programs be dropped.
		s.runtime.Forget(orphans...)
		total += n
		if n < s.cfg.BatchSize {
			break
		}
	}
	s.finish(total)
	return total, nil
}

// sweepBatch removes one batch of consumed tasks older than cutoff,
// uploading a JSON copy first when an uploader is configured. It
// returns the batch size and the IDs of environment rows deleted
// along with it.
func (s *Sweeper) sweepBatch(ctx context.Context, cutoff model.Slot) (int, []string, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("begin sweep: %w", err)
	}
	defer tx.Rollback()

	tasks, err := tx.SweepCandidates(cutoff, s.cfg.BatchSize)
	if err != nil {
		return 0, nil, fmt.Errorf("sweep candidates: %w", err)
	}
	if len(tasks) == 0 {
		return 0, nil, nil
	}

	// Upload before delete so a failed put never loses rows.
	if s.uploader != nil {
		if err := s.upload(ctx, tasks); err != nil {
			return 0, nil, err
		}
	}

	ids := make([]string, len(tasks))
	seen := make(map[string]bool)
	var envIDs []string
	for i, t := range tasks {
		ids[i] = t.ID
		if !seen[t.EnvironmentID] {
			seen[t.EnvironmentID] = true
			envIDs = append(envIDs, t.EnvironmentID)
		}
	}

	if err := tx.DeleteQueueEntries(ids); err != nil {
		return 0, nil, fmt.Errorf("delete queue entries: %w", err)
	}
	if err := tx.DeleteTasks(ids); err != nil {
		return 0, nil, fmt.Errorf("delete tasks: %w", err)
	}
	orphans, err := tx.OrphanEnvironments(envIDs)
	if err != nil {
		return 0, nil, fmt.Errorf("find orphan environments: %w", err)
	}
	if len(orphans) > 0 {
		if err := tx.DeleteEnvironments(orphans); err != nil {
			return 0, nil, fmt.Errorf("delete environments: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("commit sweep: %w", err)
	}
	return len(tasks), orphans, nil
}

func (s *Sweeper) upload(ctx context.Context, tasks []*model.Task) error {
	body, err := json.Marshal(tasks)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	key := s.objectKey(tasks[0].TargetSlot)
	if err := s.uploader.Upload(ctx, key, bytes.NewReader(body)); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	s.logger.Debug("batch uploaded", "key", key, "tasks", len(tasks))
	return nil
}

// objectKey names a batch by its oldest slot plus a random suffix so
// retried sweeps never overwrite an earlier object.
func (s *Sweeper) objectKey(first model.Slot) string {
	key := fmt.Sprintf("tasks-%012d-%s.json", uint64(first), uuid.New().String()[:8])
	if s.cfg.Prefix != "" {
		key = strings.TrimSuffix(s.cfg.Prefix, "/") + "/" + key
	}
	return key
}

// Status summarizes sweeper health for the server's health endpoint.
func (s *Sweeper) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.lastErr != nil:
		return "error: " + s.lastErr.Error()
	case s.sweeping:
		return "sweeping"
	case s.swept > 0:
		return fmt.Sprintf("idle (%d archived)", s.swept)
	default:
		return "idle"
	}
}

func (s *Sweeper) setSweeping(v bool) {
	s.mu.Lock()
	s.sweeping = v
	s.mu.Unlock()
}

func (s *Sweeper) fail(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Sweeper) finish(n int) {
	s.mu.Lock()
	s.lastErr = nil
	s.swept += uint64(n)
	s.mu.Unlock()
}
