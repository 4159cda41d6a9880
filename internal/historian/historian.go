// Package historian drains lobby activity records from a Redis list and persists them to
// Postgres in batches.
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/jason-s-yu/lobbyd/internal/lobby"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	DefaultBatchSize  = 20
	DefaultFlushDelay = 500 * time.Millisecond
	DefaultPopTimeout = 3 * time.Second
	DefaultRetryDelay = 2 * time.Second

	// pendingFactor bounds retained records to this many batches while writes fail.
	pendingFactor = 10

	flushTimeout = 10 * time.Second
)

// BatchWriter persists a batch atomically. *database.Archive implements it.
type BatchWriter interface {
	RecordBatch(ctx context.Context, acts []lobby.Activity) error
}

// Service pops records with BLPOP, accumulates them, and flushes when the batch is full or
// FlushDelay has passed since the last flush. While writes fail it keeps at most MaxPending
// records, dropping the oldest, and waits RetryDelay between attempts.
type Service struct {
	rdb    redis.Cmdable
	queue  string
	out    BatchWriter
	logger *logrus.Logger

	BatchSize  int
	FlushDelay time.Duration
	PopTimeout time.Duration
	RetryDelay time.Duration
	// MaxPending caps retained records. Zero means ten batches.
	MaxPending int

	batchMu   sync.Mutex
	batch     []lobby.Activity
	lastFlush time.Time
}

// New returns a Service with the default batch size and delays. A nil logger discards output.
func New(rdb redis.Cmdable, queue string, out BatchWriter, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Service{
		rdb:        rdb,
		queue:      queue,
		out:        out,
		logger:     logger,
		BatchSize:  DefaultBatchSize,
		FlushDelay: DefaultFlushDelay,
		PopTimeout: DefaultPopTimeout,
		RetryDelay: DefaultRetryDelay,
	}
}

// Run consumes the queue until ctx is cancelled, then flushes whatever is pending.
func (s *Service) Run(ctx context.Context) error {
	s.logger.WithField("queue", s.queue).Info("historian started")
	s.batchMu.Lock()
	s.lastFlush = time.Now()
	s.batchMu.Unlock()

	for {
		if ctx.Err() != nil {
			flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			err := s.Flush(flushCtx)
			cancel()
			s.logger.Info("historian shutting down")
			return err
		}

		res, err := s.rdb.BLPop(ctx, s.PopTimeout, s.queue).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			if ctx.Err() == nil {
				s.logger.WithError(err).Error("BLPOP failed")
				sleep(ctx, s.PopTimeout)
			}
		case len(res) == 2:
			// res[0] is the list name, res[1] the payload.
			var act lobby.Activity
			if err := json.Unmarshal([]byte(res[1]), &act); err != nil {
				s.logger.WithError(err).Warn("skipping invalid activity record")
				break
			}
			s.append(act)
		}

		if s.due() {
			if err := s.Flush(ctx); err != nil {
				s.logger.WithError(err).WithField("pending", s.Pending()).Error("failed to flush activity batch")
				sleep(ctx, s.RetryDelay)
			}
		}
	}
}

func (s *Service) append(act lobby.Activity) {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	s.batch = append(s.batch, act)
	limit := s.maxPending()
	if over := len(s.batch) - limit; over > 0 {
		s.batch = append(s.batch[:0], s.batch[over:]...)
		s.logger.WithFields(logrus.Fields{"dropped": over, "limit": limit}).Warn("activity backlog full, dropping oldest records")
	}
}

func (s *Service) batchSize() int {
	if s.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return s.BatchSize
}

func (s *Service) maxPending() int {
	if s.MaxPending > 0 {
		return s.MaxPending
	}
	return pendingFactor * s.batchSize()
}

func (s *Service) due() bool {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	if len(s.batch) == 0 {
		return false
	}
	return len(s.batch) >= s.batchSize() || time.Since(s.lastFlush) >= s.FlushDelay
}

// Pending is the number of records waiting for the next flush.
func (s *Service) Pending() int {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	return len(s.batch)
}

// Flush writes pending records in BatchSize chunks, one transaction per chunk. On failure
// the unwritten records are kept for the next flush.
func (s *Service) Flush(ctx context.Context) error {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	s.lastFlush = time.Now()
	size := s.batchSize()
	written := 0
	for len(s.batch) > 0 {
		n := min(size, len(s.batch))
		chunk := make([]lobby.Activity, n)
		copy(chunk, s.batch[:n])

		if err := s.out.RecordBatch(ctx, chunk); err != nil {
			return err
		}
		s.batch = append(s.batch[:0], s.batch[n:]...)
		written += n
	}
	if written > 0 {
		s.logger.WithField("count", written).Debug("flushed activity batch")
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
