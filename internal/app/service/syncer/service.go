package syncer

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/rs/xid"
	"metalink/internal/app/apperr"
	"metalink/internal/app/logger"
	"metalink/internal/app/model"
	"metalink/pkg/ledger"
	"sync"
	"time"
)

// ErrRetryable is returned by a job that should run again after the poll interval.
var ErrRetryable = errors.New("retryable")

// Receipts reports the ledger state of a submitted transfer.
type Receipts interface {
	TransferStatus(ctx context.Context, hash string) (ledger.Status, error)
}

// StatusUpdater resolves pending transactions.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.Status, hash string) (*model.Transaction, error)
}

// Job is a unit of work. Exhausted, when set, runs once the job has used
// all of its attempts.
type Job struct {
	Name      string
	Do        func(ctx context.Context) error
	Exhausted func(ctx context.Context)
}

type task struct {
	id      xid.ID
	job     Job
	attempt int
}

type Service struct {
	logger       logger.Logger
	receipts     Receipts
	transactions StatusUpdater

	tasks   chan *task
	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup

	workers      int
	pollInterval time.Duration
	maxAttempts  int
	jobTimeout   time.Duration
}

func (s *Service) LoggerComponent() string {
	return "ConfirmationSync.Service"
}

type Option func(*Service)

func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithJobTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.jobTimeout = d
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

func New(receipts Receipts, transactions StatusUpdater, opts ...Option) *Service {
	s := &Service{
		logger:       *logger.Global(),
		receipts:     receipts,
		transactions: transactions,
		tasks:        make(chan *task),
		stopCh:       make(chan struct{}),
		workers:      4,
		pollInterval: 5 * time.Second,
		maxAttempts:  60,
		jobTimeout:   30 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.Component(s)
	return s
}

// Serve runs the worker pool until ctx is done.
func (s *Service) Serve(ctx context.Context) error {
	s.logger.Info().Int("workers", s.workers).Dur("poll_interval", s.pollInterval).Msg("Starting workers")

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.work(ctx, i)
	}

	<-ctx.Done()
	s.Stop()
	s.wg.Wait()

	s.logger.Debug().Msg("Service shutdown")
	return nil
}

// Stop rejects new jobs and lets running workers exit.
func (s *Service) Stop() {
	s.stopped.Do(func() {
		close(s.stopCh)
	})
}

// Run queues a job. It blocks until a worker takes it or the service stops.
func (s *Service) Run(job Job) {
	s.enqueue(&task{id: xid.New(), job: job, attempt: 1})
}

func (s *Service) enqueue(t *task) {
	select {
	case s.tasks <- t:
	case <-s.stopCh:
		s.logger.Warn().Str("job_id", t.id.String()).Str("job", t.job.Name).Msg("Job dropped on shutdown")
	}
}

func (s *Service) work(ctx context.Context, workerID int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case t := <-s.tasks:
			s.process(ctx, workerID, t)
		}
	}
}

func (s *Service) process(parent context.Context, workerID int, t *task) {
	l := s.logger.With().
		Int("worker_id", workerID).
		Str("job_id", t.id.String()).
		Str("job", t.job.Name).
		Int("attempt", t.attempt).
		Logger()

	ctx, cancel := context.WithTimeout(parent, s.jobTimeout)
	defer cancel()
	ctx = l.WithContext(ctx)

	l.Debug().Msg("Running job")
	err := t.job.Do(ctx)
	if err == nil {
		l.Debug().Msg("Job done")
		return
	}

	if t.attempt >= s.maxAttempts {
		l.Error().Err(err).Msg("Job attempts exhausted")
		if t.job.Exhausted != nil {
			ectx, ecancel := context.WithTimeout(parent, s.jobTimeout)
			defer ecancel()
			t.job.Exhausted(l.WithContext(ectx))
		}
		return
	}

	if errors.Is(err, ErrRetryable) {
		l.Debug().Msg("Job not ready")
	} else {
		l.Error().Err(err).Msg("Job failed")
	}

	next := &task{id: t.id, job: t.job, attempt: t.attempt + 1}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(s.pollInterval)
		defer timer.Stop()
		select {
		case <-s.stopCh:
		case <-timer.C:
			s.enqueue(next)
		}
	}()
}

// ConfirmTransfer polls the ledger receipt of hash and resolves the
// transaction once the ledger settles it. A transfer still pending after
// every attempt is marked failed.
func (s *Service) ConfirmTransfer(id uuid.UUID, hash string) Job {
	return Job{
		Name: "ConfirmTransfer",
		Do: func(ctx context.Context) error {
			l := logger.Get(ctx, "ConfirmationSync.Job.ConfirmTransfer").With().
				Str("transaction_id", id.String()).
				Str("hash", hash).
				Logger()

			status, err := s.receipts.TransferStatus(ctx, hash)
			if err != nil {
				return fmt.Errorf("receipt: %w", err)
			}

			var target model.Status
			switch status {
			case ledger.StatusPending:
				return ErrRetryable
			case ledger.StatusCompleted:
				target = model.StatusCompleted
			default:
				target = model.StatusFailed
			}

			_, err = s.transactions.UpdateStatus(ctx, id, target, hash)
			if errors.Is(err, apperr.ErrInvalidStateTransition) {
				l.Warn().Err(err).Msg("Transaction already resolved")
				return nil
			}
			if err != nil {
				return fmt.Errorf("update status: %w", err)
			}

			l.Info().Str("status", string(target)).Msg("Transfer resolved")
			return nil
		},
		Exhausted: func(ctx context.Context) {
			if _, err := s.transactions.UpdateStatus(ctx, id, model.StatusFailed, ""); err != nil {
				l := logger.Get(ctx, s)
				l.Error().Err(err).Str("transaction_id", id.String()).Msg("Marking transfer failed")
			}
		},
	}
}
