package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	apidomain "github.com/cuongbtq/rues-api/internal/api/domain"
	"github.com/cuongbtq/rues-api/internal/api/model"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Store is the transaction persistence the worker uses
type Store interface {
	ClaimTransaction(ctx context.Context, id int64, runnerID string) (*model.Transaction, error)
	ClaimNext(ctx context.Context, runnerID *string) (*model.Transaction, error)
	UpdateStatus(ctx context.Context, sel apidomain.Selector, upd apidomain.StatusUpdate) (*model.Transaction, error)
}

// MessageSource delivers transaction events from the broker
type MessageSource interface {
	Qos(prefetch int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Config holds worker configuration
type Config struct {
	Logger    *slog.Logger
	Store     Store
	Processor Processor

	// Source is optional; without it the worker only polls
	Source        MessageSource
	PrefetchCount int

	RunnerID          string
	Concurrency       int
	ProcessingTimeout time.Duration
	PollInterval      time.Duration
}

// task is one unit of work for the pool. Event tasks carry the delivery and
// are claimed by the pool; poller tasks arrive already claimed.
type task struct {
	transactionID int64
	claimed       *model.Transaction
	delivery      *amqp.Delivery
}

// Worker claims pending transactions and processes them
type Worker struct {
	logger            *slog.Logger
	store             Store
	processor         Processor
	source            MessageSource
	prefetchCount     int
	runnerID          string
	concurrency       int
	processingTimeout time.Duration
	pollInterval      time.Duration

	tasks    chan *task
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	processor := cfg.Processor
	if processor == nil {
		processor = NewPayloadProcessor()
	}

	return &Worker{
		logger:            cfg.Logger,
		store:             cfg.Store,
		processor:         processor,
		source:            cfg.Source,
		prefetchCount:     cfg.PrefetchCount,
		runnerID:          cfg.RunnerID,
		concurrency:       concurrency,
		processingTimeout: cfg.ProcessingTimeout,
		pollInterval:      cfg.PollInterval,
		tasks:             make(chan *task),
		stopChan:          make(chan struct{}),
	}
}

// Start begins processing transactions and blocks until ctx is cancelled
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("runner_id", w.runnerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("processing_timeout", w.processingTimeout),
		slog.Duration("poll_interval", w.pollInterval),
	)

	w.spawnWorkerPool(ctx)

	if w.source != nil {
		deliveries, err := w.setupConsumer()
		if err != nil {
			w.Stop()
			return err
		}

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.startMessageDispatcher(ctx, deliveries)
		}()
	}

	if w.pollInterval > 0 {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.startPoller(ctx)
		}()
	}

	<-ctx.Done()
	w.logger.Info("Worker context canceled, stopping...")

	return nil
}

// Stop signals all goroutines to exit and waits for in-flight work
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")
		close(w.stopChan)
	})
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
