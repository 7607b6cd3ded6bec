package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"heartsearch/pkg/domain"
)

// AsyncDispatcher runs a handler on a bounded in-process buffer.
type AsyncDispatcher struct {
	jobs    chan domain.SearchHistoryEntry
	handler Handler
	workers int
	timeout time.Duration
	logger  *slog.Logger
}

type AsyncConfig struct {
	Workers int
	Buffer  int
	// Timeout bounds each handler call.
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewAsyncDispatcher(handler Handler, cfg AsyncConfig) *AsyncDispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 256
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AsyncDispatcher{
		jobs:    make(chan domain.SearchHistoryEntry, buffer),
		handler: handler,
		workers: workers,
		timeout: timeout,
		logger:  logger,
	}
}

// Enqueue never blocks; a full buffer drops the entry.
func (d *AsyncDispatcher) Enqueue(_ context.Context, entry domain.SearchHistoryEntry) error {
	select {
	case d.jobs <- entry:
		return nil
	default:
		d.logger.Warn("history_dropped", "account_id", entry.AccountID, "reason", "queue full")
		return ErrQueueFull
	}
}

// Run starts the workers and blocks until ctx is done. Entries still
// buffered at shutdown are written before Run returns.
func (d *AsyncDispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.work(ctx)
		}()
	}
	wg.Wait()
	return nil
}

func (d *AsyncDispatcher) work(ctx context.Context) {
	for {
		select {
		case entry := <-d.jobs:
			d.handle(context.WithoutCancel(ctx), entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-d.jobs:
					d.handle(context.WithoutCancel(ctx), entry)
				default:
					return
				}
			}
		}
	}
}

func (d *AsyncDispatcher) handle(ctx context.Context, entry domain.SearchHistoryEntry) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.handler(ctx, entry); err != nil {
		d.logger.Error("history_write_failed", "account_id", entry.AccountID, "history_id", entry.ID, "err", err)
	}
}
