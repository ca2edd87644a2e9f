package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MappingSinkConfig configures the async mapping writer.
type MappingSinkConfig struct {
	Store         MappingStore
	BatchSize     int           // Flush after N mappings (default: 64)
	FlushInterval time.Duration // Or after duration (default: 2s)
	QueueSize     int           // Buffer size (default: 1024)
	Logger        *slog.Logger
}

// MappingSink batches fire-and-forget mapping appends so stage handlers never
// block on mapping persistence. Mappings are append-only, which makes the
// batched writes safe to retry and order-insensitive.
type MappingSink struct {
	store         MappingStore
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration

	queue chan SensitiveMapping

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewMappingSink creates a sink with defaults applied.
func NewMappingSink(cfg MappingSinkConfig) *MappingSink {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &MappingSink{
		store:         cfg.Store,
		logger:        cfg.Logger.With("component", "mapping_sink"),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		queue:         make(chan SensitiveMapping, cfg.QueueSize),
	}
}

// Start begins the background batcher.
func (s *MappingSink) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.runBatcher(ctx)
}

// Send enqueues mappings for asynchronous persistence. Drops with a warning
// when the queue is full rather than blocking a pipeline stage.
func (s *MappingSink) Send(ms ...SensitiveMapping) {
	for _, m := range ms {
		select {
		case s.queue <- m:
		default:
			s.logger.Warn("mapping sink queue full, dropping mapping", "task_id", m.TaskID, "token", m.Token)
		}
	}
}

// Stop flushes remaining mappings and waits for the batcher to exit.
func (s *MappingSink) Stop() {
	s.stopOnce.Do(func() {
		close(s.queue)
		s.wg.Wait()
	})
}

func (s *MappingSink) runBatcher(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]SensitiveMapping, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.store.SaveMany(context.WithoutCancel(ctx), batch); err != nil {
			s.logger.Error("failed to flush mappings", "count", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case m, ok := <-s.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, m)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
