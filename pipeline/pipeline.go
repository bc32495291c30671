// Package pipeline writes export rows through a single ordered sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-dropbox-links/config"
	"github.com/aluiziolira/go-dropbox-links/models"
	"github.com/aluiziolira/go-dropbox-links/parser"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when the writer does not drain in time.
	ErrPipelineCloseTimeout = errors.New("pipeline: timed out draining writer")
)

var drainTimeout = 2 * time.Minute

// OutputWriter defines the interface for export output.
type OutputWriter interface {
	Write(rows []*models.ExportRow) error
	Close() error
	Validate() error
}

// Pipeline validates export rows and hands them to an OutputWriter in
// batches. One goroutine drains the queue, so rows are written in the order
// Process received them.
type Pipeline struct {
	ctx       context.Context
	writer    OutputWriter
	queue     chan *models.ExportRow
	batchSize int

	startOnce sync.Once
	closeOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{} // closed when the drain goroutine exits
	stop      chan struct{}

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	written  atomic.Int64
	batches  atomic.Int64
	rejectMu sync.Mutex
	rejected map[string]int
}

// NewPipeline builds a pipeline sized from cfg. A nil cfg uses the
// defaults.
func NewPipeline(ctx context.Context, writer OutputWriter, cfg *config.Config) *Pipeline {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	buffer, batch := cfg.PipelineBufferSize, cfg.BatchSize
	if buffer <= 0 {
		buffer = 1
	}
	if batch <= 0 {
		batch = 1
	}

	return &Pipeline{
		ctx:       ctx,
		writer:    writer,
		queue:     make(chan *models.ExportRow, buffer),
		batchSize: batch,
		done:      make(chan struct{}),
		stop:      make(chan struct{}),
		rejected:  make(map[string]int),
	}
}

// Start launches the drain goroutine. Later calls are no-ops.
func (p *Pipeline) Start() {
	p.startOnce.Do(func() {
		go p.drain()
	})
}

// Process enqueues rows in order. Nil rows are ignored.
func (p *Pipeline) Process(rows ...*models.ExportRow) error {
	p.mu.Lock()
	closed, err := p.closed, p.err
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	for _, row := range rows {
		if row == nil {
			continue
		}
		if err := p.enqueue(row); err != nil {
			return err
		}
	}
	return nil
}

// Close stops accepting rows and waits for queued rows to be written. A
// pipeline that was never started is drained here.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.Start()
	p.closeOnce.Do(func() {
		close(p.queue)
	})

	select {
	case <-p.done:
	case <-time.After(drainTimeout):
		p.halt()
		return ErrPipelineCloseTimeout
	}

	p.halt()
	return p.Err()
}

// Err returns the first write error.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	p.rejectMu.Lock()
	rejected := make(map[string]int, len(p.rejected))
	for k, v := range p.rejected {
		rejected[k] = v
	}
	p.rejectMu.Unlock()

	return map[string]interface{}{
		"written_rows":      p.written.Load(),
		"batches_written":   p.batches.Load(),
		"validation_errors": rejected,
	}
}

// StartMetricsReporting logs the counters every interval until the
// pipeline stops.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				slog.Info("pipeline progress",
					slog.Int64("written_rows", p.written.Load()),
					slog.Int64("batches", p.batches.Load()),
				)
			case <-p.stop:
				return
			case <-p.ctx.Done():
				return
			}
		}
	}()
}

func (p *Pipeline) drain() {
	defer close(p.done)

	batch := make([]*models.ExportRow, 0, p.batchSize)
	for row := range p.queue {
		// Keep receiving after a failure so senders never block.
		if p.Err() != nil {
			continue
		}
		if err := parser.ValidateRow(row); err != nil {
			p.reject("invalid_row", err)
			continue
		}
		batch = append(batch, row)
		if len(batch) >= p.batchSize {
			batch = p.flush(batch)
		}
	}

	if p.Err() == nil {
		p.flush(batch)
	}
}

func (p *Pipeline) flush(batch []*models.ExportRow) []*models.ExportRow {
	if len(batch) == 0 {
		return batch
	}
	if err := p.writer.Write(batch); err != nil {
		p.fail(fmt.Errorf("write batch: %w", err))
		return batch[:0]
	}
	p.written.Add(int64(len(batch)))
	p.batches.Add(1)
	return batch[:0]
}

func (p *Pipeline) enqueue(row *models.ExportRow) (err error) {
	// Close may close the queue between the state check and the send.
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.stop:
		return ErrPipelineClosed
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.queue <- row:
		return nil
	}
}

func (p *Pipeline) reject(reason string, err error) {
	p.rejectMu.Lock()
	p.rejected[reason]++
	p.rejectMu.Unlock()
	slog.Warn("dropping export row", slog.String("reason", reason), slog.Any("error", err))
}

func (p *Pipeline) fail(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
		p.closed = true
	}
	p.mu.Unlock()
	p.halt()
}

func (p *Pipeline) halt() {
	p.stopOnce.Do(func() {
		close(p.stop)
	})
}
