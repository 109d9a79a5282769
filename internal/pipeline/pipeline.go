// Package pipeline runs the asynchronous analysis loop: producers hand
// in conversation snapshots, a single consumer works through them in
// FIFO order, one job in flight at a time. Delivery is best effort;
// overflow drops the newest job rather than blocking a chat turn.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var ErrQueueFull = errors.New("analysis queue is full")

// Job is one "check this conversation snippet for nickname mentions"
// unit of work. Jobs are consumed at most once and never persisted.
type Job struct {
	ID                  string
	ConversationText    string
	BotReplyText        string
	Platform            string
	GroupID             string
	DisplayNameByUserID map[string]string
}

// ProcessFunc handles one dequeued job. Errors are contained by the
// consumer loop; they never stop it.
type ProcessFunc func(ctx context.Context, job *Job) error

type Options struct {
	QueueSize    int
	PollInterval time.Duration
	ErrorBackoff time.Duration
	StopTimeout  time.Duration
	Logger       *slog.Logger
}

type Pipeline struct {
	process      ProcessFunc
	jobs         chan *Job
	pollInterval time.Duration
	errorBackoff time.Duration
	stopTimeout  time.Duration
	logger       *slog.Logger

	running  atomic.Bool
	stopping atomic.Bool
	disabled atomic.Bool
	done     chan struct{}
	cancel   context.CancelFunc

	processed atomic.Int64
	dropped   atomic.Int64
	discarded atomic.Int64
}

func New(process ProcessFunc, opts Options) *Pipeline {
	if opts.QueueSize < 1 {
		opts.QueueSize = 64
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = 10 * time.Second
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pipeline{
		process:      process,
		jobs:         make(chan *Job, opts.QueueSize),
		pollInterval: opts.PollInterval,
		errorBackoff: opts.ErrorBackoff,
		stopTimeout:  opts.StopTimeout,
		logger:       opts.Logger,
	}
}

// Disable puts the pipeline into the permanently-off state used when
// configuration is invalid. Every later Enqueue becomes a no-op.
func (p *Pipeline) Disable(reason string) {
	if p.disabled.CompareAndSwap(false, true) {
		p.logger.Error("analysis pipeline disabled", "reason", reason)
	}
}

func (p *Pipeline) Disabled() bool {
	return p.disabled.Load()
}

// Enqueue hands a job to the consumer without blocking. A full queue
// drops the job and reports ErrQueueFull; a stopping or disabled
// pipeline drops it silently.
func (p *Pipeline) Enqueue(job *Job) error {
	if job == nil || p.disabled.Load() {
		return nil
	}
	if p.stopping.Load() {
		p.logger.Debug("pipeline stopping, job dropped", "platform", job.Platform, "group_id", job.GroupID)
		return nil
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	select {
	case p.jobs <- job:
		p.logger.Debug("analysis job queued", "job_id", job.ID, "platform", job.Platform, "group_id", job.GroupID, "depth", len(p.jobs))
		return nil
	default:
		p.dropped.Add(1)
		p.logger.Warn("analysis queue full, job dropped", "platform", job.Platform, "group_id", job.GroupID)
		return ErrQueueFull
	}
}

// Start launches the single consumer goroutine. Starting an already
// running pipeline is a no-op that logs a warning.
func (p *Pipeline) Start() {
	if p.disabled.Load() {
		p.logger.Info("analysis pipeline disabled, consumer not started")
		return
	}
	if !p.running.CompareAndSwap(false, true) {
		p.logger.Warn("analysis consumer already running")
		return
	}
	p.stopping.Store(false)
	p.done = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	go p.consume(ctx)
	p.logger.Info("analysis consumer started", "queue_capacity", cap(p.jobs))
}

// Stop signals shutdown, unblocks a parked consumer with a sentinel,
// waits up to the stop timeout, then abandons the in-flight job and
// discards whatever is still queued. Stopping a stopped pipeline is a
// no-op.
func (p *Pipeline) Stop() {
	if !p.running.Load() {
		p.logger.Debug("analysis consumer not running")
		return
	}
	p.stopping.Store(true)

	// Sentinel unblocks a consumer waiting on an empty queue. A full
	// queue means the consumer is busy and will see the stop flag.
	select {
	case p.jobs <- nil:
	default:
	}

	select {
	case <-p.done:
	case <-time.After(p.stopTimeout):
		p.logger.Warn("analysis consumer did not stop in time, abandoning in-flight job")
		p.cancel()
		select {
		case <-p.done:
		case <-time.After(time.Second):
		}
	}

	p.drain()
	p.cancel()
	p.running.Store(false)
	p.logger.Info("analysis consumer stopped", "discarded", p.discarded.Load())
}

func (p *Pipeline) consume(ctx context.Context) {
	defer close(p.done)

	for {
		if p.stopping.Load() {
			return
		}
		select {
		case job := <-p.jobs:
			if job == nil {
				return
			}
			if p.stopping.Load() {
				p.discarded.Add(1)
				return
			}
			if err := p.process(ctx, job); err != nil {
				p.logger.Error("analysis job failed", "job_id", job.ID, "error", err)
				p.backoff(ctx)
				continue
			}
			p.processed.Add(1)
		case <-time.After(p.pollInterval):
			// Periodic wakeup to re-check the stop flag.
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) backoff(ctx context.Context) {
	if p.stopping.Load() {
		return
	}
	select {
	case <-time.After(p.errorBackoff):
	case <-ctx.Done():
	}
}

func (p *Pipeline) drain() {
	for {
		select {
		case job := <-p.jobs:
			if job != nil {
				p.discarded.Add(1)
			}
		default:
			return
		}
	}
}

// Stats is a point-in-time snapshot for observability endpoints.
type Stats struct {
	Running   bool  `json:"running"`
	Disabled  bool  `json:"disabled"`
	Depth     int   `json:"depth"`
	Capacity  int   `json:"capacity"`
	Processed int64 `json:"processed"`
	Dropped   int64 `json:"dropped"`
	Discarded int64 `json:"discarded"`
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Running:   p.running.Load(),
		Disabled:  p.disabled.Load(),
		Depth:     len(p.jobs),
		Capacity:  cap(p.jobs),
		Processed: p.processed.Load(),
		Dropped:   p.dropped.Load(),
		Discarded: p.discarded.Load(),
	}
}
