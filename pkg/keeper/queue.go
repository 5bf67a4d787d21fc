package keeper

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// analyzeJob is one queued analysis request
type analyzeJob struct {
	id         string
	documentID string
	force      bool
	enqueuedAt time.Time
}

// AnalyzeQueue runs document analysis in the background so interactive Put
// and Find calls never wait on an LLM. Jobs for the same document coalesce:
// a document already pending is not enqueued twice.
type AnalyzeQueue struct {
	keeper  *Keeper
	jobs    chan analyzeJob
	pending map[string]bool
	mu      sync.Mutex
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	logger  zerolog.Logger
}

// NewAnalyzeQueue creates a queue backed by a single worker goroutine.
// Call Start to begin processing and Close to drain and stop.
func NewAnalyzeQueue(k *Keeper, buffer int, logger zerolog.Logger) *AnalyzeQueue {
	if buffer <= 0 {
		buffer = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AnalyzeQueue{
		keeper:  k,
		jobs:    make(chan analyzeJob, buffer),
		pending: make(map[string]bool),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.With().Str("component", "analyze_queue").Logger(),
	}
}

// Start launches the worker goroutine
func (q *AnalyzeQueue) Start() {
	q.wg.Add(1)
	go q.worker()
	q.logger.Debug().Msg("Analyze queue started")
}

// Enqueue queues a document for analysis if it needs one. Returns the job id
// when a job was queued, or an empty string when analysis is unnecessary,
// the document is already pending, or the queue is full.
func (q *AnalyzeQueue) Enqueue(ctx context.Context, documentID string, force bool) (string, error) {
	needed, err := q.keeper.EnqueueAnalyze(ctx, documentID, force)
	if err != nil {
		return "", err
	}
	if !needed {
		return "", nil
	}

	q.mu.Lock()
	if q.pending[documentID] {
		q.mu.Unlock()
		return "", nil
	}
	q.pending[documentID] = true
	q.mu.Unlock()

	job := analyzeJob{
		id:         uuid.NewString(),
		documentID: documentID,
		force:      force,
		enqueuedAt: time.Now(),
	}

	select {
	case q.jobs <- job:
		q.logger.Debug().Str("job_id", job.id).Str("id", documentID).Msg("Analysis queued")
		return job.id, nil
	default:
		q.mu.Lock()
		delete(q.pending, documentID)
		q.mu.Unlock()
		q.logger.Warn().Str("id", documentID).Msg("Analyze queue full, dropping job")
		return "", nil
	}
}

// Len returns the number of queued jobs
func (q *AnalyzeQueue) Len() int {
	return len(q.jobs)
}

func (q *AnalyzeQueue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.jobs:
			q.run(job)
		}
	}
}

func (q *AnalyzeQueue) run(job analyzeJob) {
	defer func() {
		q.mu.Lock()
		delete(q.pending, job.documentID)
		q.mu.Unlock()
	}()

	start := time.Now()
	parts, err := q.keeper.Analyze(q.ctx, job.documentID, job.force)
	if err != nil {
		q.logger.Error().Err(err).
			Str("job_id", job.id).
			Str("id", job.documentID).
			Msg("Background analysis failed")
		return
	}
	q.logger.Debug().
		Str("job_id", job.id).
		Str("id", job.documentID).
		Int("parts", len(parts)).
		Dur("duration", time.Since(start)).
		Dur("waited", start.Sub(job.enqueuedAt)).
		Msg("Background analysis completed")
}

// Close stops the worker. Queued jobs that have not started are dropped.
func (q *AnalyzeQueue) Close() error {
	q.cancel()
	q.wg.Wait()
	return nil
}
