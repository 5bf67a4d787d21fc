package keeper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// JanitorConfig controls the periodic maintenance job
type JanitorConfig struct {
	// Schedule is a standard five-field cron expression
	Schedule string
	// KeepVersions bounds version history per document; 0 keeps everything
	KeepVersions int
	Logger       zerolog.Logger
}

// Janitor runs periodic store maintenance: pruning version history and
// re-analyzing documents whose content drifted past their last analysis.
type Janitor struct {
	keeper *Keeper
	queue  *AnalyzeQueue
	cron   *cron.Cron
	keep   int
	logger zerolog.Logger
}

// NewJanitor schedules maintenance on a cron expression. Queue is optional;
// without it the sweep only prunes versions.
func NewJanitor(k *Keeper, queue *AnalyzeQueue, cfg JanitorConfig) (*Janitor, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = "17 3 * * *"
	}

	j := &Janitor{
		keeper: k,
		queue:  queue,
		cron:   cron.New(),
		keep:   cfg.KeepVersions,
		logger: cfg.Logger.With().Str("component", "janitor").Logger(),
	}

	if _, err := j.cron.AddFunc(cfg.Schedule, j.sweep); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", cfg.Schedule, err)
	}
	return j, nil
}

// Start begins the schedule
func (j *Janitor) Start() {
	j.cron.Start()
	j.logger.Info().Msg("Janitor started")
}

// Stop halts the schedule and waits for a running sweep to finish
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
	j.logger.Info().Msg("Janitor stopped")
}

// Sweep runs one maintenance pass immediately
func (j *Janitor) Sweep(ctx context.Context) error {
	start := time.Now()

	ids, err := j.keeper.docs.ListIDs(ctx, j.keeper.collection)
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}

	pruned := 0
	queued := 0
	for _, id := range ids {
		if isHidden(id) {
			continue
		}
		if j.keep > 0 {
			n, err := j.keeper.docs.PruneVersions(ctx, j.keeper.collection, id, j.keep)
			if err != nil {
				j.logger.Warn().Err(err).Str("id", id).Msg("Failed to prune versions")
			} else {
				pruned += n
			}
		}
		if j.queue != nil {
			jobID, err := j.queue.Enqueue(ctx, id, false)
			if err != nil {
				j.logger.Warn().Err(err).Str("id", id).Msg("Failed to queue analysis")
			} else if jobID != "" {
				queued++
			}
		}
	}

	j.logger.Info().
		Int("documents", len(ids)).
		Int("versions_pruned", pruned).
		Int("analyses_queued", queued).
		Dur("duration", time.Since(start)).
		Msg("Maintenance sweep completed")
	return nil
}

func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	if err := j.Sweep(ctx); err != nil {
		j.logger.Error().Err(err).Msg("Maintenance sweep failed")
	}
}
