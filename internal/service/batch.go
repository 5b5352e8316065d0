package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/UnknownOlympus/atlas-batch/internal/geocoding"
	"github.com/UnknownOlympus/atlas-batch/internal/metrics"
	"github.com/UnknownOlympus/atlas-batch/internal/models"
	"github.com/UnknownOlympus/atlas-batch/internal/storage"
)

// Defaults mirroring the free tier of geocode.maps.co.
const (
	DefaultDailyLimit = 4900
	DefaultDelay      = 1500 * time.Millisecond

	progressEvery = 100
)

var (
	// ErrLoad wraps failures to read the address table.
	ErrLoad = errors.New("failed to load address table")
	// ErrSave wraps failures to persist the address table.
	ErrSave = errors.New("failed to save address table")
	// ErrInvalidStartIndex is returned for a negative start index.
	ErrInvalidStartIndex = errors.New("start index must not be negative")
)

// Options holds the limits of a batch run.
type Options struct {
	DailyLimit int           // Maximum number of provider calls per run
	Delay      time.Duration // Pause after every provider call
}

// Summary describes the outcome of a run.
type Summary struct {
	Candidates int  // Rows lacking coordinates at or after the start index
	Selected   int  // Candidates kept after applying the daily limit
	Processed  int  // Rows sent to the provider
	Resolved   int  // Rows that received coordinates
	Unresolved int  // Rows left without coordinates
	Saved      bool // Whether the table was written back
}

// BatchProcessor geocodes the unresolved rows of an address table, one at a
// time, and writes the table back once at the end.
type BatchProcessor struct {
	log          *slog.Logger
	store        storage.Store
	provider     geocoding.Provider
	providerName string
	metrics      *metrics.Metrics
	dailyLimit   int
	delay        time.Duration
}

// NewBatchProcessor creates a processor. Non-positive limits fall back to the defaults;
// a zero delay disables throttling.
func NewBatchProcessor(
	log *slog.Logger,
	store storage.Store,
	provider geocoding.Provider,
	providerName string,
	metrics *metrics.Metrics,
	opts Options,
) *BatchProcessor {
	if opts.DailyLimit <= 0 {
		opts.DailyLimit = DefaultDailyLimit
	}
	if opts.Delay < 0 {
		opts.Delay = DefaultDelay
	}

	return &BatchProcessor{
		log:          log,
		store:        store,
		provider:     provider,
		providerName: providerName,
		metrics:      metrics,
		dailyLimit:   opts.DailyLimit,
		delay:        opts.Delay,
	}
}

// Run geocodes the candidate rows at or after startIndex, up to the daily limit,
// and saves the table. When nothing needs geocoding the table is left untouched.
//
// A cancelled context stops the loop before the next row; rows processed so far
// are still saved.
func (bp *BatchProcessor) Run(ctx context.Context, startIndex int) (Summary, error) {
	var summary Summary

	if startIndex < 0 {
		return summary, fmt.Errorf("%w: %d", ErrInvalidStartIndex, startIndex)
	}

	table, err := bp.store.Load(ctx)
	if err != nil {
		return summary, fmt.Errorf("%w: %w", ErrLoad, err)
	}

	candidates := table.Candidates(startIndex)
	summary.Candidates = len(candidates)
	if len(candidates) == 0 {
		bp.log.InfoContext(ctx, "All rows are already geocoded. Nothing to process.", "start_index", startIndex)
		return summary, nil
	}

	bp.log.InfoContext(ctx, "Rows to geocode", "rows", len(candidates), "start_index", startIndex)

	selected := candidates[:min(len(candidates), bp.dailyLimit)]
	summary.Selected = len(selected)
	bp.metrics.RowsSelected.Set(float64(len(selected)))

	for _, row := range selected {
		if ctx.Err() != nil {
			break
		}

		result := bp.geocodeAddress(ctx, row.Address)
		if !result.IsResolved() && ctx.Err() != nil {
			// The provider never answered for this row; it keeps its loaded values.
			break
		}
		row.Apply(result)

		summary.Processed++
		if result.IsResolved() {
			summary.Resolved++
			bp.metrics.RowsProcessed.WithLabelValues("resolved").Inc()
		} else {
			summary.Unresolved++
			bp.metrics.RowsProcessed.WithLabelValues("unresolved").Inc()
		}

		if summary.Processed%progressEvery == 0 {
			bp.log.InfoContext(ctx, "Progress", "processed", summary.Processed, "total", len(selected))
		}

		bp.wait(ctx)
	}

	if summary.Processed < len(selected) {
		bp.log.WarnContext(ctx, "Batch interrupted, saving progress",
			"processed", summary.Processed, "total", len(selected))
	}

	if err = bp.store.Save(context.WithoutCancel(ctx), table); err != nil {
		return summary, fmt.Errorf("%w: %w", ErrSave, err)
	}
	summary.Saved = true

	bp.log.InfoContext(ctx, "File successfully saved",
		"processed", summary.Processed,
		"resolved", summary.Resolved,
		"unresolved", summary.Unresolved,
	)
	bp.metrics.LastSuccess.SetToCurrentTime()

	return summary, nil
}

// geocodeAddress asks the provider for the address and turns every failure into
// an unresolved result, so one bad address never aborts the batch.
func (bp *BatchProcessor) geocodeAddress(ctx context.Context, address string) models.GeocodeResult {
	startTime := time.Now()
	coords, err := bp.provider.Geocode(ctx, address)
	bp.metrics.RequestSeconds.WithLabelValues(bp.providerName).Observe(time.Since(startTime).Seconds())
	if err == nil && coords == nil {
		err = geocoding.ErrEmptyResponse
	}

	if err == nil {
		return models.Resolved(*coords)
	}
	if ctx.Err() != nil {
		return models.Unresolved(models.ReasonRequestFailed, fmt.Errorf("%w: %w", ctx.Err(), err))
	}

	var (
		reason    models.Reason
		statusErr *geocoding.StatusError
	)
	switch {
	case errors.Is(err, geocoding.ErrEmptyResponse):
		reason = models.ReasonNoMatch
		bp.log.DebugContext(ctx, "No match for address", "address", address)
	case errors.Is(err, geocoding.ErrRateLimited):
		reason = models.ReasonRateLimited
		bp.log.WarnContext(ctx, "Rate limited by geocoding provider", "address", address)
	case errors.As(err, &statusErr):
		reason = models.ReasonHTTPError
		bp.log.ErrorContext(ctx, "HTTP error from geocoding provider",
			"address", address, "status", statusErr.StatusCode, "error", err)
	case errors.Is(err, geocoding.ErrInvalidCoords):
		reason = models.ReasonInvalidCoordinates
		bp.log.ErrorContext(ctx, "Failed to parse coordinates", "address", address, "error", err)
	default:
		reason = models.ReasonRequestFailed
		bp.log.ErrorContext(ctx, "Failed to retrieve coordinates", "address", address, "error", err)
	}
	bp.metrics.ProviderErrors.WithLabelValues(string(reason)).Inc()

	return models.Unresolved(reason, err)
}

// wait pauses for the configured delay, returning early if ctx is done.
func (bp *BatchProcessor) wait(ctx context.Context) {
	if bp.delay <= 0 {
		return
	}

	timer := time.NewTimer(bp.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
