// Package tracker maintains cycle consistency: which forecast hours of which
// cycle have been durably loaded, when a cycle becomes complete, and the
// promotion and retirement that follow. All bookkeeping for one hour happens
// in a single database transaction; filesystem effects run only after that
// transaction commits.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gfsweather/gfs-etl-service/internal/domain"
	"github.com/gfsweather/gfs-etl-service/internal/observability"
)

// Tx is the transactional surface the tracker drives. Every method runs
// inside the same database transaction; an error from any of them rolls the
// whole registration back.
type Tx interface {
	// UpsertCycle returns the id of the cycle row for cycleTime, creating it
	// incomplete if absent. Concurrent callers for the same cycle converge on
	// one row.
	UpsertCycle(ctx context.Context, cycleTime time.Time) (int64, error)

	// InsertHour records a processed hour under the cycle. Replays of an
	// already-recorded hour are no-ops.
	InsertHour(ctx context.Context, cycleID int64, hour int, cycleHourKey string) error

	// Exec runs a pre-generated SQL batch, used to append raster rows in the
	// same transaction as the hour registration.
	Exec(ctx context.Context, sql string) error

	// CycleHours lists the hours recorded so far for the cycle.
	CycleHours(ctx context.Context, cycleID int64) ([]int, error)

	// MarkComplete flips the cycle to complete and reports whether this call
	// performed the transition. Guarded so exactly one registration observes
	// true per cycle.
	MarkComplete(ctx context.Context, cycleID int64, completedAt time.Time) (bool, error)

	// DeleteOlderCycles removes every cycle older than the given one,
	// cascading to its hours and raster rows, and returns the reference
	// times of the removed cycles.
	DeleteOlderCycles(ctx context.Context, cycleID int64) ([]time.Time, error)
}

// Store provides registration transactions. Register runs fn inside a
// transaction and commits only when fn returns nil.
type Store interface {
	Register(ctx context.Context, fn func(tx Tx) error) error
}

// Tracker is the cycle consistency keeper. It is safe for concurrent use;
// the database serializes concurrent registrations of the same cycle.
type Tracker struct {
	store      Store
	layersPath string
	expected   map[int]struct{}
	limit      int
	step       int
	logger     *slog.Logger
	metrics    *observability.Metrics
}

func New(store Store, layersPath string, limit, step int, logger *slog.Logger, metrics *observability.Metrics) *Tracker {
	expected := make(map[int]struct{})
	for h := 0; h < limit; h += step {
		expected[h] = struct{}{}
	}
	return &Tracker{
		store:      store,
		layersPath: layersPath,
		expected:   expected,
		limit:      limit,
		step:       step,
		logger:     logger,
		metrics:    metrics,
	}
}

// Accepts reports whether a forecast hour belongs to the tracked set. Hours
// outside it are valid source files that this deployment does not process.
func (t *Tracker) Accepts(hour int) bool {
	_, ok := t.expected[hour]
	return ok
}

// RegisterHour durably records one processed forecast hour together with its
// raster SQL batch. When the registration completes the cycle's expected
// hour set, the cycle is marked complete and, after commit, promoted to
// current; superseded cycles are retired.
func (t *Tracker) RegisterHour(ctx context.Context, ref domain.SourceRef, rasterSQL string) error {
	var (
		transitioned bool
		retired      []time.Time
	)

	err := t.store.Register(ctx, func(tx Tx) error {
		cycleID, err := tx.UpsertCycle(ctx, ref.CycleTime)
		if err != nil {
			return fmt.Errorf("upsert cycle: %w", err)
		}
		if err := tx.InsertHour(ctx, cycleID, ref.ForecastHour, ref.CycleHourKey()); err != nil {
			return fmt.Errorf("insert hour: %w", err)
		}
		if rasterSQL != "" {
			if err := tx.Exec(ctx, rasterSQL); err != nil {
				return fmt.Errorf("load raster rows: %w", err)
			}
		}

		hours, err := tx.CycleHours(ctx, cycleID)
		if err != nil {
			return fmt.Errorf("list cycle hours: %w", err)
		}
		if !t.complete(ref.CycleName(), hours) {
			return nil
		}

		transitioned, err = tx.MarkComplete(ctx, cycleID, clock.Now().UTC())
		if err != nil {
			return fmt.Errorf("mark complete: %w", err)
		}
		if !transitioned {
			return nil
		}

		retired, err = tx.DeleteOlderCycles(ctx, cycleID)
		if err != nil {
			return fmt.Errorf("delete older cycles: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if !transitioned {
		return nil
	}

	t.logger.Info("cycle complete", "cycle", ref.CycleName(), "retired", len(retired))
	t.metrics.CyclesCompleted.Inc()

	if err := t.promote(ref.CycleName()); err != nil {
		// The database already records the cycle as complete; promotion will
		// be retried when the next cycle completes, and readers keep the
		// previous pointer meanwhile.
		t.metrics.RetirementErrors.Inc()
		return fmt.Errorf("promote cycle %s: %w", ref.CycleName(), err)
	}

	t.retire(ref.CycleName(), retired)
	return nil
}

// complete checks the recorded hour set against the expected one. Set
// equality is required: unexpected extra hours indicate a configuration or
// upstream anomaly and block completion rather than being silently accepted.
func (t *Tracker) complete(cycleName string, hours []int) bool {
	seen := make(map[int]struct{}, len(hours))
	for _, h := range hours {
		if _, ok := t.expected[h]; !ok {
			t.logger.Warn("unexpected hour recorded for cycle",
				"cycle", cycleName, "hour", h, "limit", t.limit, "step", t.step)
			return false
		}
		seen[h] = struct{}{}
	}
	return len(seen) == len(t.expected)
}

// promote atomically repoints the "current" symlink at the cycle directory.
// The link is prepared under a temporary name and moved over the old one with
// rename, so readers always observe either the old target or the new one.
func (t *Tracker) promote(cycleName string) error {
	tmp := filepath.Join(t.layersPath, ".current.new")
	if err := os.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.Symlink(cycleName, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, filepath.Join(t.layersPath, "current")); err != nil {
		os.Remove(tmp)
		return err
	}
	t.logger.Info("promoted cycle", "cycle", cycleName)
	return nil
}

// retire removes the artifact trees of superseded cycles: the ones the
// database just deleted, plus any older cycle-named directory left behind by
// a previous failed sweep. Failures are logged and counted, never fatal; the
// rows are already gone and the next sweep retries the trees.
func (t *Tracker) retire(currentName string, retired []time.Time) {
	names := make(map[string]struct{}, len(retired))
	for _, ct := range retired {
		names[domain.FormatCycleName(ct)] = struct{}{}
	}

	entries, err := os.ReadDir(t.layersPath)
	if err != nil {
		t.logger.Error("read layers dir", "error", err)
		t.metrics.RetirementErrors.Inc()
	} else {
		for _, e := range entries {
			name := e.Name()
			if !domain.CycleNameRe.MatchString(name) || name >= currentName {
				continue
			}
			names[name] = struct{}{}
		}
	}

	ordered := make([]string, 0, len(names))
	for name := range names {
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)

	for _, name := range ordered {
		if name == currentName {
			continue
		}
		path := filepath.Join(t.layersPath, name)
		if err := os.RemoveAll(path); err != nil {
			t.logger.Error("remove retired cycle", "cycle", name, "error", err)
			t.metrics.RetirementErrors.Inc()
			continue
		}
		t.logger.Info("retired cycle", "cycle", name)
		t.metrics.CyclesRetired.Inc()
	}
}
