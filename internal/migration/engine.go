package migration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vibebiz/premium/internal/divergence"
)

// Store persists migration records. Each save must be durable before the
// engine proceeds. Reload discards any cached state and re-reads the
// records, so a caller holding the project lock sees what other processes
// wrote.
type Store interface {
	SaveMigration(m *Migration) error
	Migrations() []*Migration
	Reload() error
}

// EngineConfig holds the engine's collaborators.
type EngineConfig struct {
	Store        Store
	Lock         *ProjectLock
	Snapshotters []Snapshotter
	// SnapshotDir holds one subdirectory per migration.
	SnapshotDir string
	Logger      zerolog.Logger
	Now         func() time.Time
}

// Engine drives migrations through their lifecycle.
type Engine struct {
	store        Store
	lock         *ProjectLock
	snapshotters []Snapshotter
	snapshotDir  string
	logger       zerolog.Logger
	now          func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(cfg EngineConfig) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:        cfg.Store,
		lock:         cfg.Lock,
		snapshotters: cfg.Snapshotters,
		snapshotDir:  cfg.SnapshotDir,
		logger:       cfg.Logger.With().Str("component", "migration").Logger(),
		now:          now,
	}
}

// Active returns the unfinished migration, if any.
func (e *Engine) Active() (*Migration, bool) {
	for _, m := range e.store.Migrations() {
		if !m.State.IsTerminal() {
			return m, true
		}
	}
	return nil, false
}

// Plan starts a migration in PLANNING. Only one unfinished migration may
// exist per project.
func (e *Engine) Plan(projectID, fromStage, toStage string, steps []string) (*Migration, error) {
	unlock, err := e.lock.Lock("plan")
	if err != nil {
		return nil, err
	}
	defer e.release(unlock)

	if err := e.store.Reload(); err != nil {
		return nil, fmt.Errorf("reload migrations: %w", err)
	}
	if active, ok := e.Active(); ok {
		return nil, fmt.Errorf("%w: %s is %s", ErrMigrationActive, active.ID, active.State)
	}

	now := e.now().UTC()
	m := &Migration{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		FromStage: fromStage,
		ToStage:   toStage,
		State:     StatePlanning,
		Steps:     steps,
		History:   []Transition{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.SaveMigration(m); err != nil {
		return nil, fmt.Errorf("save migration: %w", err)
	}

	e.logger.Info().Str("migration_id", m.ID).
		Str("from", fromStage).Str("to", toStage).Msg("migration planned")
	return m, nil
}

// Analyze records the divergence report and moves to ANALYZED.
func (e *Engine) Analyze(m *Migration, report *divergence.Report) error {
	if report == nil {
		return ErrReportRequired
	}
	return e.update("analyze", m, func(cur *Migration) error {
		if err := cur.transition(StateAnalyzed, e.now().UTC(), report.Summary()); err != nil {
			return err
		}
		cur.Report = report
		return e.save(cur)
	})
}

// Confirm moves to CONFIRMED. When the report lists modified files the
// operator must acknowledge them.
func (e *Engine) Confirm(m *Migration, acknowledged bool) error {
	return e.update("confirm", m, func(cur *Migration) error {
		if cur.State != StateAnalyzed {
			return &TransitionError{From: cur.State, To: StateConfirmed}
		}
		if cur.Report == nil {
			return ErrReportRequired
		}
		if cur.Report.HasModifications() && !acknowledged {
			return fmt.Errorf("%w (%d modified)", ErrAcknowledgementRequired, len(cur.Report.Modified))
		}
		cur.Acknowledged = acknowledged
		if err := cur.transition(StateConfirmed, e.now().UTC(), ""); err != nil {
			return err
		}
		return e.save(cur)
	})
}

// Abort cancels a migration that has not been confirmed.
func (e *Engine) Abort(m *Migration, reason string) error {
	return e.update("abort", m, func(cur *Migration) error {
		if err := cur.transition(StateAborted, e.now().UTC(), reason); err != nil {
			return err
		}
		return e.save(cur)
	})
}

// Execute runs the steps of a confirmed migration under the project lock.
// Any step failure restores every snapshot in reverse order and leaves the
// migration in FAILED_ROLLED_BACK with a *StepError.
func (e *Engine) Execute(ctx context.Context, m *Migration, steps []Step) error {
	if m.State != StateConfirmed {
		return &TransitionError{From: m.State, To: StateExecuting}
	}
	if len(steps) == 0 {
		return ErrNoSteps
	}

	unlock, err := e.lock.Lock("migrate " + m.ID)
	if err != nil {
		return err
	}
	defer e.release(unlock)

	// Another process may have executed or aborted the record since m was read.
	cur, err := e.reload(m.ID)
	if err != nil {
		return err
	}
	*m = *cur
	if m.State != StateConfirmed {
		return &TransitionError{From: m.State, To: StateExecuting}
	}

	if err := m.transition(StateExecuting, e.now().UTC(), ""); err != nil {
		return err
	}
	if err := e.save(m); err != nil {
		return err
	}

	log := e.logger.With().Str("migration_id", m.ID).Logger()
	dir := e.migrationSnapshotDir(m)

	taken, err := e.snapshot(ctx, dir)
	if err != nil {
		stepErr := &StepError{Step: "snapshot", Err: err, RollbackErr: e.restore(ctx, dir, taken)}
		return e.fail(m, stepErr)
	}

	for _, step := range steps {
		log.Info().Str("step", step.Name()).Msg("running migration step")
		if err := runStep(ctx, step); err != nil {
			log.Error().Err(err).Str("step", step.Name()).Msg("migration step failed, rolling back")
			stepErr := &StepError{Step: step.Name(), Err: err, RollbackErr: e.restore(ctx, dir, taken)}
			return e.fail(m, stepErr)
		}
	}

	if err := m.transition(StateCompleted, e.now().UTC(), ""); err != nil {
		return err
	}
	if err := e.save(m); err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		log.Warn().Err(err).Msg("failed to remove migration snapshots")
	}
	log.Info().Msg("migration completed")
	return nil
}

// Recover rolls back migrations a crashed process left in EXECUTING. It must
// run before any other migration operation on the project.
func (e *Engine) Recover(ctx context.Context) ([]*Migration, error) {
	var recovered []*Migration
	for _, m := range e.store.Migrations() {
		if m.State != StateExecuting {
			continue
		}

		unlock, err := e.lock.Lock("recover " + m.ID)
		if errors.Is(err, ErrMigrationActive) {
			// A live process holds the lock and is still executing.
			e.logger.Debug().Str("migration_id", m.ID).Msg("migration is executing in another process")
			continue
		}
		if err != nil {
			return recovered, err
		}

		cur, err := e.reload(m.ID)
		if err != nil {
			_ = unlock()
			return recovered, err
		}
		if cur.State != StateExecuting {
			_ = unlock()
			continue
		}
		m = cur

		e.logger.Warn().Str("migration_id", m.ID).Msg("found interrupted migration, restoring snapshots")
		rollbackErr := e.restore(ctx, e.migrationSnapshotDir(m), e.snapshotters)
		stepErr := &StepError{Step: "interrupted", Err: errors.New("process exited during execution"), RollbackErr: rollbackErr}
		failErr := e.fail(m, stepErr)
		_ = unlock()

		if failErr != error(stepErr) {
			return recovered, failErr
		}
		recovered = append(recovered, m)
	}
	return recovered, nil
}

func (e *Engine) snapshot(ctx context.Context, dir string) ([]Snapshotter, error) {
	taken := make([]Snapshotter, 0, len(e.snapshotters))
	for _, s := range e.snapshotters {
		if err := s.Snapshot(ctx, filepath.Join(dir, s.Name())); err != nil {
			return taken, fmt.Errorf("snapshot %s: %w", s.Name(), err)
		}
		taken = append(taken, s)
	}
	return taken, nil
}

// restore runs every restorer in reverse order, even if some fail.
func (e *Engine) restore(ctx context.Context, dir string, taken []Snapshotter) error {
	// Rollback must complete even if the migration context was cancelled.
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := len(taken) - 1; i >= 0; i-- {
		s := taken[i]
		snapDir := filepath.Join(dir, s.Name())
		if _, err := os.Stat(snapDir); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := s.Restore(ctx, snapDir); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) fail(m *Migration, stepErr *StepError) error {
	m.FailedStep = stepErr.Step
	m.Error = stepErr.Error()
	m.RollbackIncomplete = stepErr.RollbackErr != nil
	if err := m.transition(StateFailedRolledBack, e.now().UTC(), stepErr.Step); err != nil {
		return err
	}
	if err := e.save(m); err != nil {
		return errors.Join(stepErr, err)
	}
	return stepErr
}

// update runs fn on the persisted copy of m while holding the project lock,
// then refreshes m from it.
func (e *Engine) update(cmd string, m *Migration, fn func(cur *Migration) error) error {
	unlock, err := e.lock.Lock(cmd + " " + m.ID)
	if err != nil {
		return err
	}
	defer e.release(unlock)

	cur, err := e.reload(m.ID)
	if err != nil {
		return err
	}
	err = fn(cur)
	*m = *cur
	return err
}

// reload re-reads the store and returns the stored record with id.
func (e *Engine) reload(id string) (*Migration, error) {
	if err := e.store.Reload(); err != nil {
		return nil, fmt.Errorf("reload migrations: %w", err)
	}
	for _, m := range e.store.Migrations() {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrMigrationNotFound, id)
}

func (e *Engine) release(unlock func() error) {
	if err := unlock(); err != nil {
		e.logger.Warn().Err(err).Msg("failed to release project lock")
	}
}

func (e *Engine) save(m *Migration) error {
	if err := e.store.SaveMigration(m); err != nil {
		return fmt.Errorf("save migration %s: %w", m.ID, err)
	}
	return nil
}

func (e *Engine) migrationSnapshotDir(m *Migration) string {
	return filepath.Join(e.snapshotDir, m.ID)
}

// runStep converts a panicking step into an error.
func runStep(ctx context.Context, step Step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return step.Run(ctx)
}
