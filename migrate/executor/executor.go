// Package executor applies migration plans to databases and keeps the ledger
// in step with what actually ran.
package executor

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/dgsalas/django/migrate/graph"
	"github.com/dgsalas/django/migrate/history"
	"github.com/dgsalas/django/migrate/migration"
	"github.com/dgsalas/django/migrate/schema"
	"github.com/dgsalas/django/migrate/state"
)

// Target names where to migrate to. A nil *Target means the whole graph
// forwards; Name "zero" unapplies everything in App.
type Target struct {
	App  string
	Name string
}

// Zero is the Name that unapplies an entire app.
const Zero = "zero"

// Step is one planned action.
type Step struct {
	Migration *migration.Migration
	Backwards bool
}

// Options tunes a Migrate run.
type Options struct {
	// Fake records ledger changes without touching the schema.
	Fake bool
	// FakeInitial auto-fakes initial migrations whose tables already exist.
	FakeInitial bool
}

// Executor drives migrations against one database.
type Executor struct {
	db       *sqlx.DB
	backend  schema.Backend
	recorder *history.Recorder
	graph    *graph.Graph
	log      logrus.FieldLogger
}

// New builds an executor over a loaded graph.
func New(db *sqlx.DB, backend schema.Backend, recorder *history.Recorder, g *graph.Graph, log logrus.FieldLogger) *Executor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Executor{db: db, backend: backend, recorder: recorder, graph: g, log: log}
}

// Graph returns the executor's migration graph.
func (e *Executor) Graph() *graph.Graph {
	return e.graph
}

// AppliedSet reads the ledger, creating it when missing.
func (e *Executor) AppliedSet(ctx context.Context) (map[migration.Key]history.Row, error) {
	if err := e.recorder.EnsureTable(ctx, e.db); err != nil {
		return nil, err
	}
	return e.recorder.AppliedSet(ctx, e.db)
}

// Plan computes the steps needed to reach target. Unapplies come first, in
// dependent-before-dependency order, then applies in dependency order.
func (e *Executor) Plan(ctx context.Context, target *Target) ([]Step, error) {
	applied, err := e.AppliedSet(ctx)
	if err != nil {
		return nil, err
	}
	return e.plan(target, applied)
}

func (e *Executor) plan(target *Target, applied map[migration.Key]history.Row) ([]Step, error) {
	var steps []Step

	if target == nil {
		for _, m := range e.graph.FullPlan() {
			if _, ok := applied[m.Key()]; !ok {
				steps = append(steps, Step{Migration: m})
			}
		}
		return steps, nil
	}

	if target.Name == Zero {
		inScope := map[migration.Key]bool{}
		for _, k := range e.graph.Keys() {
			if k.App != target.App {
				continue
			}
			inScope[k] = true
			back, err := e.graph.BackwardsPlan(k)
			if err != nil {
				return nil, err
			}
			for _, m := range back {
				inScope[m.Key()] = true
			}
		}
		full := e.graph.FullPlan()
		for i := len(full) - 1; i >= 0; i-- {
			m := full[i]
			if _, ok := applied[m.Key()]; ok && inScope[m.Key()] {
				steps = append(steps, Step{Migration: m, Backwards: true})
			}
		}
		return steps, nil
	}

	key := migration.Key{App: target.App, Name: target.Name}
	if _, ok := e.graph.Node(key); !ok {
		return nil, &graph.NodeNotFoundError{Key: key}
	}

	back, err := e.graph.BackwardsPlan(key)
	if err != nil {
		return nil, err
	}
	for _, m := range back {
		if _, ok := applied[m.Key()]; ok {
			steps = append(steps, Step{Migration: m, Backwards: true})
		}
	}
	fwd, err := e.graph.ForwardsPlan(key)
	if err != nil {
		return nil, err
	}
	for _, m := range fwd {
		if _, ok := applied[m.Key()]; !ok {
			steps = append(steps, Step{Migration: m})
		}
	}
	return steps, nil
}

// Migrate moves the database to target, honoring opts. It stops at the first
// failure; the returned error reports how much of the failing migration
// survives.
func (e *Executor) Migrate(ctx context.Context, target *Target, opts Options) error {
	applied, err := e.AppliedSet(ctx)
	if err != nil {
		return err
	}
	e.warnChecksums(applied)

	steps, err := e.plan(target, applied)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		e.log.Info("nothing to migrate")
		return nil
	}

	for _, step := range steps {
		if err := e.runStep(ctx, step, opts); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) warnChecksums(applied map[migration.Key]history.Row) {
	for key, row := range applied {
		m, ok := e.graph.Node(key)
		if !ok || row.Checksum == "" {
			continue
		}
		sum, err := m.Checksum()
		if err != nil {
			continue
		}
		if sum != row.Checksum {
			e.log.WithField("migration", key.String()).
				Warn("migration file changed after it was applied")
		}
	}
}

func (e *Executor) runStep(ctx context.Context, step Step, opts Options) error {
	m := step.Migration
	log := e.log.WithField("migration", m.Key().String())

	if step.Backwards && !m.Reversible() {
		return fmt.Errorf("migration %s is irreversible", m.Key())
	}

	fake := opts.Fake
	if !fake && !step.Backwards && opts.FakeInitial && m.Initial {
		existing, err := e.initialTablesExist(ctx, m)
		if err != nil {
			return err
		}
		fake = existing
	}

	if fake {
		if step.Backwards {
			log.Info("unapplying (faked)")
			return e.recorder.RecordUnapplied(ctx, e.db, m.Key())
		}
		log.Info("applying (faked)")
		sum, err := m.Checksum()
		if err != nil {
			return err
		}
		return e.recorder.RecordApplied(ctx, e.db, m.Key(), sum)
	}

	if step.Backwards {
		log.Info("unapplying")
	} else {
		log.Info("applying")
	}

	if e.backend.SupportsTransactionalDDL() {
		return e.runInTx(ctx, step)
	}
	return e.runDirect(ctx, step)
}

// initialTablesExist reports whether every table the initial migration would
// create is already present.
func (e *Executor) initialTablesExist(ctx context.Context, m *migration.Migration) (bool, error) {
	names := m.CreatedModels()
	if len(names) == 0 {
		return false, nil
	}
	to, err := e.stateAfter(m.Key())
	if err != nil {
		return false, err
	}
	for _, name := range names {
		ms, ok := to.Model(m.App, name)
		if !ok {
			return false, nil
		}
		exists, err := e.backend.TableExists(ctx, ms.TableName())
		if err != nil {
			return false, err
		}
		if !exists {
			return false, nil
		}
	}
	return true, nil
}

func (e *Executor) runInTx(ctx context.Context, step Step) error {
	m := step.Migration
	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction for %s: %w", m.Key(), err)
	}
	if err := e.apply(ctx, tx, tx, step); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing %s: %w", m.Key(), err)
	}
	return nil
}

func (e *Executor) runDirect(ctx context.Context, step Step) error {
	return e.apply(ctx, e.db, e.db, step)
}

// apply runs every operation of one migration and records the outcome. run
// carries the DDL, ledger the history write; with transactional DDL both are
// the same transaction.
func (e *Executor) apply(ctx context.Context, run schema.Execer, ledger sqlx.ExtContext, step Step) error {
	m := step.Migration
	before, err := e.stateBefore(m.Key())
	if err != nil {
		return err
	}

	// Per-operation states, so each DatabaseForwards sees the exact before
	// and after projections.
	states := make([]*state.ProjectState, 0, len(m.Operations)+1)
	states = append(states, before)
	cur := before
	for i, op := range m.Operations {
		next := cur.Clone()
		if err := op.StateForwards(m.App, next); err != nil {
			return fmt.Errorf("migration %s op %d (%s): %w", m.Key(), i, op.Describe(), err)
		}
		states = append(states, next)
		cur = next
	}

	current := before
	ed := e.backend.Editor(run, schema.Options{
		Resolver: func(ref string) (*state.ModelState, bool) {
			key, err := state.ParseKey(ref)
			if err != nil {
				return nil, false
			}
			return current.Model(key.App, key.Model)
		},
	})

	rolledBack := e.backend.SupportsTransactionalDDL()
	if step.Backwards {
		for i := len(m.Operations) - 1; i >= 0; i-- {
			op := m.Operations[i]
			current = states[i]
			if err := op.DatabaseBackwards(ctx, ed, m.App, states[i+1], states[i]); err != nil {
				return &PartialApplyError{
					Key: m.Key(), OpIndex: i, Backwards: true, RolledBack: rolledBack, Err: err,
				}
			}
		}
		return e.recorder.RecordUnapplied(ctx, ledger, m.Key())
	}

	for i, op := range m.Operations {
		current = states[i+1]
		if err := op.DatabaseForwards(ctx, ed, m.App, states[i], states[i+1]); err != nil {
			return &PartialApplyError{
				Key: m.Key(), OpIndex: i, RolledBack: rolledBack, Err: err,
			}
		}
	}
	sum, err := m.Checksum()
	if err != nil {
		return err
	}
	return e.recorder.RecordApplied(ctx, ledger, m.Key(), sum)
}

// stateBefore replays every ancestor of key, excluding key itself.
func (e *Executor) stateBefore(key migration.Key) (*state.ProjectState, error) {
	plan, err := e.graph.ForwardsPlan(key)
	if err != nil {
		return nil, err
	}
	st := state.NewProjectState()
	for _, m := range plan {
		if m.Key() == key {
			break
		}
		st, err = m.Mutate(st)
		if err != nil {
			return nil, err
		}
	}
	return st, nil
}

// stateAfter replays key and all its ancestors.
func (e *Executor) stateAfter(key migration.Key) (*state.ProjectState, error) {
	return e.graph.MakeState(&key)
}

// CollectSQL returns the statements one migration would run, without touching
// the database.
func (e *Executor) CollectSQL(ctx context.Context, key migration.Key, backwards bool) ([]string, error) {
	m, ok := e.graph.Node(key)
	if !ok {
		return nil, &graph.NodeNotFoundError{Key: key}
	}
	if backwards && !m.Reversible() {
		return nil, fmt.Errorf("migration %s is irreversible", key)
	}

	before, err := e.stateBefore(key)
	if err != nil {
		return nil, err
	}
	states := []*state.ProjectState{before}
	cur := before
	for i, op := range m.Operations {
		next := cur.Clone()
		if err := op.StateForwards(m.App, next); err != nil {
			return nil, fmt.Errorf("migration %s op %d (%s): %w", key, i, op.Describe(), err)
		}
		states = append(states, next)
		cur = next
	}

	current := before
	ed := e.backend.Editor(nil, schema.Options{
		CollectOnly: true,
		Resolver: func(ref string) (*state.ModelState, bool) {
			k, err := state.ParseKey(ref)
			if err != nil {
				return nil, false
			}
			return current.Model(k.App, k.Model)
		},
	})

	if backwards {
		for i := len(m.Operations) - 1; i >= 0; i-- {
			current = states[i]
			if err := m.Operations[i].DatabaseBackwards(ctx, ed, m.App, states[i+1], states[i]); err != nil {
				return nil, err
			}
		}
	} else {
		for i, op := range m.Operations {
			current = states[i+1]
			if err := op.DatabaseForwards(ctx, ed, m.App, states[i], states[i+1]); err != nil {
				return nil, err
			}
		}
	}
	return ed.CollectedSQL(), nil
}
