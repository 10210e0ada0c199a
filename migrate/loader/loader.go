// Package loader reads and writes migration files. A migration on disk is
// pure data: JSON with dependencies, run-before hints and a tagged operation
// list. Loading registers migrations under their (app, name) key and never
// executes code.
package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/dgsalas/django/migrate/graph"
	"github.com/dgsalas/django/migrate/migration"
	"github.com/dgsalas/django/migrate/operations"
)

const fileSuffix = ".json"

// Loader reads migration files from <root>/<app>/<name>.json. It works
// against any afero filesystem so tests can run purely in memory.
type Loader struct {
	fs   afero.Fs
	root string
}

// New returns a loader over fs rooted at dir.
func New(fs afero.Fs, dir string) *Loader {
	return &Loader{fs: fs, root: dir}
}

type migrationFile struct {
	Initial      *bool             `json:"initial,omitempty"`
	Dependencies [][2]string       `json:"dependencies,omitempty"`
	RunBefore    [][2]string       `json:"run_before,omitempty"`
	Operations   []json.RawMessage `json:"operations"`
}

// LoadGraph reads every migration file under the root and assembles the full
// dependency graph. A missing root yields an empty graph; duplicate keys and
// dangling dependencies are fatal load errors.
func (l *Loader) LoadGraph() (*graph.Graph, error) {
	g := graph.New()
	migs, err := l.readAll()
	if err != nil {
		return nil, err
	}
	for _, m := range migs {
		if err := g.AddNode(m); err != nil {
			return nil, err
		}
	}
	for _, m := range migs {
		for _, dep := range m.Dependencies {
			if err := g.AddDependency(m.Key(), dep); err != nil {
				return nil, err
			}
		}
		// run_before inverts into a regular edge on the named node. The
		// inverted call reports the hint target as the missing child, so the
		// declaring migration is filled in as the origin.
		for _, before := range m.RunBefore {
			if err := g.AddDependency(before, m.Key()); err != nil {
				var notFound *graph.NodeNotFoundError
				if errors.As(err, &notFound) && notFound.Origin == nil {
					origin := m.Key()
					notFound.Origin = &origin
				}
				return nil, err
			}
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func (l *Loader) readAll() ([]*migration.Migration, error) {
	exists, err := afero.DirExists(l.fs, l.root)
	if err != nil {
		return nil, fmt.Errorf("loader: %w", err)
	}
	if !exists {
		return nil, nil
	}
	entries, err := afero.ReadDir(l.fs, l.root)
	if err != nil {
		return nil, fmt.Errorf("loader: read %s: %w", l.root, err)
	}
	var out []*migration.Migration
	for _, app := range entries {
		if !app.IsDir() {
			continue
		}
		appDir := path.Join(l.root, app.Name())
		files, err := afero.ReadDir(l.fs, appDir)
		if err != nil {
			return nil, fmt.Errorf("loader: read %s: %w", appDir, err)
		}
		names := make([]string, 0, len(files))
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), fileSuffix) {
				continue
			}
			names = append(names, f.Name())
		}
		sort.Strings(names)
		for _, fname := range names {
			m, err := l.readOne(app.Name(), path.Join(appDir, fname))
			if err != nil {
				return nil, err
			}
			out = append(out, m)
		}
	}
	return out, nil
}

func (l *Loader) readOne(app, filePath string) (*migration.Migration, error) {
	data, err := afero.ReadFile(l.fs, filePath)
	if err != nil {
		return nil, fmt.Errorf("loader: read %s: %w", filePath, err)
	}
	var mf migrationFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("loader: parse %s: %w", filePath, err)
	}
	ops, err := operations.UnmarshalList(mf.Operations)
	if err != nil {
		return nil, fmt.Errorf("loader: parse %s: %w", filePath, err)
	}
	name := strings.TrimSuffix(path.Base(filePath), fileSuffix)
	m := &migration.Migration{
		App:          app,
		Name:         name,
		Dependencies: toKeys(mf.Dependencies),
		RunBefore:    toKeys(mf.RunBefore),
		Operations:   ops,
	}
	if mf.Initial != nil {
		m.Initial = *mf.Initial
	} else {
		m.Initial = inferInitial(m)
	}
	return m, nil
}

// inferInitial marks a migration initial when it has no same-app dependency
// and creates at least one model.
func inferInitial(m *migration.Migration) bool {
	for _, dep := range m.Dependencies {
		if dep.App == m.App {
			return false
		}
	}
	return len(m.CreatedModels()) > 0
}

// WriteMigration serializes one migration to its canonical path. Overwriting
// an existing file is refused; migrations are immutable once persisted.
func (l *Loader) WriteMigration(m *migration.Migration) (string, error) {
	raws, err := operations.MarshalList(m.Operations)
	if err != nil {
		return "", err
	}
	initial := m.Initial
	mf := migrationFile{
		Initial:      &initial,
		Dependencies: fromKeys(m.Dependencies),
		RunBefore:    fromKeys(m.RunBefore),
		Operations:   raws,
	}
	data, err := json.MarshalIndent(&mf, "", "  ")
	if err != nil {
		return "", fmt.Errorf("loader: marshal %s: %w", m, err)
	}
	dir := path.Join(l.root, m.App)
	if err := l.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("loader: mkdir %s: %w", dir, err)
	}
	filePath := path.Join(dir, m.Name+fileSuffix)
	if _, err := l.fs.Stat(filePath); err == nil {
		return "", fmt.Errorf("loader: migration file %s already exists", filePath)
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("loader: stat %s: %w", filePath, err)
	}
	if err := afero.WriteFile(l.fs, filePath, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("loader: write %s: %w", filePath, err)
	}
	return filePath, nil
}

func toKeys(pairs [][2]string) []migration.Key {
	out := make([]migration.Key, len(pairs))
	for i, p := range pairs {
		out[i] = migration.Key{App: p[0], Name: p[1]}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func fromKeys(keys []migration.Key) [][2]string {
	out := make([][2]string, len(keys))
	for i, k := range keys {
		out[i] = [2]string{k.App, k.Name}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
