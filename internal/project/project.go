// Package project manages the per-project state file kept under .vibebiz/.
// It is the only durable state the customer CLI writes.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vibebiz/premium/internal/divergence"
	"github.com/vibebiz/premium/internal/license"
	"github.com/vibebiz/premium/internal/migration"
)

const (
	// DirName is the project state directory.
	DirName = ".vibebiz"
	// FileName is the state file inside DirName.
	FileName = "project.yaml"
)

var (
	// ErrNotInitialized is returned when no state file exists.
	ErrNotInitialized = errors.New("not a vibebiz project (run 'vibebiz init' first)")
	// ErrAlreadyInitialized is returned by Init when a state file exists.
	ErrAlreadyInitialized = errors.New("project is already initialized")
	// ErrFingerprintExists is returned when recording a second baseline.
	ErrFingerprintExists = errors.New("template fingerprint already recorded")
	// ErrNoFingerprint is returned when the baseline is required but missing.
	ErrNoFingerprint = errors.New("no template fingerprint recorded (run 'vibebiz fingerprint record')")
)

// Fingerprint is the template baseline recorded at scaffold time.
type Fingerprint struct {
	TemplateHash string              `yaml:"template_hash"`
	Files        divergence.Manifest `yaml:"files"`
	CreatedAt    time.Time           `yaml:"created_at"`
}

// InstalledComponent records one installed premium component.
type InstalledComponent struct {
	Slug        string    `yaml:"slug"`
	Version     string    `yaml:"version"`
	ContentHash string    `yaml:"content_hash"`
	InstalledAt time.Time `yaml:"installed_at"`
}

type state struct {
	ProjectID    string                 `yaml:"project_id"`
	Stage        string                 `yaml:"stage"`
	Fingerprint  *Fingerprint           `yaml:"fingerprint,omitempty"`
	Components   []InstalledComponent   `yaml:"components,omitempty"`
	LicenseCheck *license.CachedCheck   `yaml:"license_check,omitempty"`
	Migrations   []*migration.Migration `yaml:"migrations,omitempty"`
}

// Project is an open project state file. Every mutation is written to disk
// before it returns.
type Project struct {
	root string
	now  func() time.Time

	mu    sync.Mutex
	state state
}

// Init creates the state file for a new project rooted at root.
func Init(root, projectID, stage string) (*Project, error) {
	p := &Project{root: root, now: time.Now}
	if _, err := os.Stat(p.statePath()); err == nil {
		return nil, ErrAlreadyInitialized
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat project file: %w", err)
	}
	if err := os.MkdirAll(p.Dir(), 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", DirName, err)
	}
	p.state = state{ProjectID: projectID, Stage: stage}
	if err := p.save(); err != nil {
		return nil, err
	}
	return p, nil
}

// Open loads the project rooted at root.
func Open(root string) (*Project, error) {
	p := &Project{root: root, now: time.Now}
	if err := p.load(); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload replaces the in-memory state with the file on disk. It implements
// migration.Store.
func (p *Project) Reload() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.load()
}

// load must be called with mu held or before p is shared.
func (p *Project) load() error {
	data, err := os.ReadFile(p.statePath())
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotInitialized
	}
	if err != nil {
		return fmt.Errorf("read project file: %w", err)
	}
	var st state
	if err := yaml.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("parse %s: %w", p.statePath(), err)
	}
	p.state = st
	return nil
}

// Find opens the nearest project at or above dir.
func Find(dir string) (*Project, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, DirName, FileName)); err == nil {
			return Open(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, ErrNotInitialized
		}
		dir = parent
	}
}

// Root returns the project root directory.
func (p *Project) Root() string { return p.root }

// Dir returns the state directory.
func (p *Project) Dir() string { return filepath.Join(p.root, DirName) }

// LockPath returns the migration lock file path.
func (p *Project) LockPath() string { return filepath.Join(p.Dir(), "migrate.lock") }

// SnapshotDir returns the directory holding migration snapshots.
func (p *Project) SnapshotDir() string { return filepath.Join(p.Dir(), "snapshots") }

// ComponentsDir returns where installed components are unpacked.
func (p *Project) ComponentsDir() string { return filepath.Join(p.root, "premium") }

func (p *Project) statePath() string { return filepath.Join(p.Dir(), FileName) }

func (p *Project) baselineDir() string { return filepath.Join(p.Dir(), "baseline") }

// ID returns the project id.
func (p *Project) ID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.ProjectID
}

// Stage returns the project's current stage.
func (p *Project) Stage() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Stage
}

// SetStage records a new stage.
func (p *Project) SetStage(stage string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Stage = stage
	return p.save()
}

// Fingerprint returns the recorded template baseline.
func (p *Project) Fingerprint() (*Fingerprint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Fingerprint == nil {
		return nil, ErrNoFingerprint
	}
	return p.state.Fingerprint, nil
}

// RecordFingerprint stores the template baseline. It can only be recorded once.
func (p *Project) RecordFingerprint(files divergence.Manifest) (*Fingerprint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Fingerprint != nil {
		return nil, ErrFingerprintExists
	}
	fp := &Fingerprint{
		TemplateHash: files.Digest(),
		Files:        files,
		CreatedAt:    p.now().UTC(),
	}
	p.state.Fingerprint = fp
	if err := p.save(); err != nil {
		p.state.Fingerprint = nil
		return nil, err
	}
	return fp, nil
}

// StoreBaseline keeps a copy of a template file so later diffs can show
// line-level changes.
func (p *Project) StoreBaseline(rel string, data []byte) error {
	target, err := p.baselinePath(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(target, data, 0o644)
}

// ReadBaseline returns the stored template copy of rel.
func (p *Project) ReadBaseline(rel string) ([]byte, error) {
	target, err := p.baselinePath(rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(target)
}

func (p *Project) baselinePath(rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the project", rel)
	}
	return filepath.Join(p.baselineDir(), clean), nil
}

// RecordInstall records an installed component, replacing any earlier
// version of the same slug.
func (p *Project) RecordInstall(c InstalledComponent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c.InstalledAt.IsZero() {
		c.InstalledAt = p.now().UTC()
	}
	replaced := false
	for i := range p.state.Components {
		if p.state.Components[i].Slug == c.Slug {
			p.state.Components[i] = c
			replaced = true
		}
	}
	if !replaced {
		p.state.Components = append(p.state.Components, c)
	}
	sort.Slice(p.state.Components, func(i, j int) bool {
		return p.state.Components[i].Slug < p.state.Components[j].Slug
	})
	return p.save()
}

// Installed returns the installed components sorted by slug.
func (p *Project) Installed() []InstalledComponent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]InstalledComponent(nil), p.state.Components...)
}

// InstalledSlugs returns the slugs of installed components.
func (p *Project) InstalledSlugs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	slugs := make([]string, 0, len(p.state.Components))
	for _, c := range p.state.Components {
		slugs = append(slugs, c.Slug)
	}
	return slugs
}

// LoadCheck implements license.CheckCache.
func (p *Project) LoadCheck(tokenID string) (*license.CachedCheck, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	check := p.state.LicenseCheck
	if check == nil || check.TokenID != tokenID {
		return nil, false
	}
	c := *check
	return &c, true
}

// StoreCheck implements license.CheckCache.
func (p *Project) StoreCheck(check license.CachedCheck) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.LicenseCheck = &check
	return p.save()
}

// SaveMigration implements migration.Store.
func (p *Project) SaveMigration(m *migration.Migration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, existing := range p.state.Migrations {
		if existing.ID == m.ID {
			p.state.Migrations[i] = m
			return p.save()
		}
	}
	p.state.Migrations = append(p.state.Migrations, m)
	return p.save()
}

// Migrations implements migration.Store.
func (p *Project) Migrations() []*migration.Migration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*migration.Migration(nil), p.state.Migrations...)
}

// save must be called with mu held.
func (p *Project) save() error {
	data, err := yaml.Marshal(&p.state)
	if err != nil {
		return fmt.Errorf("encode project file: %w", err)
	}
	if err := writeFileAtomic(p.statePath(), data, 0o644); err != nil {
		return fmt.Errorf("write project file: %w", err)
	}
	return nil
}

// writeFileAtomic writes data through a temp file in the same directory and
// renames it into place. On failure the original file is left unchanged.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".vibebiz-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	success = true
	return nil
}
