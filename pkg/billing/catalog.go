package billing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/prdforge/pkg/observability"
)

// VariantKind distinguishes one-time credit packs from subscription plans
type VariantKind string

const (
	VariantOneTime      VariantKind = "one_time"
	VariantSubscription VariantKind = "subscription"
)

// Variant maps a provider product variant to the credits it buys
type Variant struct {
	ID             string      `yaml:"id" json:"id"`
	Name           string      `yaml:"name" json:"name"`
	Kind           VariantKind `yaml:"kind" json:"kind"`
	Credits        int64       `yaml:"credits" json:"credits,omitempty"`
	MonthlyCredits int64       `yaml:"monthly_credits" json:"monthly_credits,omitempty"`
	Workspace      bool        `yaml:"workspace" json:"workspace"`
}

// Catalog is the set of purchasable variants
type Catalog struct {
	Variants []Variant `yaml:"variants"`

	byID map[string]Variant
}

// CatalogSource returns the catalog currently in effect
type CatalogSource interface {
	Catalog() *Catalog
}

// ParseCatalog decodes and validates a YAML catalog
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(c.Variants) == 0 {
		return nil, fmt.Errorf("catalog has no variants")
	}

	c.byID = make(map[string]Variant, len(c.Variants))
	for i, v := range c.Variants {
		if v.ID == "" {
			return nil, fmt.Errorf("catalog variant %d: id is required", i)
		}
		if _, dup := c.byID[v.ID]; dup {
			return nil, fmt.Errorf("catalog variant %s: duplicate id", v.ID)
		}
		switch v.Kind {
		case VariantOneTime:
			if v.Credits <= 0 {
				return nil, fmt.Errorf("catalog variant %s: one_time variants need credits > 0", v.ID)
			}
		case VariantSubscription:
			if v.MonthlyCredits <= 0 {
				return nil, fmt.Errorf("catalog variant %s: subscription variants need monthly_credits > 0", v.ID)
			}
		default:
			return nil, fmt.Errorf("catalog variant %s: unknown kind %q", v.ID, v.Kind)
		}
		c.byID[v.ID] = v
	}
	return &c, nil
}

// LoadCatalog reads a catalog file
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// Lookup finds a variant by provider id
func (c *Catalog) Lookup(id string) (Variant, bool) {
	v, ok := c.byID[id]
	return v, ok
}

// Catalog lets a fixed catalog serve as a CatalogSource
func (c *Catalog) Catalog() *Catalog {
	return c
}

// CatalogWatcher keeps a catalog file loaded and reloads it on change. A
// file that fails to parse leaves the previous catalog in effect.
type CatalogWatcher struct {
	path    string
	current atomic.Pointer[Catalog]
	watcher *fsnotify.Watcher
	logger  *observability.Logger
	onLoad  func(*Catalog)

	stopOnce sync.Once
}

// NewCatalogWatcher loads path and prepares to watch it. Start begins watching.
func NewCatalogWatcher(path string, logger *observability.Logger) (*CatalogWatcher, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	catalog, err := LoadCatalog(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog watcher: %w", err)
	}

	w := &CatalogWatcher{
		path:    filepath.Clean(path),
		watcher: watcher,
		logger:  logger.WithField("catalog", path),
	}
	w.current.Store(catalog)
	return w, nil
}

// Catalog returns the catalog in effect
func (w *CatalogWatcher) Catalog() *Catalog {
	return w.current.Load()
}

// OnLoad registers a callback run after every successful reload
func (w *CatalogWatcher) OnLoad(fn func(*Catalog)) {
	w.onLoad = fn
}

// Start watches the catalog's directory, so editors that replace the file
// by rename are picked up. It returns once the watch is registered.
func (w *CatalogWatcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch catalog: %w", err)
	}
	go w.run(ctx)
	return nil
}

func (w *CatalogWatcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("catalog watcher error")
		}
	}
}

func (w *CatalogWatcher) reload() {
	catalog, err := LoadCatalog(w.path)
	if err != nil {
		w.logger.WithError(err).Error("catalog reload failed, keeping previous catalog")
		return
	}
	w.current.Store(catalog)
	w.logger.WithField("variants", len(catalog.Variants)).Info("catalog reloaded")
	if w.onLoad != nil {
		w.onLoad(catalog)
	}
}

// Close stops watching
func (w *CatalogWatcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		err = w.watcher.Close()
	})
	return err
}
