package stattree

import (
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Global registry used by stat descriptors that are not bound with In.
var (
	defaultMu       sync.RWMutex
	defaultRegistry *Registry
	initOnce        sync.Once
)

// Init replaces the default registry with one built from config. Only the
// first call has any effect.
func Init(config Config) {
	initOnce.Do(func() {
		r := NewRegistry(config)
		SetDefault(r)
		r.logger.Info("stattree initialized",
			zap.Duration("tick_interval", r.cfg.TickInterval),
			zap.Bool("auto_start", r.cfg.AutoStart))
	})
}

// Default returns the global registry, creating one that ticks meters
// automatically on first use.
func Default() *Registry {
	defaultMu.RLock()
	r := defaultRegistry
	defaultMu.RUnlock()
	if r != nil {
		return r
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRegistry == nil {
		cfg := DefaultConfig()
		cfg.AutoStart = true
		defaultRegistry = NewRegistry(cfg)
	}
	return defaultRegistry
}

// SetDefault installs r as the global registry and returns the previous one.
func SetDefault(r *Registry) *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	prev := defaultRegistry
	defaultRegistry = r
	return prev
}

// Reset clears the global registry. It is meant for tests.
func Reset() {
	Default().Reset()
}

// Shutdown stops the global registry's meter ticker.
func Shutdown() {
	defaultMu.RLock()
	r := defaultRegistry
	defaultMu.RUnlock()
	if r != nil {
		r.Stop()
	}
}

// Register binds owner to path in the global registry.
func Register(owner any, path string, stats ...Descriptor) (*Container, error) {
	return Default().Register(owner, path, stats...)
}

// RegisterChild binds owner under parent in the global registry.
func RegisterChild(owner, parent any, name string, stats ...Descriptor) (*Container, error) {
	return Default().RegisterChild(owner, parent, name, stats...)
}

// RegisterNumberedChild binds owner to name/N under parent in the global registry.
func RegisterNumberedChild(owner, parent any, name string, stats ...Descriptor) (*Container, error) {
	return Default().RegisterNumberedChild(owner, parent, name, stats...)
}

// RegisterChildPath binds owner to name/subpath under parent in the global registry.
func RegisterChildPath(owner, parent any, name, subpath string, stats ...Descriptor) (*Container, error) {
	return Default().RegisterChildPath(owner, parent, name, subpath, stats...)
}

// Declare exposes stats on owner in the global registry.
func Declare(owner any, stats ...Descriptor) error {
	return Default().Declare(owner, stats...)
}

// NewCollection creates a collection in the global registry.
func NewCollection(path string, stats ...Descriptor) (*Collection, error) {
	return Default().Collection(path, stats...)
}

// Snapshot copies the subtree at path of the global registry.
func Snapshot(path string) (*Tree, bool) {
	return Default().Snapshot(path)
}

// SetCollapsed collapses path in the global registry.
func SetCollapsed(path string) error {
	return Default().SetCollapsed(path)
}

// DumpJSON writes the global registry to filename.
func DumpJSON(fs afero.Fs, filename string) error {
	return Default().DumpJSON(fs, filename)
}
