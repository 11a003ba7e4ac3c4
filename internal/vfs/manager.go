package vfs

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/axiom/internal/ephemeral"
	"github.com/GriffinCanCode/axiom/internal/shared/event"
	"github.com/GriffinCanCode/axiom/internal/shared/fserr"
	"github.com/GriffinCanCode/axiom/internal/shared/path"
)

type mount struct {
	fs  FileSystem
	sub event.Subscription
}

// Manager owns the mounted filesystems, keyed by unique mount name
type Manager struct {
	mu     sync.RWMutex
	mounts map[string]*mount // Protected by mu
	logger *zap.Logger
}

// NewManager creates an empty manager
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		mounts: make(map[string]*mount),
		logger: logger,
	}
}

// Mount registers fs under its name. A filesystem that terminates is
// unmounted automatically.
func (m *Manager) Mount(fs FileSystem) error {
	if s := fs.State(); s != ephemeral.StateReady {
		return fserr.InvalidStateTransition(s.String(), ephemeral.StateReady.String())
	}

	name := fs.Name()
	m.mu.Lock()
	if _, exists := m.mounts[name]; exists {
		m.mu.Unlock()
		return fserr.Duplicate("mount", name)
	}
	entry := &mount{fs: fs}
	m.mounts[name] = entry
	m.mu.Unlock()

	entry.sub = fs.OnTerminate(func(o ephemeral.Outcome) {
		if m.evict(name, fs) {
			m.logger.Info("Filesystem closed, unmounted",
				zap.String("mount", name),
				zap.String("reason", string(o.Reason)))
		}
	})

	// closed between the state check and the subscription
	if fs.State().Terminal() {
		m.evict(name, fs)
		return fserr.InvalidStateTransition(fs.State().String(), ephemeral.StateReady.String())
	}

	m.logger.Info("Mounted filesystem", zap.String("mount", name))
	return nil
}

// evict removes name if it still refers to fs.
func (m *Manager) evict(name string, fs FileSystem) bool {
	m.mu.Lock()
	entry, ok := m.mounts[name]
	if !ok || entry.fs != fs {
		m.mu.Unlock()
		return false
	}
	delete(m.mounts, name)
	m.mu.Unlock()

	if entry.sub != nil {
		entry.sub.Unsubscribe()
	}
	return true
}

// Unmount removes the filesystem and closes it.
func (m *Manager) Unmount(name string) error {
	m.mu.RLock()
	entry, ok := m.mounts[name]
	m.mu.RUnlock()
	if !ok {
		return fserr.NotFound("mount", name)
	}

	m.evict(name, entry.fs)
	m.logger.Info("Unmounted filesystem", zap.String("mount", name))
	return entry.fs.Close()
}

// Get returns the filesystem mounted as name
func (m *Manager) Get(name string) (FileSystem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.mounts[name]
	if !ok {
		return nil, fserr.NotFound("mount", name)
	}
	return entry.fs, nil
}

// Names returns the mount names in sorted order
func (m *Manager) Names() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.mounts))
	for name := range m.mounts {
		names = append(names, name)
	}
	m.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Resolve returns the filesystem that owns p's root
func (m *Manager) Resolve(p path.Path) (FileSystem, error) {
	if !p.IsValid() {
		return nil, fserr.Invalid("path", p.Spec())
	}
	return m.Get(p.Root())
}

// Close unmounts and closes every filesystem.
func (m *Manager) Close() error {
	var firstErr error
	for _, name := range m.Names() {
		if err := m.Unmount(name); err != nil && firstErr == nil && !fserr.Is(err, fserr.KindNotFound) {
			firstErr = err
		}
	}
	return firstErr
}
