package microfw

import (
	"fmt"
	"sync"
	"time"
)

// frameworkPhase tracks the framework's own lifecycle. After Stop the
// framework can be re-initialized for a fresh generation; listeners
// from the previous generation are gone.
type frameworkPhase int

const (
	phaseCreated frameworkPhase = iota
	phaseInitialized
	phaseStarted
	phaseStopped
)

// frameworkModuleName is the short name of Module 0.
const frameworkModuleName = "framework"

// Framework is the process-wide state of one framework instance: the
// module index, the service registry, the listener table and the log
// sink. It is itself Module 0. All globals of the system live here;
// nothing is initialized lazily at package level.
//
// Lock order: framework lock, then registry lock, then listener-table
// lock. No lock is ever held while user code runs.
type Framework struct {
	cfg        *FrameworkConfig
	logger     Logger
	listeners  *listenerTable
	dispatcher *dispatcher
	registry   *serviceRegistry

	mu           sync.Mutex
	modules      map[int64]*Module
	order        []int64
	nextModuleID int64
	self         *Module
	phase        frameworkPhase
	stopCh       chan struct{}
	stopEvent    FrameworkEvent
}

// NewFramework creates a framework from the given launch config. A nil
// config gets defaults. The framework must be initialized (explicitly
// via Init, or implicitly by Start) before modules can be installed.
func NewFramework(cfg *FrameworkConfig) *Framework {
	if cfg == nil {
		cfg = NewFrameworkConfig()
	}
	fw := &Framework{
		cfg:       cfg,
		logger:    NewWriterLogger(cfg.LogSink()),
		listeners: newListenerTable(),
		modules:   make(map[int64]*Module),
	}
	fw.dispatcher = newDispatcher(fw.listeners, fw.logger)
	fw.registry = newServiceRegistry(fw)

	fw.self = &Module{
		fw: fw,
		id: 0,
		info: ModuleInfo{
			Name:     frameworkModuleName,
			Location: "System Module",
		},
		manifest: map[string]any{
			PropModuleID:       int64(0),
			PropModuleName:     frameworkModuleName,
			PropModuleLocation: "System Module",
		},
		state: StateInstalled,
	}
	fw.modules[0] = fw.self
	fw.order = append(fw.order, 0)
	return fw
}

// Logger returns the framework's logger.
func (fw *Framework) Logger() Logger { return fw.logger }

// Config returns the framework's launch configuration.
func (fw *Framework) Config() *FrameworkConfig { return fw.cfg }

// Init prepares a fresh framework generation: the framework context is
// created and Module 0 becomes active. Init is callable at most once
// per generation; calling it while the framework is initialized or
// started fails with ErrIllegalState.
func (fw *Framework) Init() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	switch fw.phase {
	case phaseInitialized, phaseStarted:
		return fmt.Errorf("%w: framework already initialized", ErrIllegalState)
	}
	fw.initLocked()
	return nil
}

func (fw *Framework) initLocked() {
	fw.stopCh = make(chan struct{})
	fw.stopEvent = FrameworkEvent{}
	fw.self.ctx = newModuleContext(fw, fw.self)
	fw.self.state = StateActive
	fw.phase = phaseInitialized
}

// Start starts the framework, initializing it first when needed, and
// fires FrameworkEvent{STARTED, "Framework Started"}. The STARTED
// event is sent once per generation; stop and start the framework to
// generate another one. Starting a started framework warns and is a
// no-op.
func (fw *Framework) Start() error {
	fw.mu.Lock()
	if fw.phase == phaseStarted {
		fw.mu.Unlock()
		fw.logger.Warn("Framework already started.")
		return nil
	}
	if fw.phase != phaseInitialized {
		fw.initLocked()
	}
	fw.phase = phaseStarted
	fw.mu.Unlock()

	fw.dispatcher.fireFrameworkEvent(FrameworkEvent{
		Type:    FrameworkStarted,
		Module:  fw.self,
		Message: "Framework Started",
	})
	return nil
}

// Stop shuts the framework down: active modules stop in reverse
// install order, every listener is released (a listener added before
// Stop is never invoked by a later Start), and WaitForStop callers are
// released with the STOPPED event. The last module-stop failure, if
// any, is returned after shutdown completes.
func (fw *Framework) Stop() error {
	fw.mu.Lock()
	if fw.phase != phaseStarted && fw.phase != phaseInitialized {
		fw.mu.Unlock()
		fw.logger.Warn("Framework not started.")
		return nil
	}
	ids := make([]int64, len(fw.order))
	copy(ids, fw.order)
	fw.mu.Unlock()

	var lastErr error
	for i := len(ids) - 1; i >= 0; i-- {
		m, ok := fw.GetModule(ids[i])
		if !ok || m == fw.self {
			continue
		}
		if !m.IsActive() {
			continue
		}
		if err := m.Stop(); err != nil {
			lastErr = err
			fw.dispatcher.fireFrameworkEvent(FrameworkEvent{
				Type:    FrameworkError,
				Module:  m,
				Message: fmt.Sprintf("Stopping module %s failed", m.Name()),
				Err:     err,
			})
		}
	}

	// Release the framework's own resources last.
	fw.mu.Lock()
	selfCtx := fw.self.ctx
	fw.self.ctx = nil
	fw.self.state = StateInstalled
	fw.mu.Unlock()

	fw.registry.releaseModule(fw.self)
	if selfCtx != nil {
		selfCtx.invalidate()
	}
	fw.listeners.clear()

	fw.mu.Lock()
	fw.phase = phaseStopped
	fw.stopEvent = FrameworkEvent{
		Type:    FrameworkStopped,
		Module:  fw.self,
		Message: "Framework Stopped",
	}
	close(fw.stopCh)
	fw.mu.Unlock()

	return lastErr
}

// WaitForStop blocks until the framework has stopped or the timeout
// elapses. A zero timeout waits indefinitely. It returns the STOPPED
// event on shutdown and a WAIT_TIMEDOUT event when the timeout
// expires first. Called on a framework that was never initialized, it
// returns STOPPED immediately.
func (fw *Framework) WaitForStop(timeout time.Duration) FrameworkEvent {
	fw.mu.Lock()
	ch := fw.stopCh
	fw.mu.Unlock()

	if ch == nil {
		return FrameworkEvent{Type: FrameworkStopped, Module: fw.self, Message: "Framework Stopped"}
	}

	if timeout == 0 {
		<-ch
	} else {
		select {
		case <-ch:
		case <-time.After(timeout):
			return FrameworkEvent{
				Type:    FrameworkWaitTimedOut,
				Module:  fw.self,
				Message: "Waiting for framework stop timed out",
			}
		}
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.stopEvent
}

// GetFrameworkContext returns the context of Module 0, or nil before
// Init and after Stop.
func (fw *Framework) GetFrameworkContext() *ModuleContext {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.self.ctx
}

// InstallModule installs a module from its host-supplied info record.
// The module id is assigned here, strictly monotone over install
// order, and an INSTALLED module event fires. Fails with
// ErrInvalidArgument when the name is empty or duplicates an installed
// module's name, and with ErrIllegalState when the framework is not
// initialized.
func (fw *Framework) InstallModule(info ModuleInfo) (*Module, error) {
	if info.Name == "" {
		return nil, fmt.Errorf("%w: module name must not be empty", ErrInvalidArgument)
	}
	version, err := ParseVersion(info.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	manifest := make(map[string]any, len(info.Manifest)+4)
	for k, v := range info.Manifest {
		manifest[k] = v
	}
	manifest[PropModuleName] = info.Name
	manifest[PropModuleLocation] = info.Location
	manifest[PropModuleVersion] = version.String()

	fw.mu.Lock()
	if fw.phase != phaseInitialized && fw.phase != phaseStarted {
		fw.mu.Unlock()
		return nil, fmt.Errorf("%w: framework is not initialized", ErrIllegalState)
	}
	for _, id := range fw.order {
		if other := fw.modules[id]; other.Name() == info.Name {
			fw.mu.Unlock()
			return nil, fmt.Errorf("%w: %w: %s", ErrInvalidArgument, ErrDuplicateModule, info.Name)
		}
	}
	fw.nextModuleID++
	m := &Module{
		fw:       fw,
		id:       fw.nextModuleID,
		info:     info,
		version:  version,
		manifest: manifest,
		state:    StateInstalled,
	}
	manifest[PropModuleID] = m.id
	fw.modules[m.id] = m
	fw.order = append(fw.order, m.id)
	fw.mu.Unlock()

	fw.logger.Debug("Installed module", "module", m.Name(), "id", m.id)
	fw.dispatcher.fireModuleEvent(ModuleEvent{Type: ModuleInstalled, Module: m})
	return m, nil
}

// UninstallModule removes an installed module, stopping it first when
// active. The module transitions to the terminal UNINSTALLED state and
// an UNINSTALLED module event fires. A stop failure does not prevent
// the uninstall and is returned afterwards.
func (fw *Framework) UninstallModule(m *Module) error {
	if m == nil || m.fw != fw {
		return fmt.Errorf("%w: module does not belong to this framework", ErrInvalidArgument)
	}
	if m == fw.self {
		return fmt.Errorf("%w: the framework module cannot be uninstalled", ErrInvalidArgument)
	}

	fw.mu.Lock()
	if m.state == StateUninstalled {
		fw.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrModuleUninstalled, m.Name())
	}
	fw.mu.Unlock()

	var stopErr error
	if m.IsActive() {
		stopErr = m.Stop()
	}

	fw.mu.Lock()
	delete(fw.modules, m.id)
	for i, id := range fw.order {
		if id == m.id {
			fw.order = append(fw.order[:i], fw.order[i+1:]...)
			break
		}
	}
	m.state = StateUninstalled
	fw.mu.Unlock()

	fw.dispatcher.fireModuleEvent(ModuleEvent{Type: ModuleUninstalled, Module: m})
	return stopErr
}

// GetModule returns the installed module with the given id.
func (fw *Framework) GetModule(id int64) (*Module, bool) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	m, ok := fw.modules[id]
	return m, ok
}

// GetModuleByName returns the installed module with the given name.
func (fw *Framework) GetModuleByName(name string) (*Module, bool) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	for _, m := range fw.modules {
		if m.Name() == name {
			return m, true
		}
	}
	return nil, false
}

// GetModules returns all installed modules in install order, starting
// with the framework itself.
func (fw *Framework) GetModules() []*Module {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	out := make([]*Module, 0, len(fw.order))
	for _, id := range fw.order {
		out = append(out, fw.modules[id])
	}
	return out
}
