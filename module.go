// Package microfw is an in-process, service-oriented module framework.
// A host process installs independently developed modules which publish
// and consume versioned services through a central registry, observe
// each other through synchronously dispatched events, and participate
// in a managed lifecycle driven by per-module activator entry points.
//
// Basic usage:
//
//	fw := microfw.NewFramework(nil)
//	if err := fw.Start(); err != nil {
//		log.Fatal(err)
//	}
//	m, err := fw.InstallModule(microfw.ModuleInfo{
//		Name:    "greeter",
//		Symbols: microfw.NewActivatorSymbols("greeter", newGreeterActivator),
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := m.Start(); err != nil {
//		log.Fatal(err)
//	}
package microfw

import (
	"fmt"
	"io"
	"io/fs"
)

// ModuleState is the lifecycle state of a module. STARTING and
// STOPPING are transient: while Start or Stop is executing, State
// reports them to every goroutine, not only to the one executing the
// transition.
type ModuleState int

const (
	// StateInstalled means the module is known to the framework but
	// not running.
	StateInstalled ModuleState = iota + 1

	// StateStarting means Start is executing on some goroutine.
	StateStarting

	// StateActive means the module has started and owns a context.
	StateActive

	// StateStopping means Stop is executing on some goroutine.
	StateStopping

	// StateUninstalled is terminal.
	StateUninstalled
)

func (s ModuleState) String() string {
	switch s {
	case StateInstalled:
		return "INSTALLED"
	case StateStarting:
		return "STARTING"
	case StateActive:
		return "ACTIVE"
	case StateStopping:
		return "STOPPING"
	case StateUninstalled:
		return "UNINSTALLED"
	}
	return fmt.Sprintf("ModuleState(%d)", int(s))
}

// Module is one installed unit of code and manifest. Identity is the
// framework-assigned id; name, location and version are immutable
// after install. The framework itself is Module 0.
type Module struct {
	fw       *Framework
	id       int64
	info     ModuleInfo
	version  Version
	manifest map[string]any

	// guarded by fw.mu
	state     ModuleState
	ctx       *ModuleContext
	activator ModuleActivator
}

// ID returns the framework-assigned module id, unique and strictly
// monotone over install order.
func (m *Module) ID() int64 { return m.id }

// Name returns the module's short name.
func (m *Module) Name() string { return m.info.Name }

// Location returns the originating path or URI.
func (m *Module) Location() string { return m.info.Location }

// Version returns the parsed module version.
func (m *Module) Version() Version { return m.version }

// State returns the module's current lifecycle state.
func (m *Module) State() ModuleState {
	m.fw.mu.Lock()
	defer m.fw.mu.Unlock()
	return m.state
}

// IsActive reports whether the module has started and owns a context.
func (m *Module) IsActive() bool { return m.State() == StateActive }

// Context returns the module's context while the module is active,
// else nil. The module exclusively owns its context; callers must not
// retain it past the module's stop.
func (m *Module) Context() *ModuleContext {
	m.fw.mu.Lock()
	defer m.fw.mu.Unlock()
	return m.ctx
}

// GetProperty returns a manifest property and whether it is set.
func (m *Module) GetProperty(key string) (any, bool) {
	v, ok := m.manifest[key]
	return v, ok
}

// PropertyKeys returns the manifest's keys.
func (m *Module) PropertyKeys() []string {
	keys := make([]string, 0, len(m.manifest))
	for k := range m.manifest {
		keys = append(keys, k)
	}
	return keys
}

// Resource opens the named resource from the module's resource tree.
func (m *Module) Resource(path string) (io.ReadCloser, error) {
	if m.info.Resources == nil {
		return nil, fmt.Errorf("module %s has no resources: %w", m.Name(), fs.ErrNotExist)
	}
	return m.info.Resources.Open(path)
}

// RegisteredServices returns references to the services the module has
// registered and not yet unregistered.
func (m *Module) RegisteredServices() []ServiceReference {
	regs := m.fw.registry.registeredBy(m)
	refs := make([]ServiceReference, len(regs))
	for i, reg := range regs {
		refs[i] = reg.Reference()
	}
	return refs
}

// ServicesInUse returns references to the services the module holds
// through GetService.
func (m *Module) ServicesInUse() []ServiceReference {
	regs := m.fw.registry.inUseBy(m)
	refs := make([]ServiceReference, len(regs))
	for i, reg := range regs {
		refs[i] = reg.Reference()
	}
	return refs
}

// Start activates the module: a fresh context is created, the
// activator symbol is resolved and invoked, and LOADING/LOADED events
// fire around the activator's Load. Starting an already active module
// logs a warning and is a no-op. If the activator fails, the module's
// partial registrations are rolled back, a framework ERROR event
// fires, the module returns to INSTALLED, and the failure propagates
// to the caller.
func (m *Module) Start() error {
	m.fw.mu.Lock()
	switch m.state {
	case StateActive, StateStarting:
		m.fw.mu.Unlock()
		m.fw.logger.Warn(fmt.Sprintf("Module %s already started.", m.Name()))
		return nil
	case StateUninstalled:
		m.fw.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrModuleUninstalled, m.Name())
	case StateStopping:
		m.fw.mu.Unlock()
		return fmt.Errorf("%w: module %s is stopping", ErrIllegalState, m.Name())
	}
	m.state = StateStarting
	ctx := newModuleContext(m.fw, m)
	m.ctx = ctx
	m.fw.mu.Unlock()

	hook, err := m.resolveActivatorHook()
	if err != nil {
		m.abortStart(err)
		return err
	}

	m.fw.dispatcher.fireModuleEvent(ModuleEvent{Type: ModuleLoading, Module: m})

	if hook != nil {
		activator, aerr := callActivatorHook(hook)
		if aerr != nil {
			ferr := fmt.Errorf("%w: creating the module activator of %s failed: %w", ErrActivatorFailure, m.Name(), aerr)
			m.abortStart(ferr)
			return ferr
		}
		m.fw.mu.Lock()
		m.activator = activator
		m.fw.mu.Unlock()

		if lerr := callActivatorLoad(activator, ctx); lerr != nil {
			ferr := fmt.Errorf("%w: loading module %s failed: %w", ErrActivatorFailure, m.Name(), lerr)
			m.abortStart(ferr)
			return ferr
		}
	}

	if m.fw.cfg.AutoloadEnabled() {
		m.fw.autoloadModules(m)
	}

	m.fw.dispatcher.fireModuleEvent(ModuleEvent{Type: ModuleLoaded, Module: m})

	m.fw.mu.Lock()
	m.state = StateActive
	m.fw.mu.Unlock()
	return nil
}

// Stop deactivates the module. UNLOADING fires, the activator's
// Unload runs, then cleanup always runs: the module's registrations
// and listeners are withdrawn, the context is destroyed, UNLOADED
// fires and the activator is released. A captured Unload failure is
// returned after cleanup. Stopping a non-active module logs a warning
// and is a no-op.
func (m *Module) Stop() error {
	m.fw.mu.Lock()
	if m.state != StateActive {
		m.fw.mu.Unlock()
		m.fw.logger.Warn(fmt.Sprintf("Module %s already stopped.", m.Name()))
		return nil
	}
	m.state = StateStopping
	ctx := m.ctx
	activator := m.activator
	m.fw.mu.Unlock()

	m.fw.dispatcher.fireModuleEvent(ModuleEvent{Type: ModuleUnloading, Module: m})

	var unloadErr error
	if activator != nil {
		if uerr := callActivatorUnload(activator, ctx); uerr != nil {
			unloadErr = fmt.Errorf("%w: unloading module %s failed: %w", ErrActivatorFailure, m.Name(), uerr)
			m.fw.logger.Warn(fmt.Sprintf("Calling the module activator Unload() method of %s failed!", m.Name()))
		}
	}

	m.uninit()
	return unloadErr
}

// Uninit releases the module's resources outside the normal Stop
// path. It is idempotent and safe to call when the context is already
// absent.
func (m *Module) Uninit() {
	m.uninit()
}

// uninit releases everything the active module holds: registrations,
// listeners, the context and the activator handle, then fires
// UNLOADED. Safe to call when the context is already gone.
func (m *Module) uninit() {
	m.fw.mu.Lock()
	ctx := m.ctx
	if ctx == nil {
		if m.state == StateStopping {
			m.state = StateInstalled
		}
		m.fw.mu.Unlock()
		return
	}
	m.ctx = nil
	m.activator = nil
	m.fw.mu.Unlock()

	m.fw.registry.releaseModule(m)
	m.fw.listeners.removeOwned(m)
	ctx.invalidate()

	m.fw.dispatcher.fireModuleEvent(ModuleEvent{Type: ModuleUnloaded, Module: m})

	m.fw.mu.Lock()
	if m.state != StateUninstalled {
		m.state = StateInstalled
	}
	m.fw.mu.Unlock()
}

// abortStart rolls a failed start back to INSTALLED: partial
// registrations and listeners from the failed Load are withdrawn and
// the context is destroyed without firing UNLOADED. The failure is
// reported as a framework ERROR event before Start returns it.
func (m *Module) abortStart(err error) {
	m.fw.mu.Lock()
	ctx := m.ctx
	m.ctx = nil
	m.activator = nil
	m.fw.mu.Unlock()

	m.fw.registry.releaseModule(m)
	m.fw.listeners.removeOwned(m)
	if ctx != nil {
		ctx.invalidate()
	}

	m.fw.mu.Lock()
	if m.state != StateUninstalled {
		m.state = StateInstalled
	}
	m.fw.mu.Unlock()

	m.fw.dispatcher.fireFrameworkEvent(FrameworkEvent{
		Type:    FrameworkError,
		Module:  m,
		Message: fmt.Sprintf("Starting module %s failed", m.Name()),
		Err:     err,
	})
}

// resolveActivatorHook looks the activator entry point up in the
// module's symbol resolver. A missing symbol means the module is
// activator-less; a symbol of the wrong type is an error.
func (m *Module) resolveActivatorHook() (ActivatorHook, error) {
	if m.info.Symbols == nil {
		return nil, nil
	}
	sym, ok := m.info.Symbols.Resolve(ActivatorSymbolName(m.Name()))
	if !ok {
		return nil, nil
	}
	switch h := sym.(type) {
	case ActivatorHook:
		return h, nil
	case func() ModuleActivator:
		return h, nil
	}
	return nil, fmt.Errorf("%w: symbol %s of module %s is %T, want func() ModuleActivator",
		ErrSymbolResolution, ActivatorSymbolName(m.Name()), m.Name(), sym)
}

func (m *Module) String() string {
	return fmt.Sprintf("Module[id=%d, loc=%s, name=%s]", m.id, m.Location(), m.Name())
}

func callActivatorHook(hook ActivatorHook) (activator ModuleActivator, err error) {
	defer func() {
		if r := recover(); r != nil {
			activator = nil
			err = capturedError(r)
		}
	}()
	activator = hook()
	if activator == nil {
		err = fmt.Errorf("activator hook returned nil")
	}
	return activator, err
}

func callActivatorLoad(a ModuleActivator, ctx *ModuleContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = capturedError(r)
		}
	}()
	return a.Load(ctx)
}

func callActivatorUnload(a ModuleActivator, ctx *ModuleContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = capturedError(r)
		}
	}()
	return a.Unload(ctx)
}
