package microfw

import (
	"fmt"
	"sync/atomic"
)

// ModuleContext is a module's capability handle onto the framework:
// it registers services, queries the registry, and manages listeners
// on behalf of its module. The module exclusively owns its context.
// Once the module has stopped, operations that return an error fail
// with ErrContextInvalidated and the others report false, nil or an
// empty result; Module still returns the owning module. The
// framework's own context (Module 0) is obtained through
// Framework.GetFrameworkContext.
type ModuleContext struct {
	fw    *Framework
	m     *Module
	valid atomic.Bool
}

func newModuleContext(fw *Framework, m *Module) *ModuleContext {
	ctx := &ModuleContext{fw: fw, m: m}
	ctx.valid.Store(true)
	return ctx
}

// invalidate marks the context dead. The back-reference to the module
// is never followed afterwards.
func (c *ModuleContext) invalidate() { c.valid.Store(false) }

func (c *ModuleContext) check() error {
	if !c.valid.Load() {
		return fmt.Errorf("%w", ErrContextInvalidated)
	}
	return nil
}

// Module returns the module owning this context.
func (c *ModuleContext) Module() *Module { return c.m }

// RegisterService registers instance under the given interface names
// with optional properties. The framework assigns service.id and
// objectclass; service.ranking defaults to 0. A REGISTERED service
// event fires before RegisterService returns.
func (c *ModuleContext) RegisterService(interfaces []string, instance any, props map[string]any) (*ServiceRegistration, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.fw.registry.register(c.m, interfaces, instance, props)
}

// GetServiceReferences returns the active registrations exposing the
// interface, ordered highest ranking first and lower service id first
// on ties. An empty interface name matches all registrations; an
// empty filter matches everything. A malformed filter fails with
// ErrInvalidFilter; no match yields an empty slice, not an error.
func (c *ModuleContext) GetServiceReferences(iface, filter string) ([]ServiceReference, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.fw.registry.getReferences(iface, filter)
}

// GetServiceReference returns the best-ranked registration exposing
// the interface, and whether one exists.
func (c *ModuleContext) GetServiceReference(iface string) (ServiceReference, bool) {
	refs, err := c.GetServiceReferences(iface, "")
	if err != nil || len(refs) == 0 {
		return ServiceReference{}, false
	}
	return refs[0], true
}

// GetService resolves a reference on behalf of this context's module,
// incrementing the module's use count. For ServiceFactory-backed
// registrations the factory result is cached per module. Fails with
// ErrServiceWithdrawn once the registration has been unregistered.
func (c *ModuleContext) GetService(ref ServiceReference) (any, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.fw.registry.getService(c.m, ref)
}

// UngetService releases one acquisition of the reference by this
// module. It reports whether the module had a positive use count.
func (c *ModuleContext) UngetService(ref ServiceReference) bool {
	if c.check() != nil {
		return false
	}
	return c.fw.registry.ungetService(c.m, ref)
}

// AddModuleListener subscribes a listener to module lifecycle events.
// Adding a listener that compares equal to one already present returns
// the existing token without duplicating the entry; identity-less
// listeners (closures, method values) always append.
func (c *ModuleContext) AddModuleListener(l ModuleListener) (ListenerToken, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	if l == nil {
		return 0, fmt.Errorf("%w: nil listener", ErrInvalidArgument)
	}
	return c.fw.listeners.addModuleListener(c.m, l), nil
}

// RemoveModuleListener removes a listener by value. It returns false
// when the listener has no identity, no entry matches, or the identity
// is ambiguous.
func (c *ModuleContext) RemoveModuleListener(l ModuleListener) bool {
	if c.check() != nil {
		return false
	}
	return c.fw.listeners.removeModuleListener(l)
}

// RemoveModuleListenerToken removes a listener by token, reporting
// whether an entry was removed.
func (c *ModuleContext) RemoveModuleListenerToken(token ListenerToken) bool {
	if c.check() != nil {
		return false
	}
	return c.fw.listeners.removeModuleListenerToken(token)
}

// AddServiceListener subscribes a listener to service events for
// registrations whose properties match the filter; an empty filter
// matches every registration.
func (c *ModuleContext) AddServiceListener(l ServiceListener, filter string) (ListenerToken, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	if l == nil {
		return 0, fmt.Errorf("%w: nil listener", ErrInvalidArgument)
	}
	var f *Filter
	if filter != "" {
		var err error
		f, err = ParseFilter(filter)
		if err != nil {
			return 0, err
		}
	}
	return c.fw.listeners.addServiceListener(c.m, l, f), nil
}

// RemoveServiceListener removes a service listener by value.
func (c *ModuleContext) RemoveServiceListener(l ServiceListener) bool {
	if c.check() != nil {
		return false
	}
	return c.fw.listeners.removeServiceListener(l)
}

// RemoveServiceListenerToken removes a service listener by token.
func (c *ModuleContext) RemoveServiceListenerToken(token ListenerToken) bool {
	if c.check() != nil {
		return false
	}
	return c.fw.listeners.removeServiceListenerToken(token)
}

// AddFrameworkListener subscribes a listener to framework events.
func (c *ModuleContext) AddFrameworkListener(l FrameworkListener) (ListenerToken, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	if l == nil {
		return 0, fmt.Errorf("%w: nil listener", ErrInvalidArgument)
	}
	return c.fw.listeners.addFrameworkListener(c.m, l), nil
}

// RemoveFrameworkListener removes a framework listener by value.
func (c *ModuleContext) RemoveFrameworkListener(l FrameworkListener) bool {
	if c.check() != nil {
		return false
	}
	return c.fw.listeners.removeFrameworkListener(l)
}

// RemoveFrameworkListenerToken removes a framework listener by token.
func (c *ModuleContext) RemoveFrameworkListenerToken(token ListenerToken) bool {
	if c.check() != nil {
		return false
	}
	return c.fw.listeners.removeFrameworkListenerToken(token)
}

// GetModule returns the installed module with the given id.
func (c *ModuleContext) GetModule(id int64) (*Module, bool) {
	if c.check() != nil {
		return nil, false
	}
	return c.fw.GetModule(id)
}

// GetModules returns the installed modules in install order, starting
// with the framework itself.
func (c *ModuleContext) GetModules() []*Module {
	if c.check() != nil {
		return nil
	}
	return c.fw.GetModules()
}

// InstallModule installs a module through this context, equivalent to
// Framework.InstallModule.
func (c *ModuleContext) InstallModule(info ModuleInfo) (*Module, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.fw.InstallModule(info)
}
