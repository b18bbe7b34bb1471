package microfw

// ServiceReference is a weak, comparable handle to a service
// registration. References remain valid after the registration is
// withdrawn, but resolving them through GetService then fails with
// ErrServiceWithdrawn.
type ServiceReference struct {
	reg *ServiceRegistration
}

// IsValid reports whether the reference points at a registration at
// all. The zero ServiceReference is invalid.
func (r ServiceReference) IsValid() bool { return r.reg != nil }

// ServiceID returns the framework-assigned registration id, or 0 for
// an invalid reference.
func (r ServiceReference) ServiceID() int64 {
	if r.reg == nil {
		return 0
	}
	return r.reg.serviceID
}

// Ranking returns the registration's current service.ranking.
func (r ServiceReference) Ranking() int {
	if r.reg == nil {
		return 0
	}
	return r.reg.ranking()
}

// Module returns the module that registered the service.
func (r ServiceReference) Module() *Module {
	if r.reg == nil {
		return nil
	}
	return r.reg.owner
}

// GetProperty returns one service property and whether it is set.
func (r ServiceReference) GetProperty(key string) (any, bool) {
	if r.reg == nil {
		return nil, false
	}
	props := r.reg.snapshotProperties()
	v, ok := props[key]
	return v, ok
}

// Properties returns a copy of the current service properties.
func (r ServiceReference) Properties() map[string]any {
	if r.reg == nil {
		return nil
	}
	return r.reg.snapshotProperties()
}

// Interfaces returns the interface names the service was registered
// under, in registration order.
func (r ServiceReference) Interfaces() []string {
	if r.reg == nil {
		return nil
	}
	out := make([]string, len(r.reg.interfaces))
	copy(out, r.reg.interfaces)
	return out
}

// ProvidesInterface reports whether the service was registered under
// the given interface name.
func (r ServiceReference) ProvidesInterface(name string) bool {
	if r.reg == nil {
		return false
	}
	for _, i := range r.reg.interfaces {
		if i == name {
			return true
		}
	}
	return false
}

// Before reports whether this reference precedes the other in lookup
// order: higher ranking first, then lower service id first.
func (r ServiceReference) Before(o ServiceReference) bool {
	if r.Ranking() != o.Ranking() {
		return r.Ranking() > o.Ranking()
	}
	return r.ServiceID() < o.ServiceID()
}
