package microfw

import (
	"sync"
	"sync/atomic"
)

// serviceUsage tracks one module's use of a registration. A fresh
// usage is created whenever the count rises from zero, so a factory is
// re-invoked after a full release.
type serviceUsage struct {
	count  int
	once   sync.Once
	cached any
	err    error
}

// ServiceRegistration is the registry's record of one registered
// service. It is shared between the registry and holders of
// ServiceReference values; the reference side never owns it.
type ServiceRegistration struct {
	registry   *serviceRegistry
	serviceID  int64
	owner      *Module
	interfaces []string
	instance   any

	mu           sync.Mutex
	props        map[string]any
	withdrawn    bool
	unregistered bool
	usage        map[*Module]*serviceUsage

	totalUse atomic.Int64
}

// Reference returns a weak handle to this registration.
func (r *ServiceRegistration) Reference() ServiceReference {
	return ServiceReference{reg: r}
}

// ServiceID returns the framework-assigned registration id.
func (r *ServiceRegistration) ServiceID() int64 { return r.serviceID }

// Module returns the registering module.
func (r *ServiceRegistration) Module() *Module { return r.owner }

// Unregister withdraws the service. UNREGISTERING is delivered to all
// matching service listeners before any consumer loses access; after
// fan-out remaining consumers are released and the registration is
// removed from the registry indexes. A second call fails with
// ErrAlreadyWithdrawn.
func (r *ServiceRegistration) Unregister() error {
	return r.registry.unregister(r)
}

// SetProperties replaces the user properties of the registration.
// Framework-assigned keys (service.id, objectclass) are preserved.
// Listeners whose filter matched the old properties but not the new
// receive MODIFIED_ENDMATCH; listeners matching the new properties
// receive MODIFIED. A ranking change takes effect for subsequent
// lookups.
func (r *ServiceRegistration) SetProperties(props map[string]any) error {
	return r.registry.modifyProperties(r, props)
}

// UseCount returns the total number of outstanding acquisitions across
// all consumers.
func (r *ServiceRegistration) UseCount() int64 { return r.totalUse.Load() }

func (r *ServiceRegistration) snapshotProperties() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]any, len(r.props))
	for k, v := range r.props {
		out[k] = v
	}
	return out
}

func (r *ServiceRegistration) ranking() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return rankingOf(r.props)
}

func (r *ServiceRegistration) isWithdrawn() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.withdrawn
}

// rankingOf reads service.ranking from a property map, accepting the
// integer widths a manifest or caller may plausibly supply.
func rankingOf(props map[string]any) int {
	switch v := props[PropServiceRanking].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	}
	return 0
}
