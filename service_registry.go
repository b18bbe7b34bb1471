package microfw

import (
	"fmt"
	"sort"
	"sync"
)

// serviceRegistry is the framework's thread-safe directory of service
// registrations. Indexes are mutated only under the registry lock; the
// lock is never held while user code (listeners, factories) runs.
type serviceRegistry struct {
	fw *Framework

	mu          sync.Mutex
	byInterface map[string][]*ServiceRegistration
	byOwner     map[*Module][]*ServiceRegistration
	all         []*ServiceRegistration
	nextID      int64
}

func newServiceRegistry(fw *Framework) *serviceRegistry {
	return &serviceRegistry{
		fw:          fw,
		byInterface: make(map[string][]*ServiceRegistration),
		byOwner:     make(map[*Module][]*ServiceRegistration),
	}
}

// register inserts a new registration and fires REGISTERED. The id
// assignment and index insertion are atomic with respect to lookups.
func (s *serviceRegistry) register(owner *Module, interfaces []string, instance any, props map[string]any) (*ServiceRegistration, error) {
	if len(interfaces) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, ErrNoInterfaces)
	}
	for _, name := range interfaces {
		if name == "" {
			return nil, fmt.Errorf("%w: empty interface name", ErrInvalidArgument)
		}
	}
	if instance == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, ErrNilService)
	}

	ifaces := make([]string, len(interfaces))
	copy(ifaces, interfaces)

	merged := make(map[string]any, len(props)+3)
	for k, v := range props {
		merged[k] = v
	}
	objectClass := make([]string, len(ifaces))
	copy(objectClass, ifaces)
	merged[PropObjectClass] = objectClass
	merged[PropServiceRanking] = rankingOf(merged)

	reg := &ServiceRegistration{
		registry:   s,
		owner:      owner,
		interfaces: ifaces,
		instance:   instance,
		props:      merged,
		usage:      make(map[*Module]*serviceUsage),
	}

	s.mu.Lock()
	s.nextID++
	reg.serviceID = s.nextID
	merged[PropServiceID] = reg.serviceID
	for _, name := range ifaces {
		s.byInterface[name] = append(s.byInterface[name], reg)
	}
	s.byOwner[owner] = append(s.byOwner[owner], reg)
	s.all = append(s.all, reg)
	s.mu.Unlock()

	s.fireToMatching(ServiceEvent{Type: ServiceRegistered, Reference: reg.Reference()}, merged)
	return reg, nil
}

// getReferences returns the active registrations exposing the given
// interface (all registrations when iface is empty), filtered by the
// optional LDAP expression and ordered by (-ranking, serviceId).
func (s *serviceRegistry) getReferences(iface, filterExpr string) ([]ServiceReference, error) {
	var filter *Filter
	if filterExpr != "" {
		var err error
		filter, err = ParseFilter(filterExpr)
		if err != nil {
			return nil, err
		}
	}

	type candidate struct {
		ref     ServiceReference
		ranking int
		id      int64
	}

	s.mu.Lock()
	regs := s.all
	if iface != "" {
		regs = s.byInterface[iface]
	}
	candidates := make([]candidate, 0, len(regs))
	for _, reg := range regs {
		props := reg.snapshotProperties()
		if reg.isWithdrawn() {
			continue
		}
		if filter != nil && !filter.Match(props) {
			continue
		}
		candidates = append(candidates, candidate{
			ref:     reg.Reference(),
			ranking: rankingOf(props),
			id:      reg.serviceID,
		})
	}
	s.mu.Unlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].ranking != candidates[j].ranking {
			return candidates[i].ranking > candidates[j].ranking
		}
		return candidates[i].id < candidates[j].id
	})

	refs := make([]ServiceReference, len(candidates))
	for i, c := range candidates {
		refs[i] = c.ref
	}
	return refs, nil
}

// getService resolves a reference for a consumer, incrementing its use
// count. The first acquisition through a ServiceFactory invokes the
// factory outside all registry locks and caches the handle per
// consumer.
func (s *serviceRegistry) getService(consumer *Module, ref ServiceReference) (any, error) {
	reg := ref.reg
	if reg == nil {
		return nil, fmt.Errorf("%w: invalid service reference", ErrInvalidArgument)
	}

	reg.mu.Lock()
	if reg.withdrawn {
		reg.mu.Unlock()
		return nil, fmt.Errorf("%w: service %d", ErrServiceWithdrawn, reg.serviceID)
	}
	u := reg.usage[consumer]
	if u == nil {
		u = &serviceUsage{}
		reg.usage[consumer] = u
	}
	u.count++
	reg.totalUse.Add(1)
	reg.mu.Unlock()

	factory, isFactory := reg.instance.(ServiceFactory)
	if !isFactory {
		return reg.instance, nil
	}

	u.once.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				u.err = fmt.Errorf("service factory panicked: %v", r)
			}
		}()
		svc, err := factory.GetService(consumer, reg)
		if err != nil {
			u.err = err
			return
		}
		if svc == nil {
			u.err = ErrFactoryReturnedNil
			return
		}
		u.cached = svc
	})

	if u.err != nil {
		err := u.err
		reg.mu.Lock()
		u.count--
		reg.totalUse.Add(-1)
		if u.count == 0 {
			delete(reg.usage, consumer)
		}
		reg.mu.Unlock()
		return nil, err
	}
	return u.cached, nil
}

// ungetService decrements a consumer's use count. It returns whether
// the consumer had a positive count; a factory's UngetService runs on
// the transition to zero.
func (s *serviceRegistry) ungetService(consumer *Module, ref ServiceReference) bool {
	reg := ref.reg
	if reg == nil {
		return false
	}

	reg.mu.Lock()
	u := reg.usage[consumer]
	if u == nil || u.count == 0 {
		reg.mu.Unlock()
		return false
	}
	u.count--
	reg.totalUse.Add(-1)
	released := u.count == 0
	cached := u.cached
	if released {
		delete(reg.usage, consumer)
	}
	reg.mu.Unlock()

	if released && cached != nil {
		if factory, ok := reg.instance.(ServiceFactory); ok {
			s.safeUngetFactory(factory, consumer, reg, cached)
		}
	}
	return true
}

// unregister withdraws a registration: UNREGISTERING is fully
// delivered first, then the registration becomes unresolvable, the
// remaining consumers are released, and the indexes are cleaned.
func (s *serviceRegistry) unregister(reg *ServiceRegistration) error {
	reg.mu.Lock()
	if reg.unregistered {
		reg.mu.Unlock()
		return fmt.Errorf("%w: service %d", ErrAlreadyWithdrawn, reg.serviceID)
	}
	reg.unregistered = true
	props := make(map[string]any, len(reg.props))
	for k, v := range reg.props {
		props[k] = v
	}
	reg.mu.Unlock()

	s.fireToMatching(ServiceEvent{Type: ServiceUnregistering, Reference: reg.Reference()}, props)

	reg.mu.Lock()
	reg.withdrawn = true
	remaining := reg.usage
	reg.usage = make(map[*Module]*serviceUsage)
	reg.totalUse.Store(0)
	reg.mu.Unlock()

	if factory, ok := reg.instance.(ServiceFactory); ok {
		for consumer, u := range remaining {
			if u.cached != nil {
				s.safeUngetFactory(factory, consumer, reg, u.cached)
			}
		}
	}

	s.mu.Lock()
	for _, name := range reg.interfaces {
		s.byInterface[name] = removeRegistration(s.byInterface[name], reg)
		if len(s.byInterface[name]) == 0 {
			delete(s.byInterface, name)
		}
	}
	s.byOwner[reg.owner] = removeRegistration(s.byOwner[reg.owner], reg)
	if len(s.byOwner[reg.owner]) == 0 {
		delete(s.byOwner, reg.owner)
	}
	s.all = removeRegistration(s.all, reg)
	s.mu.Unlock()

	return nil
}

// modifyProperties replaces a registration's user properties and
// recomputes filter membership for every service listener.
func (s *serviceRegistry) modifyProperties(reg *ServiceRegistration, props map[string]any) error {
	if props == nil {
		return fmt.Errorf("%w: nil properties", ErrInvalidArgument)
	}

	reg.mu.Lock()
	if reg.withdrawn || reg.unregistered {
		reg.mu.Unlock()
		return fmt.Errorf("%w: service %d", ErrServiceWithdrawn, reg.serviceID)
	}
	oldProps := make(map[string]any, len(reg.props))
	for k, v := range reg.props {
		oldProps[k] = v
	}
	merged := make(map[string]any, len(props)+3)
	for k, v := range props {
		merged[k] = v
	}
	merged[PropServiceID] = reg.serviceID
	merged[PropObjectClass] = oldProps[PropObjectClass]
	merged[PropServiceRanking] = rankingOf(merged)
	reg.props = merged
	reg.mu.Unlock()

	evt := ServiceEvent{Type: ServiceModified, Reference: reg.Reference()}
	endmatch := ServiceEvent{Type: ServiceModifiedEndmatch, Reference: reg.Reference()}
	for _, entry := range s.fw.listeners.serviceSnapshot() {
		oldMatch := entry.filter.Match(oldProps)
		newMatch := entry.filter.Match(merged)
		switch {
		case newMatch:
			s.fw.dispatcher.deliverServiceEvent(entry, evt)
		case oldMatch:
			s.fw.dispatcher.deliverServiceEvent(entry, endmatch)
		}
	}
	return nil
}

// registeredBy returns the active registrations owned by a module.
func (s *serviceRegistry) registeredBy(owner *Module) []*ServiceRegistration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ServiceRegistration, len(s.byOwner[owner]))
	copy(out, s.byOwner[owner])
	return out
}

// inUseBy returns the registrations a module currently holds through
// GetService.
func (s *serviceRegistry) inUseBy(consumer *Module) []*ServiceRegistration {
	s.mu.Lock()
	regs := make([]*ServiceRegistration, len(s.all))
	copy(regs, s.all)
	s.mu.Unlock()

	var out []*ServiceRegistration
	for _, reg := range regs {
		reg.mu.Lock()
		u := reg.usage[consumer]
		if u != nil && u.count > 0 {
			out = append(out, reg)
		}
		reg.mu.Unlock()
	}
	return out
}

// releaseModule withdraws everything a stopping module still owns or
// holds: its registrations are unregistered and its outstanding
// acquisitions released.
func (s *serviceRegistry) releaseModule(m *Module) {
	for _, reg := range s.registeredBy(m) {
		if err := s.unregister(reg); err != nil {
			s.fw.logger.Debug("Service already withdrawn during module release",
				"module", m.Name(), "service", reg.serviceID, "error", err)
		}
	}
	for _, reg := range s.inUseBy(m) {
		for s.ungetService(m, reg.Reference()) {
		}
	}
}

// fireToMatching delivers a service event to every listener whose
// filter matches the given properties, in listener insertion order.
func (s *serviceRegistry) fireToMatching(evt ServiceEvent, props map[string]any) {
	for _, entry := range s.fw.listeners.serviceSnapshot() {
		if entry.filter.Match(props) {
			s.fw.dispatcher.deliverServiceEvent(entry, evt)
		}
	}
}

func (s *serviceRegistry) safeUngetFactory(factory ServiceFactory, consumer *Module, reg *ServiceRegistration, svc any) {
	defer func() {
		if r := recover(); r != nil {
			s.fw.logger.Warn("Service factory UngetService panicked",
				"service", reg.serviceID, "module", consumer.Name(), "panic", r)
		}
	}()
	factory.UngetService(consumer, reg, svc)
}

func removeRegistration(regs []*ServiceRegistration, reg *ServiceRegistration) []*ServiceRegistration {
	for i, r := range regs {
		if r == reg {
			return append(regs[:i], regs[i+1:]...)
		}
	}
	return regs
}
