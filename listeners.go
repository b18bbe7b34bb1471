package microfw

import (
	"sync"
)

// listenerEntry is one registered listener within a compartment.
// The filter is only populated for service listeners.
type listenerEntry[L any] struct {
	token    ListenerToken
	identity callableIdentity
	hasID    bool
	listener L
	owner    *Module
	filter   *Filter
}

// compartment stores the listeners of one kind in insertion order.
// Tokens are monotone and never reused within a compartment.
type compartment[L any] struct {
	nextToken ListenerToken
	entries   []listenerEntry[L]
}

// add appends a listener. If the listener has an identity that is
// already present, the existing entry's token is returned and no
// duplicate is added.
func (c *compartment[L]) add(owner *Module, listener L, filter *Filter) ListenerToken {
	id, ok := identityOf(listener)
	if ok {
		for i := range c.entries {
			if c.entries[i].hasID && c.entries[i].identity == id {
				return c.entries[i].token
			}
		}
	}

	c.nextToken++
	c.entries = append(c.entries, listenerEntry[L]{
		token:    c.nextToken,
		identity: id,
		hasID:    ok,
		listener: listener,
		owner:    owner,
		filter:   filter,
	})
	return c.nextToken
}

// removeByValue removes the entry matching the listener's identity.
// It returns false when the listener has no identity, when no entry
// matches, or when more than one entry shares the identity.
func (c *compartment[L]) removeByValue(listener L) bool {
	id, ok := identityOf(listener)
	if !ok {
		return false
	}

	idx := -1
	for i := range c.entries {
		if !c.entries[i].hasID || c.entries[i].identity != id {
			continue
		}
		if idx >= 0 {
			return false // ambiguous
		}
		idx = i
	}
	if idx < 0 {
		return false
	}
	c.entries = append(c.entries[:idx], c.entries[idx+1:]...)
	return true
}

// removeByToken removes the entry with the given token.
func (c *compartment[L]) removeByToken(token ListenerToken) bool {
	for i := range c.entries {
		if c.entries[i].token == token {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			return true
		}
	}
	return false
}

// removeOwned drops every entry owned by the given module.
func (c *compartment[L]) removeOwned(owner *Module) {
	kept := c.entries[:0]
	for _, e := range c.entries {
		if e.owner != owner {
			kept = append(kept, e)
		}
	}
	c.entries = kept
}

// snapshot copies the current entries in insertion order.
func (c *compartment[L]) snapshot() []listenerEntry[L] {
	out := make([]listenerEntry[L], len(c.entries))
	copy(out, c.entries)
	return out
}

// listenerTable holds the module, service and framework listener
// compartments. All access goes through the table mutex; the mutex is
// never held while a listener runs.
type listenerTable struct {
	mu        sync.Mutex
	modules   compartment[ModuleListener]
	services  compartment[ServiceListener]
	framework compartment[FrameworkListener]
}

func newListenerTable() *listenerTable {
	return &listenerTable{}
}

func (t *listenerTable) addModuleListener(owner *Module, l ModuleListener) ListenerToken {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.modules.add(owner, l, nil)
}

func (t *listenerTable) removeModuleListener(l ModuleListener) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.modules.removeByValue(l)
}

func (t *listenerTable) removeModuleListenerToken(token ListenerToken) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.modules.removeByToken(token)
}

func (t *listenerTable) addServiceListener(owner *Module, l ServiceListener, filter *Filter) ListenerToken {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.services.add(owner, l, filter)
}

func (t *listenerTable) removeServiceListener(l ServiceListener) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.services.removeByValue(l)
}

func (t *listenerTable) removeServiceListenerToken(token ListenerToken) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.services.removeByToken(token)
}

func (t *listenerTable) addFrameworkListener(owner *Module, l FrameworkListener) ListenerToken {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.framework.add(owner, l, nil)
}

func (t *listenerTable) removeFrameworkListener(l FrameworkListener) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.framework.removeByValue(l)
}

func (t *listenerTable) removeFrameworkListenerToken(token ListenerToken) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.framework.removeByToken(token)
}

func (t *listenerTable) moduleSnapshot() []listenerEntry[ModuleListener] {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.modules.snapshot()
}

func (t *listenerTable) serviceSnapshot() []listenerEntry[ServiceListener] {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.services.snapshot()
}

func (t *listenerTable) frameworkSnapshot() []listenerEntry[FrameworkListener] {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.framework.snapshot()
}

// removeOwned drops all listeners owned by a module. Used when the
// module's context is invalidated.
func (t *listenerTable) removeOwned(owner *Module) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.modules.removeOwned(owner)
	t.services.removeOwned(owner)
	t.framework.removeOwned(owner)
}

// clear drops every listener. Tokens keep advancing so a token from a
// previous generation can never remove a later listener.
func (t *listenerTable) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.modules.entries = nil
	t.services.entries = nil
	t.framework.entries = nil
}
