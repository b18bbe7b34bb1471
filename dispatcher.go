package microfw

import (
	"fmt"
)

// dispatcher fans events out to listener snapshots, synchronously on
// the calling goroutine. No table or registry lock is held while a
// listener runs, so listeners may call back into any framework
// operation without deadlocking.
//
// A panic in a module or service listener is captured and redelivered
// as a framework ERROR event. A panic in a framework listener is only
// logged; the framework-event path never re-enters itself, which keeps
// a throwing framework listener from recursing forever.
type dispatcher struct {
	table  *listenerTable
	logger Logger
}

func newDispatcher(table *listenerTable, logger Logger) *dispatcher {
	return &dispatcher{table: table, logger: logger}
}

// fireModuleEvent delivers a module event to all module listeners in
// insertion order.
func (d *dispatcher) fireModuleEvent(evt ModuleEvent) {
	for _, entry := range d.table.moduleSnapshot() {
		d.deliverModuleEvent(entry, evt)
	}
}

func (d *dispatcher) deliverModuleEvent(entry listenerEntry[ModuleListener], evt ModuleEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.fireFrameworkEvent(FrameworkEvent{
				Type:    FrameworkError,
				Module:  entry.owner,
				Message: "A Module Listener threw an exception",
				Err:     capturedError(r),
			})
		}
	}()
	entry.listener.ModuleChanged(evt)
}

// deliverServiceEvent invokes one service listener, converting a panic
// into a framework ERROR event. Filter membership is decided by the
// registry before delivery.
func (d *dispatcher) deliverServiceEvent(entry listenerEntry[ServiceListener], evt ServiceEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.fireFrameworkEvent(FrameworkEvent{
				Type:    FrameworkError,
				Module:  entry.owner,
				Message: "A Service Listener threw an exception",
				Err:     capturedError(r),
			})
		}
	}()
	entry.listener.ServiceChanged(evt)
}

// fireFrameworkEvent delivers a framework event to all framework
// listeners in insertion order. Listener panics are logged and
// swallowed here, never redispatched.
func (d *dispatcher) fireFrameworkEvent(evt FrameworkEvent) {
	for _, entry := range d.table.frameworkSnapshot() {
		d.deliverFrameworkEvent(entry, evt)
	}
}

func (d *dispatcher) deliverFrameworkEvent(entry listenerEntry[FrameworkListener], evt FrameworkEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("A Framework Listener threw an exception:", "error", capturedError(r))
		}
	}()
	entry.listener.FrameworkChanged(evt)
}

// capturedError normalizes a recovered panic value into an error.
func capturedError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("%v", r)
}
