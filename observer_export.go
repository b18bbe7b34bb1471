package microfw

import (
	"context"
	"fmt"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// EventExporter bridges the framework's module, service and framework
// event streams onto CloudEvents observers. It is layered entirely on
// the public listener API of a module context: closing the exporter,
// or stopping the context's module, detaches it.
//
// Delivery to observers is synchronous, on the goroutine that caused
// the underlying event, in observer registration order. Observer
// errors are logged and swallowed.
type EventExporter struct {
	ctx    *ModuleContext
	logger Logger

	mu        sync.Mutex
	observers []Observer

	moduleToken    ListenerToken
	serviceToken   ListenerToken
	frameworkToken ListenerToken
	closed         bool
}

// NewEventExporter attaches an exporter to the given module context.
func NewEventExporter(ctx *ModuleContext) (*EventExporter, error) {
	e := &EventExporter{ctx: ctx, logger: ctx.fw.logger}

	var err error
	if e.moduleToken, err = ctx.AddModuleListener(ModuleListenerFunc(e.onModuleEvent)); err != nil {
		return nil, err
	}
	if e.serviceToken, err = ctx.AddServiceListener(ServiceListenerFunc(e.onServiceEvent), ""); err != nil {
		ctx.RemoveModuleListenerToken(e.moduleToken)
		return nil, err
	}
	if e.frameworkToken, err = ctx.AddFrameworkListener(FrameworkListenerFunc(e.onFrameworkEvent)); err != nil {
		ctx.RemoveModuleListenerToken(e.moduleToken)
		ctx.RemoveServiceListenerToken(e.serviceToken)
		return nil, err
	}
	return e, nil
}

// RegisterObserver adds an observer. Observers are invoked in
// registration order; re-registering an id replaces the previous
// observer in place.
func (e *EventExporter) RegisterObserver(o Observer) error {
	if o == nil {
		return fmt.Errorf("%w: nil observer", ErrInvalidArgument)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, existing := range e.observers {
		if existing.ObserverID() == o.ObserverID() {
			e.observers[i] = o
			return nil
		}
	}
	e.observers = append(e.observers, o)
	return nil
}

// UnregisterObserver removes an observer by id. Idempotent.
func (e *EventExporter) UnregisterObserver(o Observer) {
	if o == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, existing := range e.observers {
		if existing.ObserverID() == o.ObserverID() {
			e.observers = append(e.observers[:i], e.observers[i+1:]...)
			return
		}
	}
}

// Close detaches the exporter from the framework's event streams.
func (e *EventExporter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.ctx.RemoveModuleListenerToken(e.moduleToken)
	e.ctx.RemoveServiceListenerToken(e.serviceToken)
	e.ctx.RemoveFrameworkListenerToken(e.frameworkToken)
}

func (e *EventExporter) onModuleEvent(evt ModuleEvent) {
	var eventType string
	switch evt.Type {
	case ModuleInstalled:
		eventType = EventTypeModuleInstalled
	case ModuleLoading:
		eventType = EventTypeModuleLoading
	case ModuleLoaded:
		eventType = EventTypeModuleLoaded
	case ModuleUnloading:
		eventType = EventTypeModuleUnloading
	case ModuleUnloaded:
		eventType = EventTypeModuleUnloaded
	case ModuleUninstalled:
		eventType = EventTypeModuleUninstalled
	default:
		return
	}
	data := map[string]any{
		"moduleId":   evt.Module.ID(),
		"moduleName": evt.Module.Name(),
	}
	e.notify(NewCloudEvent(eventType, moduleSource(evt.Module), data))
}

func (e *EventExporter) onServiceEvent(evt ServiceEvent) {
	var eventType string
	switch evt.Type {
	case ServiceRegistered:
		eventType = EventTypeServiceRegistered
	case ServiceModified:
		eventType = EventTypeServiceModified
	case ServiceModifiedEndmatch:
		eventType = EventTypeServiceEndmatch
	case ServiceUnregistering:
		eventType = EventTypeServiceUnregistering
	default:
		return
	}
	data := map[string]any{
		"serviceId":   evt.Reference.ServiceID(),
		"objectclass": evt.Reference.Interfaces(),
	}
	e.notify(NewCloudEvent(eventType, moduleSource(evt.Reference.Module()), data))
}

func (e *EventExporter) onFrameworkEvent(evt FrameworkEvent) {
	var eventType string
	switch evt.Type {
	case FrameworkStarted:
		eventType = EventTypeFrameworkStarted
	case FrameworkError:
		eventType = EventTypeFrameworkError
	case FrameworkWarning:
		eventType = EventTypeFrameworkWarning
	case FrameworkInfo:
		eventType = EventTypeFrameworkInfo
	case FrameworkStopped:
		eventType = EventTypeFrameworkStopped
	case FrameworkWaitTimedOut:
		eventType = EventTypeFrameworkWaitTimedOut
	default:
		return
	}
	data := map[string]any{"message": evt.Message}
	if evt.Err != nil {
		data["error"] = evt.Err.Error()
	}
	e.notify(NewCloudEvent(eventType, moduleSource(evt.Module), data))
}

func (e *EventExporter) notify(event cloudevents.Event) {
	e.mu.Lock()
	observers := make([]Observer, len(e.observers))
	copy(observers, e.observers)
	e.mu.Unlock()

	ctx := context.Background()
	for _, o := range observers {
		if err := o.OnEvent(ctx, event); err != nil {
			e.logger.Error("Observer error", "observerID", o.ObserverID(), "event", event.Type(), "error", err)
		}
	}
}

func moduleSource(m *Module) string {
	if m == nil {
		return "microfw://framework"
	}
	return fmt.Sprintf("microfw://module/%d", m.ID())
}
