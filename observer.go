// CloudEvents integration for the framework's event streams. Core
// listeners stay the primary, synchronous surface; the Observer types
// here export the same events in CloudEvents format for consumers that
// want interoperability with external tooling.
package microfw

import (
	"context"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Observer receives framework happenings as CloudEvents. Observers
// register with an EventExporter and are invoked synchronously in
// registration order.
type Observer interface {
	// OnEvent is called for each exported event. Errors are logged by
	// the exporter and never propagate to the code that caused the
	// event.
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID returns a unique identifier for this observer, used
	// for registration tracking and removal.
	ObserverID() string
}

// FunctionalObserver adapts a function to the Observer interface.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver creates an Observer backed by the handler
// function.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) Observer {
	return &FunctionalObserver{id: id, handler: handler}
}

// OnEvent implements Observer.
func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

// ObserverID implements Observer.
func (f *FunctionalObserver) ObserverID() string { return f.id }

// CloudEvent type constants for the exported framework events.
// Following the CloudEvents specification these use reverse domain
// notation.
const (
	EventTypeModuleInstalled   = "com.microfw.module.installed"
	EventTypeModuleLoading     = "com.microfw.module.loading"
	EventTypeModuleLoaded      = "com.microfw.module.loaded"
	EventTypeModuleUnloading   = "com.microfw.module.unloading"
	EventTypeModuleUnloaded    = "com.microfw.module.unloaded"
	EventTypeModuleUninstalled = "com.microfw.module.uninstalled"

	EventTypeServiceRegistered    = "com.microfw.service.registered"
	EventTypeServiceModified      = "com.microfw.service.modified"
	EventTypeServiceEndmatch      = "com.microfw.service.endmatch"
	EventTypeServiceUnregistering = "com.microfw.service.unregistering"

	EventTypeFrameworkStarted      = "com.microfw.framework.started"
	EventTypeFrameworkError        = "com.microfw.framework.error"
	EventTypeFrameworkWarning      = "com.microfw.framework.warning"
	EventTypeFrameworkInfo         = "com.microfw.framework.info"
	EventTypeFrameworkStopped      = "com.microfw.framework.stopped"
	EventTypeFrameworkWaitTimedOut = "com.microfw.framework.waittimedout"
)

// NewCloudEvent creates a CloudEvent with the given type, source and
// JSON data, stamping a time-ordered unique id.
func NewCloudEvent(eventType, source string, data any) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(generateEventID())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)
	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}
	return event
}

// generateEventID generates a unique identifier using UUIDv7, which
// embeds timestamp information for time-ordered uniqueness.
func generateEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to v4 if v7 fails for any reason
		id = uuid.New()
	}
	return id.String()
}
