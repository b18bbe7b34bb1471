package microfw

// Service property keys assigned or interpreted by the framework.
const (
	// PropServiceID is the framework-assigned registration id.
	// Read-only; a user-supplied value is overwritten.
	PropServiceID = "service.id"

	// PropServiceRanking orders services sharing an interface. Higher
	// ranking wins; ties break toward the lower service id. Defaults
	// to 0 and may be changed via SetProperties.
	PropServiceRanking = "service.ranking"

	// PropObjectClass is the framework-assigned ordered set of
	// interface names the service was registered under. Read-only.
	PropObjectClass = "objectclass"
)

// ServiceFactory customizes service instantiation per consuming module.
// When a registration's instance implements ServiceFactory, the first
// GetService by a module invokes the factory and caches the returned
// handle for that module; the last UngetService releases it again.
type ServiceFactory interface {
	// GetService returns the service handle for the given consumer.
	// Returning an error (or panicking) fails the consumer's
	// acquisition; nothing is cached.
	GetService(module *Module, registration *ServiceRegistration) (any, error)

	// UngetService releases a handle previously returned by GetService
	// once the consumer's use count drops to zero.
	UngetService(module *Module, registration *ServiceRegistration, service any)
}
