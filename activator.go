package microfw

// ModuleActivator is the entry point a module exports to take part in
// the service layer. Load runs while the module starts and typically
// registers services and listeners through the supplied context;
// Unload runs while the module stops and releases whatever Load set
// up. Registrations and listeners still owned by the module after
// Unload are withdrawn by the framework.
type ModuleActivator interface {
	// Load is invoked between the LOADING and LOADED events. An error
	// (or panic) aborts the start: partial registrations made during
	// the failed Load are rolled back, a framework ERROR event is
	// fired, and the error propagates to the Start caller.
	Load(ctx *ModuleContext) error

	// Unload is invoked after the UNLOADING event. An error (or panic)
	// is captured, cleanup still runs, and the captured failure is
	// returned to the Stop caller.
	Unload(ctx *ModuleContext) error
}
