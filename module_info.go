package microfw

import (
	"io"
)

// Module manifest property keys.
const (
	// PropModuleID is assigned by the framework at install; read-only.
	PropModuleID = "module.id"

	// PropModuleName is the short name used for activator symbol
	// resolution and logging.
	PropModuleName = "module.name"

	// PropModuleLocation is the originating path or URI.
	PropModuleLocation = "module.location"

	// PropModuleVersion is a dotted version string
	// major.minor.micro[.qualifier].
	PropModuleVersion = "module.version"

	// PropModuleVendor is free text.
	PropModuleVendor = "module.vendor"

	// PropModuleDescription is free text.
	PropModuleDescription = "module.description"

	// PropModuleAutoloadDir is the directory scanned when autoload is
	// enabled.
	PropModuleAutoloadDir = "module.autoload_dir"
)

// ResourceProvider gives read access to a module's embedded resource
// tree. Resource storage and lookup live outside the framework core;
// the host supplies a provider per module when it has one.
type ResourceProvider interface {
	// Open returns a reader for the resource at path, or an error if
	// the resource does not exist.
	Open(path string) (io.ReadCloser, error)
}

// ModuleInfo is the host-supplied record describing a loadable module.
// It is read-only after install.
type ModuleInfo struct {
	// Name is the module's short name. Required and unique among
	// installed modules.
	Name string

	// Location is the originating path or URI of the module image.
	Location string

	// Version is the module version string; empty parses as 0.0.0.
	Version string

	// Manifest carries the module's manifest properties. Recognized
	// keys are the PropModule* constants; arbitrary keys are kept.
	Manifest map[string]any

	// Symbols resolves native symbols in the module's image. May be
	// nil for modules without code, which are then activator-less.
	Symbols SymbolResolver

	// Resources exposes the module's resource tree; may be nil.
	Resources ResourceProvider

	// AutoloadDir overrides the manifest's module.autoload_dir.
	AutoloadDir string
}

// FromManifest fills Name, Version and AutoloadDir from a parsed
// manifest map when they are unset on the info itself, and stores the
// manifest. Framework-assigned keys in the input are dropped.
func (info ModuleInfo) FromManifest(manifest map[string]any) ModuleInfo {
	cleaned := make(map[string]any, len(manifest))
	for k, v := range manifest {
		if k == PropModuleID {
			continue
		}
		cleaned[k] = v
	}
	info.Manifest = cleaned

	if info.Name == "" {
		if s, ok := cleaned[PropModuleName].(string); ok {
			info.Name = s
		}
	}
	if info.Version == "" {
		if s, ok := cleaned[PropModuleVersion].(string); ok {
			info.Version = s
		}
	}
	if info.AutoloadDir == "" {
		if s, ok := cleaned[PropModuleAutoloadDir].(string); ok {
			info.AutoloadDir = s
		}
	}
	return info
}
