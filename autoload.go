package microfw

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/fsnotify/fsnotify"
)

// autoloadModules scans the starting module's autoload directory and
// installs and starts every module manifest found there, depth-first
// in lexicographic order. Failures surface as framework ERROR events
// and never abort the starter.
func (fw *Framework) autoloadModules(parent *Module) {
	dir := parent.info.AutoloadDir
	if dir == "" {
		if s, ok := parent.manifest[PropModuleAutoloadDir].(string); ok {
			dir = s
		}
	}
	if dir == "" {
		return
	}
	fw.autoloadDir(parent, dir)
}

func (fw *Framework) autoloadDir(parent *Module, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		fw.autoloadError(parent, fmt.Errorf("%w: reading %s: %w", ErrAutoloadFailure, dir, err))
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			fw.autoloadDir(parent, path)
			continue
		}
		if _, ok := ManifestFormatForPath(path); !ok {
			continue
		}
		if err := fw.autoloadManifest(parent, path); err != nil {
			fw.autoloadError(parent, err)
		}
	}
}

// autoloadManifest installs and starts one module described by a
// manifest file, sharing the parent's symbol resolver.
func (fw *Framework) autoloadManifest(parent *Module, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: reading %s: %w", ErrAutoloadFailure, path, err)
	}
	manifest, err := ParseManifestFile(path, data)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrAutoloadFailure, path, err)
	}

	info := ModuleInfo{
		Location: path,
		Symbols:  parent.info.Symbols,
	}.FromManifest(manifest)

	m, err := fw.InstallModule(info)
	if err != nil {
		return fmt.Errorf("%w: installing %s: %w", ErrAutoloadFailure, path, err)
	}
	if err := m.Start(); err != nil {
		return fmt.Errorf("%w: starting %s: %w", ErrAutoloadFailure, m.Name(), err)
	}
	fw.logger.Debug("Autoloaded module", "module", m.Name(), "from", path)
	return nil
}

func (fw *Framework) autoloadError(parent *Module, err error) {
	fw.logger.Error("Autoload failed", "module", parent.Name(), "error", err)
	fw.dispatcher.fireFrameworkEvent(FrameworkEvent{
		Type:    FrameworkError,
		Module:  parent,
		Message: "Autoloading a module failed",
		Err:     err,
	})
}

// AutoloadWatcher installs module manifests as they appear in watched
// autoload directories, complementing the one-shot scan performed at
// module start. Watch failures surface as framework WARNING events.
type AutoloadWatcher struct {
	fw      *Framework
	symbols SymbolResolver
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewAutoloadWatcher starts watching the given directories. Manifests
// created while the watcher runs are installed and started with the
// supplied symbol resolver.
func NewAutoloadWatcher(fw *Framework, symbols SymbolResolver, dirs ...string) (*AutoloadWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create autoload watcher: %w", err)
	}
	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	w := &AutoloadWatcher{
		fw:      fw,
		symbols: symbols,
		watcher: watcher,
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *AutoloadWatcher) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if _, ok := ManifestFormatForPath(event.Name); !ok {
				continue
			}
			if err := w.install(event.Name); err != nil {
				w.fw.logger.Warn("Autoload watcher install failed", "path", event.Name, "error", err)
				w.fw.dispatcher.fireFrameworkEvent(FrameworkEvent{
					Type:    FrameworkWarning,
					Module:  w.fw.self,
					Message: "Autoload watcher failed to install a module",
					Err:     err,
				})
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.fw.logger.Warn("Autoload watcher error", "error", err)
			w.fw.dispatcher.fireFrameworkEvent(FrameworkEvent{
				Type:    FrameworkWarning,
				Module:  w.fw.self,
				Message: "Autoload watcher error",
				Err:     err,
			})
		}
	}
}

func (w *AutoloadWatcher) install(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: reading %s: %w", ErrAutoloadFailure, path, err)
	}
	manifest, err := ParseManifestFile(path, data)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrAutoloadFailure, path, err)
	}

	info := ModuleInfo{
		Location: path,
		Symbols:  w.symbols,
	}.FromManifest(manifest)

	// A rewrite of an already-installed manifest is not an error.
	if _, ok := w.fw.GetModuleByName(info.Name); ok {
		return nil
	}

	m, err := w.fw.InstallModule(info)
	if err != nil {
		return fmt.Errorf("%w: installing %s: %w", ErrAutoloadFailure, path, err)
	}
	if err := m.Start(); err != nil {
		return fmt.Errorf("%w: starting %s: %w", ErrAutoloadFailure, m.Name(), err)
	}
	return nil
}

// Close stops watching and waits for the watch loop to exit.
func (w *AutoloadWatcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
