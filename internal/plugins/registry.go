package plugins

import (
	stdplugin "plugin"
	"sync"

	"github.com/regimeflow/regimeflow/pkg/errs"
	"github.com/regimeflow/regimeflow/pkg/types"
	"go.uber.org/zap"
)

// dynamicRecord tracks one shared library's registered symbols so it can
// be unloaded (Go's plugin package never actually closes a handle, but
// the record lets the registry forget the factory and metadata) (§4.10).
type dynamicRecord struct {
	path string
	typ  Type
	name string
}

// Registry is the process-wide, mutex-guarded plugin registry (§4.10,
// §5, §9 "model it as a singleton guarded by a mutex and lazy-init").
// Concurrency-admitted area #1 per §5: factories and dynamicPlugins may
// be mutated from any goroutine.
type Registry struct {
	logger *zap.Logger

	mu             sync.Mutex
	factories      map[Type]map[string]Factory
	dynamicPlugins map[string]dynamicRecord
	handles        map[string]*Handle
}

var (
	singleton     *Registry
	singletonOnce sync.Once
)

// Default returns the process-wide Registry singleton, lazily
// constructed on first use.
func Default() *Registry {
	singletonOnce.Do(func() {
		singleton = NewRegistry(nil)
	})
	return singleton
}

// NewRegistry builds an empty Registry. Most callers should use
// Default(); NewRegistry exists for tests that need an isolated
// instance.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:         logger,
		factories:      make(map[Type]map[string]Factory),
		dynamicPlugins: make(map[string]dynamicRecord),
		handles:        make(map[string]*Handle),
	}
}

// Register adds a static factory for (typ, name). AlreadyExists if the
// pair is already registered.
func (r *Registry) Register(typ Type, name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.factories[typ] == nil {
		r.factories[typ] = make(map[string]Factory)
	}
	if _, exists := r.factories[typ][name]; exists {
		return errs.New(errs.AlreadyExists, "Registry.Register", "plugin already registered: "+string(typ)+"/"+name)
	}
	r.factories[typ][name] = factory
	return nil
}

// Create constructs, loads and initializes a plugin by (type, name),
// running its full on_load/on_initialize sequence per §4.10. The
// returned Handle is Initialized on success.
func (r *Registry) Create(typ Type, name string, config map[string]any) (*Handle, error) {
	r.mu.Lock()
	factory, ok := r.factories[typ][name]
	r.mu.Unlock()
	if !ok {
		return nil, errs.New(errs.NotFound, "Registry.Create", "no factory registered for "+string(typ)+"/"+name)
	}

	p := factory()
	h := &Handle{Type: typ, Name: name, Plugin: p}

	if err := h.transition(types.PluginLoaded); err != nil {
		return nil, err
	}
	if err := p.OnLoad(); err != nil {
		h.state = types.PluginError
		return nil, err
	}
	if err := p.OnInitialize(config); err != nil {
		h.state = types.PluginError
		return nil, err
	}
	if err := h.transition(types.PluginInitialized); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.handles[string(typ)+"/"+name] = h
	r.mu.Unlock()
	return h, nil
}

// LoadDynamicPlugin opens a Go shared-object plugin and registers a
// factory for it. The shared object must export `NewPlugin func()
// plugins.Plugin`, `PluginType string`, `PluginName string` and
// `ABIVersion string` -- the Go-idiomatic analogue of the C ABI in §6
// (create_plugin/destroy_plugin/plugin_type/plugin_name/
// regimeflow_abi_version), since Go's plugin package resolves typed Go
// symbols rather than C function pointers.
func (r *Registry) LoadDynamicPlugin(path string) error {
	lib, err := stdplugin.Open(path)
	if err != nil {
		return errs.Wrap(errs.IOError, "Registry.LoadDynamicPlugin", "cannot open shared library", err)
	}

	abiSym, err := lib.Lookup("ABIVersion")
	if err != nil {
		return errs.Wrap(errs.InvalidState, "Registry.LoadDynamicPlugin", "missing ABIVersion symbol", err)
	}
	abiPtr, ok := abiSym.(*string)
	if !ok || *abiPtr != ABIVersion {
		return errs.New(errs.InvalidState, "Registry.LoadDynamicPlugin", "ABI version mismatch")
	}

	typeSym, err := lib.Lookup("PluginType")
	if err != nil {
		return errs.Wrap(errs.InvalidState, "Registry.LoadDynamicPlugin", "missing PluginType symbol", err)
	}
	typePtr, ok := typeSym.(*string)
	if !ok {
		return errs.New(errs.InvalidState, "Registry.LoadDynamicPlugin", "PluginType has wrong type")
	}

	nameSym, err := lib.Lookup("PluginName")
	if err != nil {
		return errs.Wrap(errs.InvalidState, "Registry.LoadDynamicPlugin", "missing PluginName symbol", err)
	}
	namePtr, ok := nameSym.(*string)
	if !ok {
		return errs.New(errs.InvalidState, "Registry.LoadDynamicPlugin", "PluginName has wrong type")
	}

	newSym, err := lib.Lookup("NewPlugin")
	if err != nil {
		return errs.Wrap(errs.InvalidState, "Registry.LoadDynamicPlugin", "missing NewPlugin symbol", err)
	}
	newFn, ok := newSym.(func() Plugin)
	if !ok {
		return errs.New(errs.InvalidState, "Registry.LoadDynamicPlugin", "NewPlugin has wrong signature")
	}

	typ := Type(*typePtr)
	name := *namePtr

	r.mu.Lock()
	if _, exists := r.dynamicPlugins[name]; exists {
		r.mu.Unlock()
		return errs.New(errs.AlreadyExists, "Registry.LoadDynamicPlugin", "dynamic plugin already loaded: "+name)
	}
	r.dynamicPlugins[name] = dynamicRecord{path: path, typ: typ, name: name}
	if r.factories[typ] == nil {
		r.factories[typ] = make(map[string]Factory)
	}
	r.factories[typ][name] = Factory(newFn)
	r.mu.Unlock()

	return nil
}

// UnloadDynamicPlugin forgets a previously loaded dynamic plugin's
// factory and record. NotFound if the name was never loaded.
func (r *Registry) UnloadDynamicPlugin(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.dynamicPlugins[name]
	if !ok {
		return errs.New(errs.NotFound, "Registry.UnloadDynamicPlugin", "unknown dynamic plugin: "+name)
	}
	delete(r.dynamicPlugins, name)
	if m := r.factories[rec.typ]; m != nil {
		delete(m, name)
	}
	return nil
}

// ScanDirectory attempts LoadDynamicPlugin for every *.so file under
// dir (§4.10; Go's plugin package supports only ELF shared objects, so
// this registry never scans for .dylib/.dll regardless of platform --
// a documented narrowing of the original ABI, see DESIGN.md).
func (r *Registry) ScanDirectory(dir string, list func(dir, ext string) ([]string, error)) error {
	paths, err := list(dir, ".so")
	if err != nil {
		return errs.Wrap(errs.IOError, "Registry.ScanDirectory", "cannot list plugin directory", err)
	}
	for _, path := range paths {
		if err := r.LoadDynamicPlugin(path); err != nil {
			r.logger.Warn("failed to load plugin", zap.String("path", path), zap.Error(err))
		}
	}
	return nil
}

// Handle looks up a previously created handle by (type, name).
func (r *Registry) Handle(typ Type, name string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[string(typ)+"/"+name]
	return h, ok
}

// Handles returns a snapshot of every created handle, keyed by
// "type/name", for introspection endpoints.
func (r *Registry) Handles() map[string]*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*Handle, len(r.handles))
	for k, v := range r.handles {
		out[k] = v
	}
	return out
}
