package resource

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/rest"
)

// Registry holds one Resource per backend entity type. It is constructed once
// at application start and passed by reference to any component needing
// resource access.
type Registry struct {
	client *rest.Client
	logger core.Logger

	mu        sync.Mutex
	resources map[string]*Resource
}

func NewRegistry(client *rest.Client, logger core.Logger) *Registry {
	if logger == nil {
		logger = core.NopLogger{}
	}
	return &Registry{
		client:    client,
		logger:    logger,
		resources: make(map[string]*Resource),
	}
}

// Register creates and registers the Resource described by opts.
// Registering the same name twice is a programmer error.
func (r *Registry) Register(opts Options) (*Resource, error) {
	res, err := newResource(opts, r.client, r.logger)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.resources[res.name]; exists {
		return nil, errors.Errorf("resource %q is already registered", res.name)
	}
	r.resources[res.name] = res
	return res, nil
}

// MustRegister is Register for static resource definitions known at startup.
func (r *Registry) MustRegister(opts Options) *Resource {
	res, err := r.Register(opts)
	if err != nil {
		panic(err)
	}
	return res
}

// Get returns the registered Resource for name, or nil.
func (r *Registry) Get(name string) *Resource {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resources[name]
}

// ClearCaches evicts every cached model and collection across all resources;
// used on sign-out.
func (r *Registry) ClearCaches() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range r.resources {
		res.ClearCache()
	}
}
