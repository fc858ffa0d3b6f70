package resource

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/rest"
)

// Options declares one backend entity type.
// Path may contain `:identifier` segments (eg. "/api/classrooms/:classroom_id/lessons/");
// those become required resource identifiers that every call must supply.
type Options struct {
	Name string `json:"name" validate:"required,alphanum_"`
	Path string `json:"path" validate:"required"`
}

// Resource is the single entry point for obtaining cached or fresh Model and
// Collection instances for one entity type, and the authority for cache
// admission and eviction. It keeps an identity map: at most one live Model
// per non-empty id.
type Resource struct {
	name        string
	path        string
	identifiers []string
	client      *rest.Client
	logger      core.Logger

	mu          sync.Mutex
	models      map[string]*Model
	collections map[string]*Collection
}

func newResource(opts Options, client *rest.Client, logger core.Logger) (*Resource, error) {
	opts.Name = core.CleanString(opts.Name)
	opts.Path = core.CleanString(opts.Path)
	if err := core.CheckStruct(opts); err != nil {
		return nil, err
	}
	return &Resource{
		name:        opts.Name,
		path:        opts.Path,
		identifiers: pathIdentifiers(opts.Path),
		client:      client,
		logger:      logger,
		models:      make(map[string]*Model),
		collections: make(map[string]*Collection),
	}, nil
}

func (r *Resource) Name() string { return r.name }

// Client is a thin pass-through to the shared HTTP client; Resource does not
// retry or transform errors itself.
func (r *Resource) Client() *rest.Client { return r.client }

// GetModel returns the cached Model for id, creating and caching an empty one
// on a miss. It never issues a network call; fetching is the caller's job via
// Model.Fetch.
func (r *Resource) GetModel(id string) *Model {
	if id == "" {
		// an empty id can never be looked up again; hand out a fresh
		// uncached instance instead of growing the cache
		m, _ := newModel(r, Attributes{"id": ""})
		return m
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.models[id]; ok {
		return m
	}
	m, _ := newModel(r, Attributes{"id": id})
	return r.addModelLocked(m)
}

// CreateModel constructs a new Model owned by this resource and registers it
// through AddModel. The returned instance may be an existing cached one when
// the data carries an already-cached id.
func (r *Resource) CreateModel(data Attributes) (*Model, error) {
	m, err := newModel(r, data)
	if err != nil {
		return nil, err
	}
	return r.AddModel(m), nil
}

// AddModel admits a Model into the identity map. When a model with the same
// non-empty id is already cached, the new attributes are merged into the
// existing instance and that instance is returned: UI bindings hold
// references to cached models, so identity is preserved and data replaced.
// Id-less models are cached under an internally generated key and are not
// retrievable by id.
func (r *Resource) AddModel(m *Model) *Model {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addModelLocked(m)
}

// addModelLocked is the only admission path; it holds r.mu across the
// lookup-then-insert so two concurrent GetModel calls cannot create two
// divergent instances for the same id.
func (r *Resource) addModelLocked(m *Model) *Model {
	id := m.ID()
	if id == "" {
		if m.cacheKey == "" {
			m.cacheKey = uuid.New().String()
		}
		r.models[m.cacheKey] = m
		return m
	}
	if m.cacheKey != "" {
		// the model gained an id after a create; drop its internal key
		delete(r.models, m.cacheKey)
		m.cacheKey = ""
	}
	if existing, ok := r.models[id]; ok && existing != m {
		existing.Set(m.Attributes())
		return existing
	}
	r.models[id] = m
	return m
}

// RemoveModel evicts the model from the cache; absent models are ignored.
func (r *Resource) RemoveModel(m *Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id := m.ID(); id != "" {
		delete(r.models, id)
	}
	if m.cacheKey != "" {
		delete(r.models, m.cacheKey)
	}
}

// UnCacheModel forces the next access to re-fetch without evicting the
// instance, preserving object identity for existing bindings.
func (r *Resource) UnCacheModel(id string) {
	r.mu.Lock()
	m, ok := r.models[id]
	r.mu.Unlock()
	if ok {
		m.setSynced(false)
	}
}

// GetCollection returns the cached Collection for params, creating an empty
// one on a miss. params covering the same key/value pairs in any order hit
// the same cache entry.
func (r *Resource) GetCollection(params map[string]string) (*Collection, error) {
	if _, err := r.FilterResourceIDs(params); err != nil {
		return nil, err
	}
	key := CacheKey(params)
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.collections[key]; ok {
		return c, nil
	}
	c := newCollection(r, params, nil)
	r.collections[key] = c
	return c, nil
}

// CreateCollection builds a new, bulk-creatable Collection holding data and
// caches it under params. Use Collection.Save to persist its contents.
func (r *Resource) CreateCollection(params map[string]string, data []Attributes) (*Collection, error) {
	if _, err := r.FilterResourceIDs(params); err != nil {
		return nil, err
	}
	c := newCollection(r, params, data)
	c.isNew = true
	r.mu.Lock()
	r.collections[CacheKey(params)] = c
	r.mu.Unlock()
	return c, nil
}

// RemoveCollection evicts the collection; absent collections are ignored.
func (r *Resource) RemoveCollection(c *Collection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.collections, c.cacheKey)
}

// UnCacheCollection marks the cached collection for params as un-synced
// without evicting it.
func (r *Resource) UnCacheCollection(params map[string]string) {
	r.mu.Lock()
	c, ok := r.collections[CacheKey(params)]
	r.mu.Unlock()
	if ok {
		c.setSynced(false)
	}
}

// ClearCache empties both the model and collection caches.
func (r *Resource) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models = make(map[string]*Model)
	r.collections = make(map[string]*Collection)
}

// FilterResourceIDs extracts exactly the declared path identifiers from
// params. A missing identifier is a programmer error: the URL cannot be
// built without it.
func (r *Resource) FilterResourceIDs(params map[string]string) (map[string]string, error) {
	ids := make(map[string]string, len(r.identifiers))
	var missing []core.FieldError
	for _, name := range r.identifiers {
		val, ok := params[name]
		if !ok || val == "" {
			missing = append(missing, core.FieldError{Field: name, Error: "this resource identifier is required"})
			continue
		}
		ids[name] = val
	}
	if len(missing) > 0 {
		return nil, core.NewValidationError(
			errors.Errorf("resource %s: missing required resource identifiers", r.name), missing...)
	}
	return ids, nil
}

// collectionPath resolves the endpoint path for params, returning the
// remaining non-identifier params as GET query parameters.
func (r *Resource) collectionPath(params map[string]string) (string, map[string]string, error) {
	ids, err := r.FilterResourceIDs(params)
	if err != nil {
		return "", nil, err
	}
	path := r.path
	for name, val := range ids {
		path = strings.ReplaceAll(path, ":"+name, val)
	}
	query := make(map[string]string, len(params))
	for k, v := range params {
		if _, isID := ids[k]; !isID {
			query[k] = v
		}
	}
	return path, query, nil
}

// modelPath resolves the endpoint path for one entity.
func (r *Resource) modelPath(id string, params map[string]string) (string, map[string]string, error) {
	base, query, err := r.collectionPath(params)
	if err != nil {
		return "", nil, err
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + id + "/", query, nil
}

// CacheKey canonicalizes query parameters into a stable cache key: keys are
// sorted lexicographically and the ordered mapping is JSON-serialized, so
// {a, b} and {b, a} collide to the same entry.
func CacheKey(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(params[k])
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.String()
}

func pathIdentifiers(path string) []string {
	var ids []string
	for _, seg := range strings.Split(path, "/") {
		if strings.HasPrefix(seg, ":") && len(seg) > 1 {
			ids = append(ids, seg[1:])
		}
	}
	return ids
}
