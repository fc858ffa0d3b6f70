package resource

import (
	"context"
	"net/http"
	"reflect"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/rest"
)

// Model is the cached representation of one entity instance.
//
// synced means "attributes reflect the last known server state, safe to serve
// from cache". Concurrent Fetch/Save/Delete calls are not serialized: each
// issues its own network call and the last response to resolve wins the final
// merged state. The in-flight counter exists for observability, not mutual
// exclusion.
type Model struct {
	resource *Resource
	cacheKey string // internal cache key while the model has no id

	mu         sync.Mutex
	attributes Attributes
	synced     bool
	deleted    bool
	inFlight   int
}

// newModel constructs a Model. A Model cannot exist without identity-bearing
// content or an owner.
func newModel(res *Resource, data Attributes) (*Model, error) {
	if res == nil {
		return nil, errors.New("resource: a Model cannot exist without an owning Resource")
	}
	if len(data) == 0 {
		return nil, errors.New("resource: a Model cannot be created from empty data")
	}
	m := &Model{resource: res, attributes: make(Attributes, len(data))}
	m.Set(data)
	return m, nil
}

// Attributes returns a copy of the current payload.
func (m *Model) Attributes() Attributes {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attributes.clone()
}

func (m *Model) ID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attributes.ID()
}

func (m *Model) Synced() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.synced
}

func (m *Model) Deleted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleted
}

// InFlight reports how many requests are currently outstanding for this
// instance.
func (m *Model) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

// Set shallow-merges data into the attributes, coercing any id to a string.
func (m *Model) Set(data Attributes) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(data)
}

func (m *Model) setLocked(data Attributes) {
	for k, v := range data {
		if k == "id" {
			m.attributes[k] = CoerceID(v)
			continue
		}
		m.attributes[k] = v
	}
}

func (m *Model) setSynced(synced bool) {
	m.mu.Lock()
	m.synced = synced
	m.mu.Unlock()
}

// Fetch returns the entity's attributes, from cache when synced (unless
// forced), otherwise from the server. On failure the synced flag is left
// unset and the error is propagated.
func (m *Model) Fetch(ctx context.Context, params map[string]string, force ...bool) (Attributes, error) {
	frc := len(force) > 0 && force[0]

	m.mu.Lock()
	if m.synced && !frc {
		attrs := m.attributes.clone()
		m.mu.Unlock()
		return attrs, nil
	}
	id := m.attributes.ID()
	// once a refresh is underway the cache is no longer authoritative
	m.synced = false
	m.inFlight++
	m.mu.Unlock()
	defer m.settle()

	if id == "" {
		err := core.NewArgumentError("can not fetch a model with no id")
		m.logError("Fetch", err)
		return nil, err
	}
	path, query, err := m.resource.modelPath(id, params)
	if err != nil {
		m.logError("Fetch", err)
		return nil, err
	}

	res, err := m.resource.client.Do(ctx, rest.Request{Method: http.MethodGet, Path: path, Params: query})
	if err != nil {
		m.logError("Fetch", err)
		return nil, err
	}
	attrs, err := ParseModelResponse(res.Data)
	if err != nil {
		m.logError("Fetch", err)
		return nil, err
	}

	m.mu.Lock()
	m.setLocked(attrs)
	m.synced = true
	out := m.attributes.clone()
	m.mu.Unlock()
	return out, nil
}

// Save persists changed attributes. A synced no-op change resolves without a
// network call. A model with no id is created against the collection URL and,
// once the server assigns an id, registered with its owning Resource so it
// becomes addressable via GetModel. Local attributes are only merged after
// server confirmation.
func (m *Model) Save(ctx context.Context, changed Attributes) (Attributes, error) {
	return m.save(ctx, changed, nil)
}

// SaveWithParams is Save for resources whose path requires identifiers.
func (m *Model) SaveWithParams(ctx context.Context, changed Attributes, params map[string]string) (Attributes, error) {
	return m.save(ctx, changed, params)
}

func (m *Model) save(ctx context.Context, changed Attributes, params map[string]string) (Attributes, error) {
	m.mu.Lock()
	if m.synced && m.isNoopLocked(changed) {
		attrs := m.attributes.clone()
		m.mu.Unlock()
		return attrs, nil
	}
	id := m.attributes.ID()
	m.inFlight++
	m.mu.Unlock()
	defer m.settle()

	var (
		res *rest.Response
		err error
	)
	if id == "" {
		// not yet persisted: create against the collection URL with the
		// full payload
		var path string
		path, _, err = m.resource.collectionPath(params)
		if err != nil {
			m.logError("Save", err)
			return nil, err
		}
		payload := m.Attributes()
		for k, v := range changed {
			payload[k] = v
		}
		res, err = m.resource.client.Do(ctx, rest.Request{Path: path, Data: payload})
	} else {
		var path string
		path, _, err = m.resource.modelPath(id, params)
		if err != nil {
			m.logError("Save", err)
			return nil, err
		}
		res, err = m.resource.client.Do(ctx, rest.Request{Method: http.MethodPatch, Path: path, Data: changed})
	}
	if err != nil {
		m.logError("Save", err)
		return nil, err
	}

	attrs, err := ParseModelResponse(res.Data)
	if err != nil {
		m.logError("Save", err)
		return nil, err
	}

	// the server is authoritative for any server-computed fields
	m.mu.Lock()
	m.setLocked(changed)
	m.setLocked(attrs)
	m.synced = true
	out := m.attributes.clone()
	newID := m.attributes.ID()
	m.mu.Unlock()

	if id == "" && newID != "" {
		// only now individually addressable by id
		m.resource.AddModel(m)
	}
	return out, nil
}

// Delete destroys the persisted entity and evicts it from the owning
// Resource, resolving with the deleted id.
func (m *Model) Delete(ctx context.Context, params ...map[string]string) (string, error) {
	var p map[string]string
	if len(params) > 0 {
		p = params[0]
	}

	m.mu.Lock()
	id := m.attributes.ID()
	if id == "" {
		m.mu.Unlock()
		err := core.NewArgumentError("can not delete a model with no id")
		m.logError("Delete", err)
		return "", err
	}
	m.inFlight++
	m.mu.Unlock()
	defer m.settle()

	path, _, err := m.resource.modelPath(id, p)
	if err != nil {
		m.logError("Delete", err)
		return "", err
	}
	if _, err := m.resource.client.Do(ctx, rest.Request{Method: http.MethodDelete, Path: path}); err != nil {
		m.logError("Delete", err)
		return "", err
	}

	m.resource.RemoveModel(m)
	m.mu.Lock()
	m.attributes = make(Attributes)
	m.synced = false
	m.deleted = true
	m.mu.Unlock()
	return id, nil
}

// isNoopLocked reports whether changed is deep-equal to the corresponding
// current attributes.
func (m *Model) isNoopLocked(changed Attributes) bool {
	for k, v := range changed {
		if k == "id" {
			v = CoerceID(v)
		}
		if !reflect.DeepEqual(m.attributes[k], v) {
			return false
		}
	}
	return true
}

func (m *Model) settle() {
	m.mu.Lock()
	m.inFlight--
	m.mu.Unlock()
}

func (m *Model) logError(op string, err error) {
	m.resource.logger.Error("resource "+m.resource.name+": Model."+op+" failed", err)
}
