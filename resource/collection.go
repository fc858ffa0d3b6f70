package resource

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/rest"
)

// Collection is the cached, ordered result set of one query: a specific
// combination of resource identifiers and GET parameters. Member models are
// admitted through the owning Resource's identity map, deduplicated by id
// within the collection (id-less entries are appended but never indexed).
type Collection struct {
	resource  *Resource
	getParams map[string]string
	cacheKey  string

	mu       sync.Mutex
	models   []*Model
	modelMap map[string]*Model
	synced   bool
	isNew    bool
	inFlight int

	// pagination metadata, recomputed on every paginated fetch/save
	page      int
	pageCount int
	count     int
	hasNext   bool
	hasPrev   bool
}

func newCollection(res *Resource, getParams map[string]string, data []Attributes) *Collection {
	params := make(map[string]string, len(getParams))
	for k, v := range getParams {
		params[k] = v
	}
	c := &Collection{
		resource:  res,
		getParams: params,
		cacheKey:  CacheKey(params),
		modelMap:  make(map[string]*Model),
	}
	if len(data) > 0 {
		c.Set(data...)
	}
	return c
}

// GetParams returns a copy of the query that produced this collection.
func (c *Collection) GetParams() map[string]string {
	out := make(map[string]string, len(c.getParams))
	for k, v := range c.getParams {
		out[k] = v
	}
	return out
}

// Models returns the current member models in order.
func (c *Collection) Models() []*Model {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Model, len(c.models))
	copy(out, c.models)
	return out
}

func (c *Collection) Synced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.synced
}

func (c *Collection) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

func (c *Collection) Page() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}

func (c *Collection) PageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pageCount
}

func (c *Collection) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func (c *Collection) HasNext() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasNext
}

func (c *Collection) HasPrev() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasPrev
}

// Set merges items into the collection. An item whose id is already indexed
// is merged into the existing member in place, preserving its position and
// identity; new items are appended and, when they carry an id, indexed.
func (c *Collection) Set(items ...Attributes) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(items)
}

func (c *Collection) setLocked(items []Attributes) {
	for _, item := range items {
		if len(item) == 0 {
			continue
		}
		// admit through the resource's identity map first
		m, err := c.resource.CreateModel(item)
		if err != nil {
			c.resource.logger.Warn("resource "+c.resource.name+": Collection.Set skipped invalid item", err)
			continue
		}
		id := m.ID()
		if id == "" {
			// unkeyed entries are not index-tracked: no accidental
			// overwrite, but no dedup either
			c.models = append(c.models, m)
			continue
		}
		if existing, ok := c.modelMap[id]; ok {
			existing.Set(item)
			continue
		}
		c.modelMap[id] = m
		c.models = append(c.models, m)
	}
}

// ClearCache empties the member list and its index.
func (c *Collection) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}

func (c *Collection) clearLocked() {
	c.models = nil
	c.modelMap = make(map[string]*Model)
}

// Fetch returns the member models, from cache when synced (unless forced),
// otherwise from the server. A fresh fetch is a full replace: server-side
// filtering or ordering may have changed entirely.
func (c *Collection) Fetch(ctx context.Context, force ...bool) ([]*Model, error) {
	frc := len(force) > 0 && force[0]

	c.mu.Lock()
	if c.synced && !frc {
		out := make([]*Model, len(c.models))
		copy(out, c.models)
		c.mu.Unlock()
		return out, nil
	}
	// once a refresh is underway the cache is no longer authoritative
	c.synced = false
	c.inFlight++
	c.mu.Unlock()
	defer c.settle()

	path, query, err := c.resource.collectionPath(c.getParams)
	if err != nil {
		c.logError("Fetch", err)
		return nil, err
	}
	res, err := c.resource.client.Do(ctx, rest.Request{Method: http.MethodGet, Path: path, Params: query})
	if err != nil {
		c.logError("Fetch", err)
		return nil, err
	}
	return c.apply(res.Data, "Fetch")
}

// Save bulk-creates the collection's contents. Only collections assembled as
// new are creatable; collections cannot be updated, only created.
func (c *Collection) Save(ctx context.Context) ([]*Model, error) {
	c.mu.Lock()
	if !c.isNew {
		c.mu.Unlock()
		err := core.NewArgumentError("can only save new collections")
		c.logError("Save", err)
		return nil, err
	}
	payload := make([]Attributes, 0, len(c.models))
	for _, m := range c.models {
		payload = append(payload, m.Attributes())
	}
	c.inFlight++
	c.mu.Unlock()
	defer c.settle()

	path, _, err := c.resource.collectionPath(c.getParams)
	if err != nil {
		c.logError("Save", err)
		return nil, err
	}
	res, err := c.resource.client.Do(ctx, rest.Request{Method: http.MethodPost, Path: path, Data: payload})
	if err != nil {
		c.logError("Save", err)
		return nil, err
	}

	models, err := c.apply(res.Data, "Save")
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.isNew = false
	c.mu.Unlock()
	return models, nil
}

// Delete destroys every entity matched by the collection's query. Deleting an
// entirely unfiltered collection is refused: that would be an accidental mass
// deletion, not a query.
func (c *Collection) Delete(ctx context.Context) error {
	if len(c.getParams) == 0 {
		err := core.NewArgumentError("can not delete unfiltered collection")
		c.logError("Delete", err)
		return err
	}

	c.mu.Lock()
	c.inFlight++
	c.mu.Unlock()
	defer c.settle()

	path, query, err := c.resource.collectionPath(c.getParams)
	if err != nil {
		c.logError("Delete", err)
		return err
	}
	if _, err := c.resource.client.Do(ctx, rest.Request{Method: http.MethodDelete, Path: path, Params: query}); err != nil {
		c.logError("Delete", err)
		return err
	}

	c.mu.Lock()
	members := make([]*Model, len(c.models))
	copy(members, c.models)
	c.mu.Unlock()
	for _, m := range members {
		m.mu.Lock()
		m.deleted = true
		m.synced = false
		m.mu.Unlock()
	}
	c.resource.RemoveCollection(c)
	return nil
}

// apply replaces the collection's contents with a parsed response body and
// recomputes pagination metadata. Malformed bodies reject without mutating
// collection state.
func (c *Collection) apply(body []byte, op string) ([]*Model, error) {
	parsed, err := ParseListResponse(body)
	if err != nil {
		c.logError(op, err)
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
	switch data := parsed.(type) {
	case ListResponse:
		c.setLocked(data)
		c.page, c.pageCount, c.count = 0, 0, 0
		c.hasNext, c.hasPrev = false, false
	case PageResponse:
		c.setLocked(data.Results)
		c.count = data.Count
		c.hasNext = data.Next
		c.hasPrev = data.Previous
		c.page = c.currentPage()
		c.pageCount = pageCount(data.Count, c.pageSize(len(data.Results)))
	}
	c.synced = true
	out := make([]*Model, len(c.models))
	copy(out, c.models)
	return out, nil
}

func (c *Collection) currentPage() int {
	if raw, ok := c.getParams["page"]; ok {
		if page, err := strconv.Atoi(raw); err == nil {
			return page
		}
	}
	return 1
}

func (c *Collection) pageSize(resultLen int) int {
	if raw, ok := c.getParams["page_size"]; ok {
		if size, err := strconv.Atoi(raw); err == nil && size > 0 {
			return size
		}
	}
	return resultLen
}

// pageCount is at least 1: an empty paginated result set is still one page.
func pageCount(count, pageSize int) int {
	if count <= 0 || pageSize <= 0 {
		return 1
	}
	return int(math.Ceil(float64(count) / float64(pageSize)))
}

func (c *Collection) setSynced(synced bool) {
	c.mu.Lock()
	c.synced = synced
	c.mu.Unlock()
}

func (c *Collection) settle() {
	c.mu.Lock()
	c.inFlight--
	c.mu.Unlock()
}

func (c *Collection) logError(op string, err error) {
	c.resource.logger.Error("resource "+c.resource.name+": Collection."+op+" failed", err)
}
