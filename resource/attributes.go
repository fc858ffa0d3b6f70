package resource

import (
	"encoding/json"
	"strconv"
)

// Attributes is the raw JSON payload of one entity.
// The "id" key, when present, is always stored as a string: backends are
// inconsistent about numeric vs string primary keys and map lookups must
// not depend on it.
type Attributes map[string]interface{}

// ID returns the entity's primary key, or "" when not yet persisted.
func (a Attributes) ID() string {
	return CoerceID(a["id"])
}

func (a Attributes) clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// CoerceID normalizes a primary-key value to its string form.
// JSON numbers arrive as float64; integral values must not grow a decimal
// point on the way through.
func CoerceID(v interface{}) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case json.Number:
		return id.String()
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	}
	return ""
}
