package resource

import (
	"encoding/json"
	"fmt"
)

// ParsedResponse is the decoded shape of a collection endpoint's body:
// either a bare array (ListResponse) or the paginated envelope
// {results, count, next, previous} (PageResponse). Anything else is a
// *MalformedResponseError.
type ParsedResponse interface {
	parsedResponse()
}

type ListResponse []Attributes

func (ListResponse) parsedResponse() {}

type PageResponse struct {
	Results  []Attributes
	Count    int
	Next     bool
	Previous bool
}

func (PageResponse) parsedResponse() {}

type MalformedResponseError struct {
	Body []byte
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("resource: malformed API response: %.200s", e.Body)
}

// ParseListResponse decodes a collection endpoint body.
// The paginated envelope is detected via the presence of "results".
func ParseListResponse(body []byte) (ParsedResponse, error) {
	var decoded interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &MalformedResponseError{Body: body}
	}

	switch data := decoded.(type) {
	case []interface{}:
		items, ok := toAttributesList(data)
		if !ok {
			return nil, &MalformedResponseError{Body: body}
		}
		return ListResponse(items), nil

	case map[string]interface{}:
		rawResults, ok := data["results"]
		if !ok {
			return nil, &MalformedResponseError{Body: body}
		}
		resultsArr, ok := rawResults.([]interface{})
		if !ok {
			return nil, &MalformedResponseError{Body: body}
		}
		items, ok := toAttributesList(resultsArr)
		if !ok {
			return nil, &MalformedResponseError{Body: body}
		}
		page := PageResponse{
			Results:  items,
			Next:     truthy(data["next"]),
			Previous: truthy(data["previous"]),
		}
		if count, ok := data["count"].(float64); ok {
			page.Count = int(count)
		}
		return page, nil
	}
	return nil, &MalformedResponseError{Body: body}
}

// ParseModelResponse decodes a model endpoint body, which must be a single
// JSON object.
func ParseModelResponse(body []byte) (Attributes, error) {
	var attrs Attributes
	if err := json.Unmarshal(body, &attrs); err != nil {
		return nil, &MalformedResponseError{Body: body}
	}
	return attrs, nil
}

func toAttributesList(raw []interface{}) ([]Attributes, bool) {
	items := make([]Attributes, 0, len(raw))
	for _, r := range raw {
		obj, ok := r.(map[string]interface{})
		if !ok {
			return nil, false
		}
		items = append(items, Attributes(obj))
	}
	return items, true
}

// truthy mirrors the backend's loose pagination cursors: null, false, "" and
// 0 all mean "no such page"; a URL string or true means there is one.
func truthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	}
	return true
}
