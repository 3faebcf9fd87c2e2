package store

import (
	"encoding/json"
	"fmt"
)

// Action types understood by MergeReducer.
const (
	ActionSet    = "set"
	ActionDelete = "delete"
	ActionAppend = "append"
)

// MergeReducer returns a reducer over a flat map state seeded from
// initial.
//
//   - set merges the payload into the state.
//   - delete removes the keys listed in payload "keys".
//   - append adds payload "value" to the list stored under payload "key".
//
// Other action types leave the state as it is.
func MergeReducer(initial map[string]interface{}) Reducer {
	return func(state State, action Action) (State, error) {
		if action.Type == ActionInit {
			return copyMap(initial), nil
		}

		current, ok := state.(map[string]interface{})
		if !ok && state != nil {
			return nil, fmt.Errorf("state is %T, not a map", state)
		}

		switch action.Type {
		case ActionSet:
			next := copyMap(current)
			for k, v := range action.Payload {
				next[k] = v
			}
			return next, nil

		case ActionDelete:
			keys, err := stringList(action.Payload["keys"])
			if err != nil {
				return nil, fmt.Errorf("delete: %w", err)
			}
			next := copyMap(current)
			for _, k := range keys {
				delete(next, k)
			}
			return next, nil

		case ActionAppend:
			key, ok := action.Payload["key"].(string)
			if !ok || key == "" {
				return nil, fmt.Errorf("append: payload key must be a non-empty string")
			}
			next := copyMap(current)
			var list []interface{}
			switch existing := next[key].(type) {
			case nil:
			case []interface{}:
				list = append(list, existing...)
			default:
				return nil, fmt.Errorf("append: %s holds %T, not a list", key, existing)
			}
			next[key] = append(list, action.Payload["value"])
			return next, nil

		default:
			return state, nil
		}
	}
}

func copyMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func stringList(v interface{}) ([]string, error) {
	switch list := v.(type) {
	case []string:
		return list, nil
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("keys must be strings, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		return []string{list}, nil
	default:
		return nil, fmt.Errorf("keys must be a list of strings, got %T", v)
	}
}

// Titler is implemented by states that know their page title.
type Titler interface {
	Title() string
}

// Title extracts the page title from a state snapshot. It understands
// Titler values, maps with a "title" string and anything whose JSON form
// has a top-level "title" string. Everything else has no title.
func Title(state State) string {
	switch s := state.(type) {
	case nil:
		return ""
	case Titler:
		return s.Title()
	case map[string]interface{}:
		title, _ := s["title"].(string)
		return title
	}

	b, err := json.Marshal(state)
	if err != nil {
		return ""
	}
	var probe struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(b, &probe); err != nil {
		return ""
	}
	return probe.Title
}
