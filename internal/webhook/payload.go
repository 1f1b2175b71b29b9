package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownShape means the body parsed but matched no known event layout.
var ErrUnknownShape = errors.New("unknown webhook payload shape")

// Event is one CRM object notification. ObjectID may be blank; callers skip those.
type Event struct {
	ObjectID   string
	ObjectType string
}

// ParseEvents normalizes a webhook body to a list of events.
//
// Accepted layouts:
//   - a JSON list of event objects
//   - an object with "objectId"
//   - an object with "event": {"objectId": ...}
//   - an object with "id" and "objectType" of "deal" or "deals"
func ParseEvents(body []byte) ([]Event, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode webhook body: %w", err)
	}

	switch x := v.(type) {
	case []any:
		out := make([]Event, 0, len(x))
		for _, item := range x {
			m, _ := item.(map[string]any)
			out = append(out, eventFrom(m))
		}
		return out, nil
	case map[string]any:
		if _, ok := x["objectId"]; ok {
			return []Event{eventFrom(x)}, nil
		}
		if inner, ok := x["event"].(map[string]any); ok {
			if _, ok := inner["objectId"]; ok {
				return []Event{eventFrom(inner)}, nil
			}
		}
		if _, ok := x["id"]; ok {
			switch strings.ToLower(scalar(x["objectType"])) {
			case "deal", "deals":
				return []Event{{ObjectID: scalar(x["id"]), ObjectType: "deal"}}, nil
			}
		}
		return nil, ErrUnknownShape
	default:
		return nil, ErrUnknownShape
	}
}

func eventFrom(m map[string]any) Event {
	if m == nil {
		return Event{}
	}
	id := scalar(m["objectId"])
	if id == "" {
		id = scalar(m["id"])
	}
	return Event{ObjectID: id, ObjectType: scalar(m["objectType"])}
}

// scalar renders strings and numbers; anything else is blank.
func scalar(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	default:
		return ""
	}
}
