package store

import (
	"encoding/json"
	"time"
)

// marshalJSON encodes v for a TEXT column, writing empty when v is nil.
func marshalJSON(v any, empty string) (string, error) {
	switch x := v.(type) {
	case nil:
		return empty, nil
	case map[string]any:
		if x == nil {
			return empty, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
