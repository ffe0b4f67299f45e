package device

import (
	"encoding/json"
	"reflect"
)

func marshalJSON(v map[string]any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

func unmarshalJSON(data []byte, out *map[string]any) error {
	return json.Unmarshal(data, out)
}

// deepEqualValue compares two property bags structurally. Both sides are
// always produced by jsonMergePatch's marshal/unmarshal round trip, so
// numeric types are normalized consistently (JSON numbers decode to
// float64) and reflect.DeepEqual is a valid structural comparator here,
// not an identity check.
func deepEqualValue(a, b map[string]any) bool {
	return reflect.DeepEqual(a, b)
}
