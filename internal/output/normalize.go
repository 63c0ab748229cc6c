package output

import (
	"encoding/base64"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// NormalizeJSONValue rewrites decoded CBOR values into shapes encoding/json
// can marshal: interface-keyed maps get string keys, byte strings become
// base64 summaries and tags become {"tag": n, "content": ...}.
func NormalizeJSONValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = NormalizeJSONValue(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[fmt.Sprint(k)] = NormalizeJSONValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = NormalizeJSONValue(item)
		}
		return out
	case []byte:
		if len(v) > 32 {
			return fmt.Sprintf("<%d bytes>", len(v))
		}
		return base64.StdEncoding.EncodeToString(v)
	case cbor.Tag:
		return map[string]any{
			"tag":     v.Number,
			"content": NormalizeJSONValue(v.Content),
		}
	default:
		return v
	}
}
