// Package serialization provides helpers for rendering workflow arguments in
// logs with configured sensitive keys masked.
package serialization

import (
	"encoding/json"

	config "github.com/factweave/factweave/pkg/orchestration/core/config"
)

const mask = "********"

// MaskedArgsMap returns a copy of args with every configured sensitive key
// replaced by a mask.
func MaskedArgsMap(args map[string]interface{}) map[string]interface{} {
	if len(args) == 0 {
		return map[string]interface{}{}
	}
	masked := make(map[string]interface{}, len(args))
	for k, v := range args {
		masked[k] = v
	}
	for _, key := range config.GetMaskedParameterKeys() {
		if _, ok := masked[key]; ok {
			masked[key] = mask
		}
	}
	return masked
}

// MaskedArgsJSON renders serialized workflow arguments for logging. Objects
// have their sensitive keys masked; anything that is not a JSON object is
// returned unchanged.
func MaskedArgsJSON(raw json.RawMessage) string {
	var args map[string]interface{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return string(raw)
	}
	out, err := json.Marshal(MaskedArgsMap(args))
	if err != nil {
		return string(raw)
	}
	return string(out)
}
