// Package serialization provides utilities for serializing and deserializing data structures
// used by the engine, such as component parameters and cursor checkpoints.
package serialization

import (
	"encoding/json"

	"github.com/flowmill/flowmill/pkg/flow/support/util/exception"
	logger "github.com/flowmill/flowmill/pkg/flow/support/util/logger"
)

// GetMaskedParamsMap creates a copy of a params map with the values of the
// given sensitive keys masked. The input map is never modified.
func GetMaskedParamsMap(params map[string]interface{}, maskedKeys []string) map[string]interface{} {
	if len(params) == 0 {
		return map[string]interface{}{}
	}

	// Create a masked copy
	maskedParams := make(map[string]interface{}, len(params))
	for k, v := range params {
		maskedParams[k] = v
	}

	for _, key := range maskedKeys {
		if _, ok := maskedParams[key]; ok {
			maskedParams[key] = "********"
		}
	}
	return maskedParams
}

// MarshalParams serializes a params map into a JSON byte slice.
func MarshalParams(params map[string]interface{}) ([]byte, error) {
	const module = "serialization"

	if params == nil {
		logger.Debugf("Params map is nil. Returning empty JSON object.")
		return []byte("{}"), nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		logger.Errorf("Failed to serialize params: %v", err)
		return nil, exception.NewPermanentError(module, "Failed to serialize params", err)
	}
	return data, nil
}

// UnmarshalParams deserializes a JSON byte slice into a params map.
func UnmarshalParams(data []byte, params *map[string]interface{}) error {
	const module = "serialization"

	if *params == nil {
		*params = make(map[string]interface{})
	} else {
		for k := range *params {
			delete(*params, k)
		}
	}

	if len(data) == 0 || string(data) == "null" || string(data) == "{}" {
		return nil
	}

	if err := json.Unmarshal(data, params); err != nil {
		logger.Errorf("Failed to deserialize params: %v", err)
		return exception.NewPermanentError(module, "Failed to deserialize params", err)
	}
	return nil
}
