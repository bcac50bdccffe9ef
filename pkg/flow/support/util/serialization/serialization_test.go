package serialization_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowmill/flowmill/pkg/flow/support/util/exception"
	"github.com/flowmill/flowmill/pkg/flow/support/util/serialization"
)

func TestGetMaskedParamsMap(t *testing.T) {
	params := map[string]interface{}{
		"host":     "db.internal",
		"password": "hunter2",
		"api_key":  "abc123",
	}
	masked := serialization.GetMaskedParamsMap(params, []string{"password", "api_key"})

	assert.Equal(t, "db.internal", masked["host"])
	assert.Equal(t, "********", masked["password"])
	assert.Equal(t, "********", masked["api_key"])

	// The input map is left untouched.
	assert.Equal(t, "hunter2", params["password"])
}

func TestGetMaskedParamsMap_EmptyInput(t *testing.T) {
	assert.Empty(t, serialization.GetMaskedParamsMap(nil, []string{"password"}))
	assert.Empty(t, serialization.GetMaskedParamsMap(map[string]interface{}{}, []string{"password"}))
}

func TestGetMaskedParamsMap_NoMaskedKeys(t *testing.T) {
	params := map[string]interface{}{"password": "hunter2"}
	masked := serialization.GetMaskedParamsMap(params, nil)

	// Without configured keys there is nothing to mask.
	assert.Equal(t, "hunter2", masked["password"])
}

func TestMarshalParams(t *testing.T) {
	data, err := serialization.MarshalParams(map[string]interface{}{"count": 10, "field": "value"})
	assert.NoError(t, err)
	assert.JSONEq(t, `{"count": 10, "field": "value"}`, string(data))
}

func TestMarshalParams_NilReturnsEmptyObject(t *testing.T) {
	data, err := serialization.MarshalParams(nil)
	assert.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}

func TestMarshalParams_UnserializableValue(t *testing.T) {
	_, err := serialization.MarshalParams(map[string]interface{}{"bad": make(chan int)})
	assert.Error(t, err)

	fe := exception.AsFlowError(err)
	assert.NotNil(t, fe)
	assert.True(t, fe.IsPermanent())
}

func TestUnmarshalParams(t *testing.T) {
	var params map[string]interface{}
	err := serialization.UnmarshalParams([]byte(`{"path": "out/data.jsonl", "limit": 5}`), &params)
	assert.NoError(t, err)
	assert.Equal(t, "out/data.jsonl", params["path"])
	assert.Equal(t, float64(5), params["limit"])
}

func TestUnmarshalParams_ClearsExistingEntries(t *testing.T) {
	params := map[string]interface{}{"stale": true}
	err := serialization.UnmarshalParams([]byte(`{"fresh": 1}`), &params)
	assert.NoError(t, err)
	assert.NotContains(t, params, "stale")
	assert.Contains(t, params, "fresh")
}

func TestUnmarshalParams_EmptyInputs(t *testing.T) {
	for _, data := range [][]byte{nil, []byte(""), []byte("null"), []byte("{}")} {
		var params map[string]interface{}
		err := serialization.UnmarshalParams(data, &params)
		assert.NoError(t, err)
		assert.Empty(t, params)
	}
}

func TestUnmarshalParams_MalformedJSON(t *testing.T) {
	var params map[string]interface{}
	err := serialization.UnmarshalParams([]byte(`{"broken":`), &params)
	assert.Error(t, err)

	fe := exception.AsFlowError(err)
	assert.NotNil(t, fe)
	assert.True(t, fe.IsPermanent())
}
