package cache

import "testing"

import "github.com/stretchr/testify/assert"

func TestMakeKey_StableAcrossParamOrder(t *testing.T) {
	k1 := MakeKey("GET", "/v1/price", map[string]string{"token": "BTC", "vs": "USD"}, nil)
	k2 := MakeKey("GET", "/v1/price", map[string]string{"vs": "USD", "token": "BTC"}, nil)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 32)
}

func TestMakeKey_DiffersOnMethodOrBody(t *testing.T) {
	k1 := MakeKey("GET", "/v1/price", nil, nil)
	k2 := MakeKey("POST", "/v1/price", nil, nil)
	k3 := MakeKey("GET", "/v1/price", nil, map[string]any{"x": 1})
	assert.NotEqual(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}
