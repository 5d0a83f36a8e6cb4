package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// MakeKey canonicalizes a request's identity into a stable cache key,
// grounded in the original `_generate_key`: a JSON object with keys
// sorted lexically, SHA-256 hashed, truncated to 32 hex characters.
func MakeKey(method, url string, params map[string]string, body any) string {
	payload := struct {
		Body   any               `json:"body"`
		Method string            `json:"method"`
		Params map[string]string `json:"params"`
		URL    string            `json:"url"`
	}{Method: method, URL: url, Params: params, Body: body}

	// The struct fields are declared in lexical order and json.Marshal
	// sorts map keys lexically, matching Python's
	// json.dumps(sort_keys=True).
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte(method + url)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:32]
}

// Namespaced prefixes a key with its namespace so tiers sharing storage
// (the SQLite and Redis tiers) never collide across namespaces.
func Namespaced(namespace, key string) string {
	if namespace == "" {
		namespace = "default"
	}
	return namespace + ":" + key
}
