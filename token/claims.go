package token

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Claims is a JWT payload that remembers the order in which its keys appeared
type Claims struct {
	keys   []string
	values map[string]interface{}
}

// NewClaims builds Claims from alternating key/value pairs, mostly for tests
func NewClaims(pairs ...interface{}) *Claims {
	c := &Claims{values: make(map[string]interface{})}
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			continue
		}
		c.Set(key, pairs[i+1])
	}
	return c
}

// Set stores a claim. Re-setting an existing key keeps its original position.
func (c *Claims) Set(key string, value interface{}) {
	if c.values == nil {
		c.values = make(map[string]interface{})
	}
	if _, exists := c.values[key]; !exists {
		c.keys = append(c.keys, key)
	}
	c.values[key] = value
}

// Get returns the raw value of a claim
func (c *Claims) Get(key string) (interface{}, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.values[key]
	return v, ok
}

// GetString returns a claim rendered as a string. Strings are returned as is,
// numbers in their shortest decimal form. Other types are reported as absent.
func (c *Claims) GetString(key string) (string, bool) {
	v, ok := c.Get(key)
	if !ok {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, true
	case json.Number:
		return formatNumber(val), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	default:
		return "", false
	}
}

// formatNumber renders a JSON number in plain decimal without exponent,
// dropping a zero fraction. Integers wider than int64 are kept digit for digit.
func formatNumber(n json.Number) string {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	s := n.String()
	if strings.Trim(strings.TrimPrefix(s, "-"), "0123456789") == "" {
		return s
	}
	f, err := n.Float64()
	if err != nil {
		return s
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Keys returns claim names in payload order
func (c *Claims) Keys() []string {
	if c == nil {
		return nil
	}
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// Len returns the number of claims
func (c *Claims) Len() int {
	if c == nil {
		return 0
	}
	return len(c.keys)
}

// Map returns a copy of the claims as a plain map
func (c *Claims) Map() map[string]interface{} {
	out := make(map[string]interface{}, c.Len())
	if c == nil {
		return out
	}
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// UnmarshalJSON decodes a JSON object keeping the order of its top-level keys.
// Numbers are kept as json.Number.
func (c *Claims) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("claims must be a JSON object")
	}

	c.keys = nil
	c.values = make(map[string]interface{})
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected claim key %v", tok)
		}
		var value interface{}
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("claim %q: %w", key, err)
		}
		c.Set(key, value)
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// MarshalJSON encodes the claims in their original order
func (c *Claims) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range c.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(c.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// DecodedToken is the verified header and payload of a token
type DecodedToken struct {
	Header map[string]interface{}
	Claims *Claims
	// KeyID is the id of the key that verified the signature, possibly empty
	KeyID string
}
