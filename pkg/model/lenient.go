// Package model holds the wire and persisted types shared by the SDK caches.
//
// Server payloads are loosely typed: numbers sometimes arrive as strings and
// empty objects are sometimes sent as arrays. The decoders here accept both
// so a schema drift on the server side degrades to empty values rather than
// a failed refresh.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// isEmptyRaw reports whether a raw value carries no usable data.
func isEmptyRaw(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	switch string(trimmed) {
	case "", "null", `""`, "[]", "{}":
		return true
	}
	return false
}

// flexFloat decodes a JSON number or a numeric string.
func flexFloat(raw json.RawMessage) (float64, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return 0, fmt.Errorf("value is null")
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return 0, err
		}
		return strconv.ParseFloat(strings.TrimSpace(s), 64)
	}
	var f float64
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return 0, err
	}
	return f, nil
}

// flexInt decodes a JSON number or a numeric string, truncating fractions.
func flexInt(raw json.RawMessage) (int64, error) {
	f, err := flexFloat(raw)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

// decodeLenientMap decodes an object into dest. Empty values and values of the
// wrong shape leave dest untouched.
func decodeLenientMap[V any](raw json.RawMessage, dest *map[string]V) {
	if isEmptyRaw(raw) {
		return
	}
	var m map[string]V
	if err := json.Unmarshal(raw, &m); err == nil {
		*dest = m
		return
	}
	// Fall back to decoding entry by entry so one bad value doesn't drop the rest.
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return
	}
	out := make(map[string]V, len(entries))
	for k, v := range entries {
		var item V
		if err := json.Unmarshal(v, &item); err == nil {
			out[k] = item
		}
	}
	*dest = out
}

// decodeLenientSlice decodes an array into dest, skipping elements that fail
// to decode. An object is read as the list of its values.
func decodeLenientSlice[V any](raw json.RawMessage, dest *[]V) {
	if isEmptyRaw(raw) {
		return
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		var byKey map[string]json.RawMessage
		if err := json.Unmarshal(raw, &byKey); err != nil {
			return
		}
		for _, k := range SortedKeys(byKey) {
			items = append(items, byKey[k])
		}
	}
	out := make([]V, 0, len(items))
	for _, item := range items {
		var v V
		if err := json.Unmarshal(item, &v); err == nil {
			out = append(out, v)
		}
	}
	*dest = out
}
