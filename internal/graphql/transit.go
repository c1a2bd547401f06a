package graphql

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Keyword is a transit keyword (~:name).
type Keyword string

// Symbol is a transit symbol (~$name).
type Symbol string

// Tag is a transit tag (~#name) seen outside of a tagged value.
type Tag string

// TaggedValue is a tagged value whose tag has no dedicated decoding.
type TaggedValue struct {
	Tag   string `json:"tag"`
	Value any    `json:"value"`
}

// MapEntry is one key/value pair of a transit map.
type MapEntry struct {
	Key   any
	Value any
}

// Map is a decoded transit map. Keys may be composite, so entries are kept as
// an ordered list; Flatten turns it into map[string]any.
type Map []MapEntry

const (
	transitMapMarker   = "^ "
	transitCacheBase   = 44
	transitCacheOffset = 48
	transitCacheMax    = transitCacheBase * transitCacheBase
)

// DecodeTransit parses a transit+json document.
func DecodeTransit(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse transit document: %w", err)
	}
	r := &transitReader{}
	return r.decode(raw, false)
}

type transitReader struct {
	cache []any
}

func (r *transitReader) remember(v any) {
	if len(r.cache) == transitCacheMax {
		r.cache = r.cache[:0]
	}
	r.cache = append(r.cache, v)
}

func (r *transitReader) lookup(code string) (any, error) {
	var idx int
	switch len(code) {
	case 2:
		idx = int(code[1]) - transitCacheOffset
	case 3:
		idx = (int(code[1])-transitCacheOffset)*transitCacheBase + int(code[2]) - transitCacheOffset
	default:
		return nil, fmt.Errorf("invalid transit cache reference %q", code)
	}
	if idx < 0 || idx >= len(r.cache) {
		return nil, fmt.Errorf("transit cache reference %q out of range", code)
	}
	return r.cache[idx], nil
}

func cacheable(s string, asMapKey bool) bool {
	if len(s) <= 3 {
		return false
	}
	if asMapKey {
		return true
	}
	return strings.HasPrefix(s, "~:") || strings.HasPrefix(s, "~$") || strings.HasPrefix(s, "~#")
}

func isCacheRef(s string) bool {
	return len(s) > 1 && s[0] == '^' && s != transitMapMarker
}

func (r *transitReader) decode(node any, asMapKey bool) (any, error) {
	switch v := node.(type) {
	case string:
		return r.decodeString(v, asMapKey, true)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		return v.Float64()
	case []any:
		return r.decodeArray(v)
	case map[string]any:
		// verbose maps are written without caching
		out := make(Map, 0, len(v))
		for k, val := range v {
			key, err := r.decodeString(k, true, false)
			if err != nil {
				return nil, err
			}
			dv, err := r.decode(val, false)
			if err != nil {
				return nil, err
			}
			out = append(out, MapEntry{Key: key, Value: dv})
		}
		return out, nil
	default:
		return v, nil
	}
}

func (r *transitReader) decodeArray(arr []any) (any, error) {
	if len(arr) > 0 {
		if marker, ok := arr[0].(string); ok && marker == transitMapMarker {
			return r.decodeCompactMap(arr[1:])
		}
	}

	if len(arr) == 2 {
		if s, ok := arr[0].(string); ok && (strings.HasPrefix(s, "~#") || isCacheRef(s)) {
			head, err := r.decodeString(s, false, true)
			if err != nil {
				return nil, err
			}
			if tag, ok := head.(Tag); ok {
				return r.decodeTagged(string(tag), arr[1])
			}
			rest, err := r.decode(arr[1], false)
			if err != nil {
				return nil, err
			}
			return []any{head, rest}, nil
		}
	}

	out := make([]any, len(arr))
	for i, el := range arr {
		dv, err := r.decode(el, false)
		if err != nil {
			return nil, err
		}
		out[i] = dv
	}
	return out, nil
}

func (r *transitReader) decodeCompactMap(kvs []any) (any, error) {
	if len(kvs)%2 != 0 {
		return nil, fmt.Errorf("transit map has odd number of elements: %d", len(kvs))
	}
	out := make(Map, 0, len(kvs)/2)
	for i := 0; i < len(kvs); i += 2 {
		key, err := r.decode(kvs[i], true)
		if err != nil {
			return nil, err
		}
		val, err := r.decode(kvs[i+1], false)
		if err != nil {
			return nil, err
		}
		out = append(out, MapEntry{Key: key, Value: val})
	}
	return out, nil
}

func (r *transitReader) decodeTagged(tag string, rep any) (any, error) {
	switch tag {
	case "set", "list":
		arr, ok := rep.([]any)
		if !ok {
			return nil, fmt.Errorf("transit %s must be an array", tag)
		}
		out := make([]any, len(arr))
		for i, el := range arr {
			dv, err := r.decode(el, false)
			if err != nil {
				return nil, err
			}
			out[i] = dv
		}
		return out, nil
	case "cmap":
		arr, ok := rep.([]any)
		if !ok || len(arr)%2 != 0 {
			return nil, fmt.Errorf("transit cmap must be an array of key/value pairs")
		}
		out := make(Map, 0, len(arr)/2)
		for i := 0; i < len(arr); i += 2 {
			key, err := r.decode(arr[i], false)
			if err != nil {
				return nil, err
			}
			val, err := r.decode(arr[i+1], false)
			if err != nil {
				return nil, err
			}
			out = append(out, MapEntry{Key: key, Value: val})
		}
		return out, nil
	case "'":
		return r.decode(rep, false)
	}
	val, err := r.decode(rep, false)
	if err != nil {
		return nil, err
	}
	return TaggedValue{Tag: tag, Value: val}, nil
}

// decodeString resolves cache references, records cacheable strings, and
// decodes scalar escapes. useCache is false inside verbose maps.
func (r *transitReader) decodeString(s string, asMapKey, useCache bool) (any, error) {
	if useCache && isCacheRef(s) {
		return r.lookup(s)
	}
	v, err := decodeScalar(s)
	if err != nil {
		return nil, err
	}
	if useCache && cacheable(s, asMapKey) {
		r.remember(v)
	}
	return v, nil
}

func decodeScalar(s string) (any, error) {
	if len(s) < 2 {
		return s, nil
	}
	if s[0] == '^' && s[1] == ' ' {
		return s, nil
	}
	if s[0] != '~' {
		return s, nil
	}

	body := s[2:]
	switch s[1] {
	case '~', '^', '`':
		return s[1:], nil
	case ':':
		return Keyword(body), nil
	case '$':
		return Symbol(body), nil
	case '#':
		return Tag(body), nil
	case '_':
		return nil, nil
	case '?':
		return body == "t", nil
	case 'i':
		i, err := strconv.ParseInt(body, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid transit integer %q: %w", s, err)
		}
		return i, nil
	case 'n':
		n, ok := new(big.Int).SetString(body, 10)
		if !ok {
			return nil, fmt.Errorf("invalid transit big integer %q", s)
		}
		return n, nil
	case 'd', 'f':
		f, err := strconv.ParseFloat(body, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid transit decimal %q: %w", s, err)
		}
		return f, nil
	case 'm':
		ms, err := strconv.ParseInt(body, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid transit timestamp %q: %w", s, err)
		}
		return time.UnixMilli(ms).UTC(), nil
	case 't':
		t, err := time.Parse(time.RFC3339Nano, body)
		if err != nil {
			return nil, fmt.Errorf("invalid transit instant %q: %w", s, err)
		}
		return t.UTC(), nil
	case 'u':
		if _, err := uuid.Parse(body); err != nil {
			return nil, fmt.Errorf("invalid transit uuid %q: %w", s, err)
		}
		return body, nil
	case 'r', 'c':
		return body, nil
	}
	return s, nil
}

// Flatten converts decoded transit values into plain values: lists keep their
// order and length, maps become map[string]any with keyword keys unwrapped,
// tagged values keep their tag, and everything else is returned as is.
func Flatten(v any) any {
	switch val := v.(type) {
	case TaggedValue:
		return TaggedValue{Tag: val.Tag, Value: Flatten(val.Value)}
	case []any:
		out := make([]any, len(val))
		for i, el := range val {
			out[i] = Flatten(el)
		}
		return out
	case Map:
		out := make(map[string]any, len(val))
		for _, entry := range val {
			out[flattenKey(entry.Key)] = Flatten(entry.Value)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, el := range val {
			out[k] = Flatten(el)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, el := range val {
			out[flattenKey(k)] = Flatten(el)
		}
		return out
	}
	return v
}

func flattenKey(k any) string {
	switch key := k.(type) {
	case Keyword:
		return string(key)
	case Symbol:
		return string(key)
	case string:
		return key
	case nil:
		return "null"
	}
	if b, err := json.Marshal(Flatten(k)); err == nil {
		return string(b)
	}
	return fmt.Sprint(k)
}
