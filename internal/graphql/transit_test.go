package graphql

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeScalar(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"plain", "plain"},
		{"", ""},
		{"~~tilde", "~tilde"},
		{"~^caret", "^caret"},
		{"~`tick", "`tick"},
		{"~:status", Keyword("status")},
		{"~$sym", Symbol("sym")},
		{"~i42", int64(42)},
		{"~d1.5", 1.5},
		{"~?t", true},
		{"~?f", false},
		{"~_", nil},
		{"~m1000", time.UnixMilli(1000).UTC()},
		{"~u531a379e-31bb-4ce1-8690-158dceb64be6", "531a379e-31bb-4ce1-8690-158dceb64be6"},
		{"~rhttp://example.com", "http://example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := decodeScalar(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	n, err := decodeScalar("~n123456789012345678901234567890")
	require.NoError(t, err)
	want, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	assert.Equal(t, 0, want.Cmp(n.(*big.Int)))

	_, err = decodeScalar("~inot-a-number")
	assert.Error(t, err)
}

func TestDecodeTransit_CompactMapWithCache(t *testing.T) {
	doc := `["^ ","~:eventsInTimeRange",[["^ ","~:id","e1","~:status","NotComplete"],["^ ","^1","e2","^2","Complete"]]]`

	v, err := DecodeTransit([]byte(doc))
	require.NoError(t, err)

	flat := Flatten(v)
	assert.Equal(t, map[string]any{
		"eventsInTimeRange": []any{
			map[string]any{"id": "e1", "status": "NotComplete"},
			map[string]any{"id": "e2", "status": "Complete"},
		},
	}, flat)
}

func TestDecodeTransit_CachedKeywordValues(t *testing.T) {
	// keyword values are cached too; the second "^1" resolves to the keyword
	doc := `[["^ ","~:type","~:ARRIVAL_TIME"],["^ ","^0","^1"]]`

	v, err := DecodeTransit([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, []any{
		map[string]any{"type": Keyword("ARRIVAL_TIME")},
		map[string]any{"type": Keyword("ARRIVAL_TIME")},
	}, Flatten(v))
}

func TestDecodeTransit_Tagged(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want any
	}{
		{name: "set", doc: `["~#set",[1,2,3]]`, want: []any{int64(1), int64(2), int64(3)}},
		{name: "list", doc: `["~#list",["a","~:b"]]`, want: []any{"a", Keyword("b")}},
		{name: "quoted scalar", doc: `["~#'","~i7"]`, want: int64(7)},
		{name: "cmap", doc: `["~#cmap",[["^ ","~:a",1],"x"]]`, want: map[string]any{`{"a":1}`: "x"}},
		{name: "unknown tag", doc: `["~#point",[1,2]]`, want: TaggedValue{Tag: "point", Value: []any{int64(1), int64(2)}}},
		{name: "unknown tag wrapping a map", doc: `["~#point",["^ ","~:x",1]]`, want: TaggedValue{Tag: "point", Value: map[string]any{"x": int64(1)}}},
		{name: "plain pair", doc: `["a","b"]`, want: []any{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := DecodeTransit([]byte(tt.doc))
			require.NoError(t, err)
			assert.Equal(t, tt.want, Flatten(v))
		})
	}
}

func TestDecodeTransit_VerboseMap(t *testing.T) {
	doc := `{"~:id":"e1","~:count":"~i5","~:tags":["~:a","~:b"],"~:time":"~m0"}`

	v, err := DecodeTransit([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"id":    "e1",
		"count": int64(5),
		"tags":  []any{Keyword("a"), Keyword("b")},
		"time":  time.UnixMilli(0).UTC(),
	}, Flatten(v))
}

func TestDecodeTransit_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "dangling cache reference", doc: `["^ ","^5",1]`},
		{name: "odd compact map", doc: `["^ ","~:a"]`},
		{name: "not json", doc: `["^ ",`},
		{name: "bad set", doc: `["~#set","nope"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeTransit([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestCacheCodes(t *testing.T) {
	r := &transitReader{}
	for i := 0; i < 100; i++ {
		r.remember(i)
	}

	v, err := r.lookup("^0")
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	// index 45 is written as two base-44 digits: 1*44 + 1
	v, err = r.lookup("^11")
	require.NoError(t, err)
	assert.Equal(t, 45, v)

	_, err = r.lookup("^~~~")
	assert.Error(t, err)
}

func TestFlatten_PassThrough(t *testing.T) {
	list := []any{"a", int64(1), nil, true}
	assert.Equal(t, list, Flatten(list))
	assert.Equal(t, 3.5, Flatten(3.5))
	assert.Equal(t, Keyword("k"), Flatten(Keyword("k")))
	assert.Equal(t, map[string]any{"1": "one"}, Flatten(map[any]any{int8(1): "one"}))
}
