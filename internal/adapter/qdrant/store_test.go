package qdrant

import (
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qsearch/internal/vector"
)

func TestSortScored_DescendingScoreAscendingID(t *testing.T) {
	results := []vector.ScoredPoint{
		{ID: 3, Score: 0.5},
		{ID: 1, Score: 0.9},
		{ID: 7, Score: 0.7},
		{ID: 2, Score: 0.7},
	}

	sortScored(results)

	assert.Equal(t, uint64(1), results[0].ID)
	assert.Equal(t, uint64(2), results[1].ID)
	assert.Equal(t, uint64(7), results[2].ID)
	assert.Equal(t, uint64(3), results[3].ID)
}

func TestMetadataFilter_ScalarTypes(t *testing.T) {
	f := metadataFilter(map[string]any{
		"category": "docs",
		"draft":    false,
		"year":     2024,
	})
	require.NotNil(t, f)
	require.Len(t, f.Must, 3)

	// Keys are sorted, so condition order is stable.
	first := f.Must[0].GetField()
	assert.Equal(t, "category", first.GetKey())
	assert.Equal(t, "docs", first.GetMatch().GetKeyword())

	second := f.Must[1].GetField()
	assert.Equal(t, "draft", second.GetKey())
	assert.False(t, second.GetMatch().GetBoolean())

	third := f.Must[2].GetField()
	assert.Equal(t, "year", third.GetKey())
	assert.Equal(t, int64(2024), third.GetMatch().GetInteger())
}

func TestMetadataFilter_JSONNumbers(t *testing.T) {
	f := metadataFilter(map[string]any{"year": float64(2024)})
	require.NotNil(t, f)
	require.Len(t, f.Must, 1)
	assert.Equal(t, int64(2024), f.Must[0].GetField().GetMatch().GetInteger())

	// Fractional numbers have no exact-match semantics and are dropped.
	f = metadataFilter(map[string]any{"score": 0.5})
	assert.Nil(t, f)
}

func TestMetadataFilter_Empty(t *testing.T) {
	assert.Nil(t, metadataFilter(nil))
	assert.Nil(t, metadataFilter(map[string]any{}))
}

func TestSourceFilter(t *testing.T) {
	f := sourceFilter("https://example.com/doc")
	require.Len(t, f.Must, 1)
	field := f.Must[0].GetField()
	assert.Equal(t, "source", field.GetKey())
	assert.Equal(t, "https://example.com/doc", field.GetMatch().GetKeyword())
}

func TestValueRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want any
	}{
		{"string", "hello", "hello"},
		{"bool", true, true},
		{"int", 42, int64(42)},
		{"int64", int64(42), int64(42)},
		{"float64", 1.5, 1.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, fromValue(toValue(tc.in)))
		})
	}
}

func TestToValue_FallbackIsString(t *testing.T) {
	v := toValue([]string{"a", "b"})
	_, ok := v.GetKind().(*pb.Value_StringValue)
	assert.True(t, ok)
}
