package load_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/storeload/internal/load"
)

func TestRoundRobinSelector(t *testing.T) {
	ids := []string{"a", "b", "c", "d"}
	sel := load.NewSelector(load.SelectRoundRobin, nil)

	for vuID := 1; vuID <= 12; vuID++ {
		want := ids[(vuID-1)%len(ids)]
		for i := 0; i < 3; i++ {
			got, ok := sel.Select(vuID, ids)
			require.True(t, ok)
			assert.Equal(t, want, got, "vu %d call %d", vuID, i)
		}
	}
}

func TestRoundRobinSelector_ItemWithoutID(t *testing.T) {
	sel := load.NewSelector(load.SelectRoundRobin, nil)

	_, ok := sel.Select(2, []string{"a", "", "c"})
	assert.False(t, ok)

	got, ok := sel.Select(3, []string{"a", "", "c"})
	assert.True(t, ok)
	assert.Equal(t, "c", got)
}

func TestSelectors_EmptyList(t *testing.T) {
	for _, policy := range []load.SelectionPolicy{load.SelectRoundRobin, load.SelectRandom} {
		sel := load.NewSelector(policy, load.NewLockedRand(rand.NewSource(1)))
		_, ok := sel.Select(1, nil)
		assert.False(t, ok, string(policy))
	}
}

func TestRandomSelector_Uniform(t *testing.T) {
	ids := []string{"0", "1", "2", "3", "4", "5", "6", "7"}
	sel := load.NewSelector(load.SelectRandom, load.NewLockedRand(rand.NewSource(42)))

	const draws = 16000
	counts := make(map[string]int)
	for i := 0; i < draws; i++ {
		id, ok := sel.Select(1, ids)
		require.True(t, ok)
		counts[id]++
	}

	expected := draws / len(ids)
	for _, id := range ids {
		assert.InDelta(t, expected, counts[id], float64(expected)*0.15, "index %s", id)
	}
}

func TestSelectionPolicy_Validate(t *testing.T) {
	assert.NoError(t, load.SelectRoundRobin.Validate())
	assert.NoError(t, load.SelectRandom.Validate())
	assert.Error(t, load.SelectionPolicy("weighted").Validate())
}

func TestExtractItemIDs(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{"bare array", `[{"id":"a"},{"id":"b"}]`, []string{"a", "b"}},
		{"data envelope", `{"current_page":1,"data":[{"id":1},{"id":2}]}`, []string{"1", "2"}},
		{"nested envelope", `{"data":{"data":[{"id":"x"}]}}`, []string{"x"}},
		{"uuid and slug fallback", `[{"uuid":"u-1"},{"slug":"s-2"},{"id":"","slug":"s-3"}]`, []string{"u-1", "s-2", "s-3"}},
		{"ulid and code fallback", `[{"ulid":"01HX"},{"code":"SKU-2"},{"slug":"s-3","code":"c-3"},{"uuid":"u-4","ulid":"l-4"}]`, []string{"01HX", "SKU-2", "s-3", "u-4"}},
		{"item without id keeps position", `[{"id":"a"},{"name":"nameless"},{"id":null}]`, []string{"a", "", ""}},
		{"empty list", `{"data":[]}`, []string{}},
		{"no list", `{"message":"nothing here"}`, nil},
		{"malformed", `{"data":[`, nil},
		{"empty body", ``, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, load.ExtractItemIDs([]byte(tt.body)))
		})
	}
}
