package upstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeInstances(n int) []*Instance {
	out := make([]*Instance, n)
	for i := range out {
		out[i] = NewInstance(string(rune('a'+i)), "10.0.0.1", 8080+i, 1)
	}
	return out
}

func TestRoundRobinDistributesEvenly(t *testing.T) {
	b := newBalancer()
	healthy := makeInstances(3)

	counts := make(map[string]int)
	for i := 0; i < 300; i++ {
		inst := b.Select(RoundRobin, healthy, "")
		require.NotNil(t, inst)
		counts[inst.ID]++
	}
	for _, inst := range healthy {
		assert.Equal(t, 100, counts[inst.ID])
	}
}

func TestLeastConnectionsPicksLowest(t *testing.T) {
	b := newBalancer()
	healthy := makeInstances(3)
	healthy[0].IncConnections()
	healthy[0].IncConnections()
	healthy[1].IncConnections()

	got := b.selectLeastConn(healthy)
	assert.Equal(t, healthy[2].ID, got.ID)
}

func TestLeastConnectionsTieBreaksByID(t *testing.T) {
	b := newBalancer()
	healthy := makeInstances(3)

	got := b.selectLeastConn(healthy)
	assert.Equal(t, healthy[0].ID, got.ID)
}

func TestClientIPHashIsStable(t *testing.T) {
	b := newBalancer()
	healthy := makeInstances(5)

	first := b.Select(ClientIPHash, healthy, "203.0.113.7")
	for i := 0; i < 20; i++ {
		again := b.Select(ClientIPHash, healthy, "203.0.113.7")
		assert.Equal(t, first.ID, again.ID)
	}
}

func TestWeightedRoundRobinFavorsHigherWeight(t *testing.T) {
	b := newBalancer()
	heavy := NewInstance("heavy", "10.0.0.1", 9000, 3)
	light := NewInstance("light", "10.0.0.1", 9001, 1)
	healthy := []*Instance{heavy, light}

	counts := make(map[string]int)
	for i := 0; i < 400; i++ {
		inst := b.selectWeightedRoundRobin(healthy)
		counts[inst.ID]++
	}
	assert.Equal(t, 300, counts["heavy"])
	assert.Equal(t, 100, counts["light"])
}

func TestWeightedRoundRobinAllZeroFallsBackToFirst(t *testing.T) {
	b := newBalancer()
	a := NewInstance("a", "10.0.0.1", 9000, 0)
	c := NewInstance("c", "10.0.0.1", 9001, 0)
	healthy := []*Instance{a, c}

	got := b.selectWeightedRoundRobin(healthy)
	assert.Equal(t, "a", got.ID)
}

func TestSelectReturnsNilOnEmptySet(t *testing.T) {
	b := newBalancer()
	assert.Nil(t, b.Select(RoundRobin, nil, ""))
}
