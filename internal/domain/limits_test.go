package domain

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestLimitStore_SetClamps(t *testing.T) {
	s := NewLimitStore(nil)

	assert.Equal(t, 1.0, s.Set("a", 1.7))
	assert.Equal(t, 0.0, s.Set("b", -0.2))
	assert.Equal(t, 0.0, s.Set("c", math.NaN()))
	assert.Equal(t, 0.42, s.Set("d", 0.42))

	v, ok := s.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)
}

func TestLimitStore_SetIsIdempotent(t *testing.T) {
	s := NewLimitStore(nil)
	s.Set("x", 0.5)
	once := s.Snapshot()
	s.Set("x", 0.5)

	if diff := cmp.Diff(once, s.Snapshot()); diff != "" {
		t.Errorf("state changed after repeated set (-once +twice):\n%s", diff)
	}
}

func TestLimitStore_OverwriteAndRemove(t *testing.T) {
	s := NewLimitStore(map[string]float64{"x": 0.5, "y": 2})
	assert.Equal(t, 2, s.Len())

	y, _ := s.Get("y")
	assert.Equal(t, 1.0, y, "initial values are clamped")

	s.Set("x", 0.3)
	x, _ := s.Get("x")
	assert.Equal(t, 0.3, x)

	s.Remove("x")
	_, ok := s.Get("x")
	assert.False(t, ok)

	s.Remove("never-there")
	assert.Equal(t, 1, s.Len())
}

func TestLimitStore_SnapshotIsACopy(t *testing.T) {
	s := NewLimitStore(map[string]float64{"x": 0.5})
	snap := s.Snapshot()
	snap["x"] = 0.9
	snap["z"] = 0.1

	x, _ := s.Get("x")
	assert.Equal(t, 0.5, x)
	_, ok := s.Get("z")
	assert.False(t, ok)
}
