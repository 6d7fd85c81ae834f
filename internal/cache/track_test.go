package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srec-ev/tracker/pkg/core"
)

func TestTrackCache_SetAndGet(t *testing.T) {
	cache := NewTrackCache()

	cache.Set(core.Track{ID: 3, Name: "Main Loop", Latitude: 11.1, Longitude: 76.9, Zoom: 17})

	got, ok := cache.Get("main loop")
	require.True(t, ok, "lookup is case-insensitive")
	assert.Equal(t, uint(3), got.ID)

	_, ok = cache.Get("nonexistent")
	assert.False(t, ok)
}

func TestTrackCache_LoadReplaces(t *testing.T) {
	cache := NewTrackCache()
	cache.Set(core.Track{ID: 1, Name: "old"})

	cache.Load([]core.Track{{ID: 5, Name: "b"}, {ID: 2, Name: "a"}})

	_, ok := cache.Get("old")
	assert.False(t, ok)
	all := cache.All()
	require.Len(t, all, 2)
	assert.Equal(t, uint(2), all[0].ID)
}

func TestTrackCache_DeleteAndReset(t *testing.T) {
	cache := NewTrackCache()
	cache.Set(core.Track{ID: 1, Name: "one"})
	cache.Set(core.Track{ID: 2, Name: "two"})

	cache.Delete("one")
	_, ok := cache.Get("one")
	assert.False(t, ok)

	// Should not panic when deleting a missing track
	cache.Delete("missing")

	cache.Reset()
	assert.Empty(t, cache.All())
}

func TestTrackCache_Concurrent(t *testing.T) {
	cache := NewTrackCache()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(id int) {
			defer wg.Done()
			cache.Set(core.Track{ID: uint(id), Name: string(rune('a' + id%26))})
		}(i)
		go func() {
			defer wg.Done()
			cache.All()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, len(cache.All()), 26)
}
