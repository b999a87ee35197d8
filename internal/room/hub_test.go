package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubGetOrCreate(t *testing.T) {
	hub := NewHub(testOptions())

	rm, created := hub.GetOrCreate("r1")
	require.NotNil(t, rm)
	assert.True(t, created)

	again, created := hub.GetOrCreate("r1")
	assert.Same(t, rm, again)
	assert.False(t, created)

	_, ok := hub.Get("r2")
	assert.False(t, ok, "Get never creates")
}

func TestHubRemoveIfEmpty(t *testing.T) {
	hub := NewHub(testOptions())
	rm, _ := hub.GetOrCreate("r1")
	connect(rm, "a", "ann")

	hub.RemoveIfEmpty("r1")
	_, ok := hub.Get("r1")
	assert.True(t, ok, "occupied rooms survive the sweep")

	rm.Disconnect("a")
	hub.RemoveIfEmpty("r1")
	_, ok = hub.Get("r1")
	assert.False(t, ok)
}

func TestHubOnDestroyHook(t *testing.T) {
	hub := NewHub(testOptions())
	var destroyed []string
	hub.SetOnDestroy(func(roomID string) {
		destroyed = append(destroyed, roomID)
	})

	hub.GetOrCreate("r1")
	hub.GetOrCreate("r2")
	hub.Remove("r1")
	hub.RemoveIfEmpty("r2")
	hub.Remove("gone")

	assert.Equal(t, []string{"r1", "r2"}, destroyed,
		"hook fires once per actually removed room")
}

func TestHubCleanupEmptyRooms(t *testing.T) {
	hub := NewHub(testOptions())
	hub.GetOrCreate("empty1")
	hub.GetOrCreate("empty2")
	busy, _ := hub.GetOrCreate("busy")
	connect(busy, "a", "ann")

	hub.CleanupEmptyRooms()

	assert.Len(t, hub.List(), 1)
	_, ok := hub.Get("busy")
	assert.True(t, ok)
}

func TestHubList(t *testing.T) {
	hub := NewHub(testOptions())
	rm, _ := hub.GetOrCreate("r1")
	connect(rm, "a", "ann")
	connect(rm, "b", "bob")

	infos := hub.List()
	require.Len(t, infos, 1)
	assert.Equal(t, "r1", infos[0].ID)
	assert.Equal(t, 2, infos[0].Participants)
	assert.Equal(t, "a", infos[0].Host)
}
