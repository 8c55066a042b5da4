package ws

import (
	"reflect"
	"sync"
)

// StateCache remembers the last state blob broadcast per PIN and room
// so repeat broadcasts can carry only the top-level fields that
// changed. Shaped blobs differ between rooms, which is why the cache
// key includes the room.
type StateCache struct {
	mu   sync.Mutex
	last map[string]map[string]interface{}
}

func NewStateCache() *StateCache {
	return &StateCache{last: make(map[string]map[string]interface{})}
}

// Diff returns the fields of blob that differ from the last broadcast
// for this PIN and room, remembering blob as the new baseline. Fields
// that disappeared come back as explicit nils so clients can clear
// them. force skips the comparison and returns the full blob; an
// unchanged blob returns nil and the caller sends nothing.
func (c *StateCache) Diff(pin string, room Room, blob map[string]interface{}, force bool) map[string]interface{} {
	key := pin + "|" + string(room)

	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.last[key]
	c.last[key] = blob

	if force || prev == nil {
		return blob
	}

	delta := make(map[string]interface{})
	for k, v := range blob {
		if old, ok := prev[k]; !ok || !reflect.DeepEqual(old, v) {
			delta[k] = v
		}
	}
	for k := range prev {
		if _, ok := blob[k]; !ok {
			delta[k] = nil
		}
	}
	if len(delta) == 0 {
		return nil
	}
	return delta
}

// Forget drops the cached blobs of a PIN, typically on eviction.
func (c *StateCache) Forget(pin string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, room := range []Room{RoomAll, RoomPlayers, RoomModerators, RoomPanels} {
		delete(c.last, pin+"|"+string(room))
	}
}
