// Package input turns polled keyboard state into edge-triggered presses.
package input

// KeyTracker reports keys on the transition from released to pressed, so a
// held key fires once.
type KeyTracker[K ~int32 | ~uint32 | ~int] struct {
	keys    []K
	pressed map[K]bool
}

// NewKeyTracker watches the given keys.
func NewKeyTracker[K ~int32 | ~uint32 | ~int](keys ...K) *KeyTracker[K] {
	return &KeyTracker[K]{
		keys:    keys,
		pressed: make(map[K]bool, len(keys)),
	}
}

// IsPressed reports whether key went down since the previous call for it.
// state is indexed by key, as returned by SDL_GetKeyboardState.
func (t *KeyTracker[K]) IsPressed(state []uint8, key K) bool {
	down := int(key) >= 0 && int(key) < len(state) && state[key] != 0
	was := t.pressed[key]
	t.pressed[key] = down
	return down && !was
}

// Poll updates every watched key and returns the first one that was just
// pressed.
func (t *KeyTracker[K]) Poll(state []uint8) (K, bool) {
	var (
		hit   K
		found bool
	)
	for _, k := range t.keys {
		// Every key is updated so a release is never missed.
		if t.IsPressed(state, k) && !found {
			hit, found = k, true
		}
	}
	return hit, found
}
