package engine

import (
	"fmt"
	"sync"

	"parc/internal/playback"
)

// ErrConflict is returned when the stored aggregate moved past the timeline a
// merge was built on. It reads as busy to callers.
var ErrConflict = fmt.Errorf("%w: stored simulation changed since it was loaded", playback.ErrLoading)

// inflight tracks simulation keys with a write in progress. It is shared by
// every copy of an Engine made from the same New.
type inflight struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newInflight() *inflight {
	return &inflight{keys: make(map[string]struct{})}
}

// Claim reserves key for one continuation, autopilot run, import or reset.
// A key that is already claimed fails with playback.ErrLoading. The returned
// release must be called exactly once.
func (e Engine) Claim(key string) (release func(), err error) {
	key = e.Key(key)
	f := e.flights
	if f == nil {
		return func() {}, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.keys[key]; busy {
		return nil, playback.ErrLoading
	}
	f.keys[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.keys, key)
			f.mu.Unlock()
		})
	}, nil
}
