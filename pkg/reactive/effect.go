package reactive

import (
	"fmt"
	"sync"

	"github.com/gohugoio/hashstructure"
)

// Effect runs a function once after construction and again whenever its
// dependency list changes by value.
type Effect struct {
	mu  sync.Mutex
	run func()
	key uint64
}

// NewEffect hashes deps, runs fn once and returns the effect handle.
func NewEffect(fn func(), deps ...any) (*Effect, error) {
	if fn == nil {
		return nil, fmt.Errorf("effect function is nil")
	}
	key, err := depsKey(deps)
	if err != nil {
		return nil, err
	}
	e := &Effect{run: fn, key: key}
	fn()
	return e, nil
}

// Update re-runs the effect if deps differ from the last recorded list.
// It reports whether the effect ran.
func (e *Effect) Update(deps ...any) (bool, error) {
	key, err := depsKey(deps)
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	if key == e.key {
		e.mu.Unlock()
		return false, nil
	}
	e.key = key
	e.mu.Unlock()

	e.run()
	return true, nil
}

func depsKey(deps []any) (uint64, error) {
	key, err := hashstructure.Hash(deps, nil)
	if err != nil {
		return 0, fmt.Errorf("hash effect dependencies: %w", err)
	}
	return key, nil
}
