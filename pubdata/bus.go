// Package pubdata is a keyed get/set request bus for status structures
// owned by different components.
package pubdata

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

var (
	ErrNoHandler   = errors.New("no handler")
	ErrPayloadType = errors.New("unexpected payload type")
)

// Key is the checksum of a dotted request name.
type Key uint64

// NewKey hashes the name parts, e.g. NewKey("switch", "set_state").
func NewKey(parts ...string) Key {
	return Key(xxhash.Sum64String(strings.Join(parts, ".")))
}

func (k Key) String() string { return fmt.Sprintf("%016x", uint64(k)) }

type (
	GetFunc func() (any, error)
	SetFunc func(v any) error
)

// Bus routes requests to the component that registered the key.
// Handlers are called without any lock held.
type Bus struct {
	mx   sync.RWMutex
	gets map[Key]GetFunc
	sets map[Key]SetFunc
}

func NewBus() *Bus {
	return &Bus{
		gets: make(map[Key]GetFunc),
		sets: make(map[Key]SetFunc),
	}
}

// HandleGet registers the reader for k, replacing any previous one.
func (b *Bus) HandleGet(k Key, fn GetFunc) {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.gets[k] = fn
}

// HandleSet registers the writer for k, replacing any previous one.
func (b *Bus) HandleSet(k Key, fn SetFunc) {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.sets[k] = fn
}

func (b *Bus) Get(k Key) (any, error) {
	b.mx.RLock()
	fn := b.gets[k]
	b.mx.RUnlock()
	if fn == nil {
		return nil, fmt.Errorf("get %s: %w", k, ErrNoHandler)
	}
	return fn()
}

func (b *Bus) Set(k Key, v any) error {
	b.mx.RLock()
	fn := b.sets[k]
	b.mx.RUnlock()
	if fn == nil {
		return fmt.Errorf("set %s: %w", k, ErrNoHandler)
	}
	return fn(v)
}

// Lookup reads k and asserts the payload type.
func Lookup[T any](b *Bus, k Key) (T, error) {
	var zero T
	v, err := b.Get(k)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("get %s: %w: %T", k, ErrPayloadType, v)
	}
	return t, nil
}

// Getter adapts a typed function to a GetFunc.
func Getter[T any](fn func() T) GetFunc {
	return func() (any, error) { return fn(), nil }
}

// Setter adapts a typed function to a SetFunc.
func Setter[T any](fn func(T) error) SetFunc {
	return func(v any) error {
		t, ok := v.(T)
		if !ok {
			return fmt.Errorf("%w: %T", ErrPayloadType, v)
		}
		return fn(t)
	}
}
