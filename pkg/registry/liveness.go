package registry

import (
	"sync/atomic"
	"weak"
)

// Liveness reports whether a subscriber still wants deliveries.
// Implementations must be safe for concurrent use.
type Liveness interface {
	Alive() bool
}

// Lifetime is an explicit liveness token. It is alive until End is called.
type Lifetime struct {
	ended atomic.Bool
}

// NewLifetime returns a live token.
func NewLifetime() *Lifetime {
	return &Lifetime{}
}

// Alive implements Liveness.
func (l *Lifetime) Alive() bool {
	return !l.ended.Load()
}

// End marks the lifetime as over. It is idempotent.
func (l *Lifetime) End() {
	l.ended.Store(true)
}

// WeakRef tracks an object without keeping it reachable. It is alive until
// the garbage collector reclaims the object.
type WeakRef[T any] struct {
	ptr weak.Pointer[T]
}

// Weak returns a WeakRef to v.
func Weak[T any](v *T) WeakRef[T] {
	return WeakRef[T]{ptr: weak.Make(v)}
}

// Alive implements Liveness.
func (w WeakRef[T]) Alive() bool {
	return w.ptr.Value() != nil
}

// Value returns the object, or nil once it has been reclaimed.
func (w WeakRef[T]) Value() *T {
	return w.ptr.Value()
}

type forever struct{}

func (forever) Alive() bool { return true }

// Forever is always alive. Subscriptions owned by it end only when cancelled.
var Forever Liveness = forever{}

var (
	_ Liveness = (*Lifetime)(nil)
	_ Liveness = WeakRef[int]{}
)
