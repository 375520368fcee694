// Package lock serializa las operaciones de federación por nombre de principal.
//
// Sync, StoreThirdPartyToken y Refresh de un mismo usuario no pueden intercalarse:
// todas toman Lock(ctx, name) y liberan al terminar. La espera respeta ctx; una
// vez adquirido, el llamador corre su secuencia hasta el final.
package lock

import (
	"context"
	"sync"
)

// Locker entrega un lock exclusivo por clave.
type Locker interface {
	// Lock bloquea hasta adquirir la clave o hasta que ctx termine.
	// unlock es idempotente.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Keyed es un Locker in-process. Las entradas se liberan cuando nadie las usa.
type Keyed struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

// NewKeyed crea un Locker in-process.
func NewKeyed() *Keyed {
	return &Keyed{entries: make(map[string]*entry)}
}

func (k *Keyed) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		k.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			k.release(key, e)
		})
	}, nil
}

func (k *Keyed) release(key string, e *entry) {
	k.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()
}

// size es el número de claves vivas. Solo para tests.
func (k *Keyed) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
