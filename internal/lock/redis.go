package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript borra la clave solo si el token sigue siendo el nuestro.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript renueva el TTL solo si el token sigue siendo el nuestro.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker es un lease distribuido (SET NX PX) para despliegues multi-instancia.
// El TTL acota cuánto retiene la clave un proceso que muere sin liberar; mientras
// el dueño sigue vivo el lease se renueva cada TTL/3.
type RedisLocker struct {
	Client *redis.Client
	Prefix string
	TTL    time.Duration
	// Poll es el intervalo entre intentos mientras la clave está tomada.
	Poll time.Duration
}

// NewRedisLocker crea un RedisLocker con valores por defecto razonables.
func NewRedisLocker(client *redis.Client, prefix string, ttl time.Duration) *RedisLocker {
	if prefix == "" {
		prefix = "lock:"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{Client: client, Prefix: prefix, TTL: ttl, Poll: 50 * time.Millisecond}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.Prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.Client.SetNX(ctx, redisKey, token, l.TTL).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("lock: acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		t := time.NewTimer(l.Poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	stop := keepAlive(l.TTL/3, func() (bool, error) {
		rctx, cancel := context.WithTimeout(context.Background(), l.TTL/3)
		defer cancel()
		n, err := extendScript.Run(rctx, l.Client, []string{redisKey}, token, l.TTL.Milliseconds()).Int()
		return n == 1, err
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			// Liberar aunque el ctx del request ya haya terminado.
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = unlockScript.Run(rctx, l.Client, []string{redisKey}, token).Err()
		})
	}, nil
}

// keepAlive llama a extend cada every hasta que se invoque stop o extend
// informe que el lease ya no es nuestro. stop espera a que la goroutine termine.
func keepAlive(every time.Duration, extend func() (bool, error)) (stop func()) {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				ok, err := extend()
				if err == nil && !ok {
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}
