// Package ratelimit - ограничение частоты запросов поверх golang.org/x/time/rate.
//
// Limiter защищает внешние API от превышения квоты,
// KeyedLimiter ограничивает входящие запросы по ключу (IP, API key).
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter - token bucket для исходящих запросов
type Limiter struct {
	limiter *rate.Limiter
}

// NewLimiter создает limiter на rps запросов в секунду. burst <= 0 означает 2*rps.
func NewLimiter(rps float64, burst int) *Limiter {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = int(rps * 2)
		if burst < 1 {
			burst = 1
		}
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait блокирует до получения токена или отмены контекста
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// Allow берет токен без ожидания
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// KeyedLimiter - отдельный bucket на каждый ключ.
// Неиспользуемые ключи удаляются через Cleanup.
type KeyedLimiter struct {
	rps   rate.Limit
	burst int
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]*keyedEntry
}

type keyedEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewKeyedLimiter создает limiter по ключам. ttl - время жизни неактивного ключа.
func NewKeyedLimiter(rps float64, burst int, ttl time.Duration) *KeyedLimiter {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = int(rps * 2)
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &KeyedLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*keyedEntry),
	}
}

// Allow берет токен из bucket ключа
func (k *KeyedLimiter) Allow(key string) bool {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &keyedEntry{limiter: rate.NewLimiter(k.rps, k.burst)}
		k.entries[key] = e
	}
	e.lastSeen = k.now()
	k.mu.Unlock()

	return e.limiter.Allow()
}

// Cleanup удаляет ключи, неактивные дольше ttl. Возвращает число удаленных.
func (k *KeyedLimiter) Cleanup() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	cutoff := k.now().Add(-k.ttl)
	removed := 0
	for key, e := range k.entries {
		if e.lastSeen.Before(cutoff) {
			delete(k.entries, key)
			removed++
		}
	}
	return removed
}

// Len возвращает число отслеживаемых ключей
func (k *KeyedLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

// RunCleanup периодически вызывает Cleanup до отмены контекста
func (k *KeyedLimiter) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.Cleanup()
		}
	}
}
