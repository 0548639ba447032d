package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter - token bucket.
//
// Ведро пополняется со скоростью rate токенов в секунду до ёмкости burst,
// каждая операция забирает один токен.
//
//	limiter := NewRateLimiter(10, 20) // 10 в секунду, всплеск до 20
//	err := limiter.Wait(ctx)          // блокирующее ожидание
//	if limiter.Allow() { ... }        // неблокирующая проверка
type RateLimiter struct {
	rate       float64
	burst      float64
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// NewRateLimiter создаёт limiter с полным ведром.
// rate <= 0 заменяется на 10, burst меньше rate поднимается до rate.
func NewRateLimiter(rate, burst float64) *RateLimiter {
	if rate <= 0 {
		rate = 10
	}
	if burst <= 0 {
		burst = rate * 2
	}
	if burst < rate {
		burst = rate
	}
	rl := &RateLimiter{rate: rate, burst: burst, tokens: burst, now: time.Now}
	rl.lastRefill = rl.now()
	return rl
}

// refill вызывается под lock'ом
func (rl *RateLimiter) refill() {
	now := rl.now()
	rl.tokens += now.Sub(rl.lastRefill).Seconds() * rl.rate
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}
	rl.lastRefill = now
}

// Wait блокирует до получения токена или отмены контекста
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		rl.refill()
		if rl.tokens >= 1 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
		rl.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Allow забирает токен, если он есть
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// Tokens - текущее количество токенов
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	return rl.tokens
}

// Rate - скорость пополнения (токенов/сек)
func (rl *RateLimiter) Rate() float64 { return rl.rate }

// Burst - ёмкость ведра
func (rl *RateLimiter) Burst() float64 { return rl.burst }

// ============================================================
// KeyedLimiter
// ============================================================

// KeyedLimiter держит отдельное ведро на каждый ключ (например, торговый счёт).
// Ведра создаются при первом обращении с общими rate и burst.
type KeyedLimiter struct {
	rate     float64
	burst    float64
	limiters map[string]*RateLimiter
	mu       sync.Mutex
}

// NewKeyedLimiter создаёт KeyedLimiter
func NewKeyedLimiter(rate, burst float64) *KeyedLimiter {
	return &KeyedLimiter{rate: rate, burst: burst, limiters: make(map[string]*RateLimiter)}
}

// Get возвращает ведро ключа, создавая его при необходимости
func (kl *KeyedLimiter) Get(key string) *RateLimiter {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	rl, ok := kl.limiters[key]
	if !ok {
		rl = NewRateLimiter(kl.rate, kl.burst)
		kl.limiters[key] = rl
	}
	return rl
}

// Wait ожидает токен ключа
func (kl *KeyedLimiter) Wait(ctx context.Context, key string) error {
	return kl.Get(key).Wait(ctx)
}

// Allow забирает токен ключа без ожидания
func (kl *KeyedLimiter) Allow(key string) bool {
	return kl.Get(key).Allow()
}

// Len - число ключей
func (kl *KeyedLimiter) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.limiters)
}
