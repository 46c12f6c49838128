package infra

import (
	"context"
	"fmt"
	"math"
	"time"

	"traffic-gateway/middleware/ratelimit/domain"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// SlidingWindow implementa domain.Limiter com um sorted set por chave:
// score = timestamp (ms) de cada admissão.
//
// A sequência purge -> ZCARD -> ZADD não é atômica; sob concorrência alta o total admitido
// pode passar de MaxRequests por uma margem pequena.
type SlidingWindow struct {
	store  domain.WindowStore
	policy domain.Policy
	clock  clock.Clock
}

type SlidingWindowOption func(*SlidingWindow)

func WithClock(c clock.Clock) SlidingWindowOption {
	return func(w *SlidingWindow) {
		if c != nil {
			w.clock = c
		}
	}
}

func NewSlidingWindow(store domain.WindowStore, policy domain.Policy, opts ...SlidingWindowOption) *SlidingWindow {
	w := &SlidingWindow{
		store:  store,
		policy: policy,
		clock:  clock.New(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *SlidingWindow) Policy() domain.Policy { return w.policy }

// Check implementa domain.Limiter.
func (w *SlidingWindow) Check(ctx context.Context, key domain.Key) (domain.Decision, error) {
	now := w.clock.Now()
	nowMs := now.UnixMilli()
	windowMs := w.policy.Window.Milliseconds()
	k := w.policy.StorageKey(key)

	// 1) remove o que saiu da janela (score < now-window)
	if _, err := w.store.ZRemRangeByScore(ctx, k, math.Inf(-1), float64(nowMs-windowMs-1)); err != nil {
		return domain.Decision{}, fmt.Errorf("ratelimit: purge %s: %w", k, err)
	}

	// 2) conta o que sobrou
	count, err := w.store.ZCard(ctx, k)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("ratelimit: count %s: %w", k, err)
	}

	dec := domain.Decision{
		Limit:   w.policy.MaxRequests,
		Window:  w.policy.Window,
		ResetAt: now.Add(w.policy.Window),
	}

	// 3) janela cheia
	if count >= int64(w.policy.MaxRequests) {
		dec.RetryAfter = w.policy.Window
		return dec, nil
	}

	// 4) registra esta admissão; o sufixo aleatório evita colisão no mesmo milissegundo
	member := fmt.Sprintf("%d-%s", nowMs, uuid.NewString())
	if err := w.store.ZAdd(ctx, k, float64(nowMs), member); err != nil {
		return domain.Decision{}, fmt.Errorf("ratelimit: add %s: %w", k, err)
	}

	// 5) a chave vive só o tempo da janela
	ttl := time.Duration(math.Ceil(w.policy.Window.Seconds())) * time.Second
	if _, err := w.store.Expire(ctx, k, ttl); err != nil {
		return domain.Decision{}, fmt.Errorf("ratelimit: expire %s: %w", k, err)
	}

	dec.Allowed = true
	dec.Remaining = w.policy.MaxRequests - int(count) - 1
	return dec, nil
}
