package storage

import (
	"context"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultMemoryCapacity é a quantidade máxima de chaves do fallback em memória.
const DefaultMemoryCapacity = 1000

type memEntry struct {
	str      string
	zset     map[string]float64 // nil => entrada string
	expireAt time.Time          // zero => sem expiração
	seq      uint64             // ordem de inserção, desempate na evicção
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && !now.Before(e.expireAt)
}

// Memory é o fallback em memória: um mapa limitado com TTL por entrada.
//
// Entradas expiradas são invisíveis e removidas de forma preguiçosa. Ao atingir a
// capacidade, primeiro remove as expiradas; se ainda estiver cheio, remove a entrada que
// expira mais cedo (entradas sem TTL são as últimas candidatas, da mais antiga para a
// mais nova).
type Memory struct {
	mu       sync.Mutex
	clock    clock.Clock
	capacity int
	entries  map[string]*memEntry
	seq      uint64
}

var _ Store = (*Memory)(nil)

func NewMemory(capacity int, clk clock.Clock) *Memory {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Memory{
		clock:    clk,
		capacity: capacity,
		entries:  make(map[string]*memEntry),
	}
}

// Len devolve a quantidade de chaves vivas.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeExpired(m.clock.Now())
	return len(m.entries)
}

// lookup devolve a entrada viva ou nil. Chamar com mu travado.
func (m *Memory) lookup(key string, now time.Time) *memEntry {
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if e.expired(now) {
		delete(m.entries, key)
		return nil
	}
	return e
}

// store grava a entrada, abrindo espaço se necessário. Chamar com mu travado.
func (m *Memory) store(key string, e *memEntry, now time.Time) {
	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.capacity {
		m.purgeExpired(now)
		for len(m.entries) >= m.capacity {
			m.evictOne()
		}
	}
	m.seq++
	e.seq = m.seq
	m.entries[key] = e
}

func (m *Memory) purgeExpired(now time.Time) {
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
		}
	}
}

func (m *Memory) evictOne() {
	var (
		victim string
		best   *memEntry
	)
	for k, e := range m.entries {
		if best == nil || evictsBefore(e, best) {
			victim, best = k, e
		}
	}
	if best != nil {
		delete(m.entries, victim)
	}
}

func evictsBefore(a, b *memEntry) bool {
	switch {
	case a.expireAt.IsZero() && b.expireAt.IsZero():
		return a.seq < b.seq
	case a.expireAt.IsZero():
		return false
	case b.expireAt.IsZero():
		return true
	case a.expireAt.Equal(b.expireAt):
		return a.seq < b.seq
	default:
		return a.expireAt.Before(b.expireAt)
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.lookup(key, m.clock.Now())
	if e == nil {
		return "", false, nil
	}
	if e.zset != nil {
		return "", false, ErrWrongType
	}
	return e.str, true, nil
}

func (m *Memory) Set(ctx context.Context, key, value string) error {
	return m.SetEx(ctx, key, 0, value)
}

func (m *Memory) SetEx(_ context.Context, key string, ttl time.Duration, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	e := &memEntry{str: value}
	if ttl > 0 {
		e.expireAt = now.Add(ttl)
	}
	m.store(key, e, now)
	return nil
}

func (m *Memory) Del(ctx context.Context, key string) (int64, error) {
	return m.MDel(ctx, []string{key})
}

func (m *Memory) MDel(_ context.Context, keys []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var n int64
	for _, k := range keys {
		if m.lookup(k, now) != nil {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	e := m.lookup(key, now)
	if e == nil {
		return false, nil
	}
	if ttl <= 0 {
		delete(m.entries, key)
		return true, nil
	}
	e.expireAt = now.Add(ttl)
	return true, nil
}

func (m *Memory) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	e := m.lookup(key, now)
	if e == nil {
		m.store(key, &memEntry{str: "1", expireAt: now.Add(DefaultIncrTTL)}, now)
		return 1, nil
	}
	if e.zset != nil {
		return 0, ErrWrongType
	}
	v, err := strconv.ParseInt(e.str, 10, 64)
	if err != nil {
		return 0, ErrNotInteger
	}
	v++
	e.str = strconv.FormatInt(v, 10)
	return v, nil
}

func (m *Memory) ZAdd(_ context.Context, key string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	e := m.lookup(key, now)
	if e == nil {
		m.store(key, &memEntry{zset: map[string]float64{member: score}}, now)
		return nil
	}
	if e.zset == nil {
		return ErrWrongType
	}
	e.zset[member] = score
	return nil
}

func (m *Memory) ZRemRangeByScore(_ context.Context, key string, min, max float64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.lookup(key, m.clock.Now())
	if e == nil {
		return 0, nil
	}
	if e.zset == nil {
		return 0, ErrWrongType
	}
	var n int64
	for member, score := range e.zset {
		if score >= min && score <= max {
			delete(e.zset, member)
			n++
		}
	}
	// como no Redis, sorted set vazio deixa de existir
	if len(e.zset) == 0 {
		delete(m.entries, key)
	}
	return n, nil
}

func (m *Memory) ZCard(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.lookup(key, m.clock.Now())
	if e == nil {
		return 0, nil
	}
	if e.zset == nil {
		return 0, ErrWrongType
	}
	return int64(len(e.zset)), nil
}

func (m *Memory) ZRangeByScore(_ context.Context, key string, min, max float64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.lookup(key, m.clock.Now())
	if e == nil {
		return nil, nil
	}
	if e.zset == nil {
		return nil, ErrWrongType
	}
	type pair struct {
		member string
		score  float64
	}
	var in []pair
	for member, score := range e.zset {
		if score >= min && score <= max {
			in = append(in, pair{member, score})
		}
	}
	sort.Slice(in, func(i, j int) bool {
		if in[i].score == in[j].score {
			return in[i].member < in[j].member
		}
		return in[i].score < in[j].score
	})
	out := make([]string, len(in))
	for i, p := range in {
		out[i] = p.member
	}
	return out, nil
}

func (m *Memory) Keys(_ context.Context, pattern string) ([]string, error) {
	re := CompileGlob(pattern)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var out []string
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
			continue
		}
		if re.MatchString(k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// scoreBound traduz limites infinitos para o formato aceito pelo ZRANGEBYSCORE/ZREMRANGEBYSCORE.
func scoreBound(v float64) string {
	switch {
	case math.IsInf(v, -1):
		return "-inf"
	case math.IsInf(v, 1):
		return "+inf"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
