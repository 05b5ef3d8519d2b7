package redis

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

var _ RedisClient = (*MemoryClient)(nil)

type memEntry struct {
	val     string
	expires time.Time
}

// MemoryClient is an in-process RedisClient for single-node deployments without redis.
type MemoryClient struct {
	mu   sync.Mutex
	data map[string]memEntry
	now  func() time.Time
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{data: map[string]memEntry{}, now: time.Now}
}

func (m *MemoryClient) lookup(key string) (memEntry, bool) {
	e, ok := m.data[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.data, key)
		return memEntry{}, false
	}
	return e, true
}

func (m *MemoryClient) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *MemoryClient) Ping(context.Context) error { return nil }

func (m *MemoryClient) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = memEntry{val: toString(value), expires: m.deadline(expiration)}
	return nil
}

func (m *MemoryClient) SetNX(_ context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	m.data[key] = memEntry{val: toString(value), expires: m.deadline(expiration)}
	return true, nil
}

func (m *MemoryClient) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	if !ok {
		return "", Nil
	}
	return e.val, nil
}

func (m *MemoryClient) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, _ := m.lookup(key)
	var n int64
	if e.val != "" {
		v, err := strconv.ParseInt(e.val, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value at %s is not an integer", key)
		}
		n = v
	}
	n++
	e.val = strconv.FormatInt(n, 10)
	m.data[key] = e
	return n, nil
}

func (m *MemoryClient) Expire(_ context.Context, key string, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.lookup(key); ok {
		e.expires = m.deadline(expiration)
		m.data[key] = e
	}
	return nil
}

func (m *MemoryClient) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *MemoryClient) DelIfEquals(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	if !ok || e.val != value {
		return false, nil
	}
	delete(m.data, key)
	return true, nil
}

func (m *MemoryClient) Close() error { return nil }

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}
