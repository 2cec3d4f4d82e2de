package intake

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

var (
	// ErrStaleEvent is returned for deliveries whose timestamp is older than
	// the freshness window.
	ErrStaleEvent = errors.New("stale event")
	// ErrDuplicateEvent is returned for deliveries whose idempotency key was
	// already claimed.
	ErrDuplicateEvent = errors.New("duplicate event")
)

// Defaults for the idempotency guard.
const (
	DefaultFreshnessWindow  = 5 * time.Minute
	DefaultSeenKeysCapacity = 10000
)

var (
	eventIDHeaders   = []string{"X-Event-Id", "X-Webhook-Id", "Idempotency-Key"}
	eventIDPaths     = []string{"id", "event_id", "eventId", "message.call.id", "call_id", "callId", "message_id"}
	timestampHeaders = []string{"X-Webhook-Timestamp"}
	timestampPaths   = []string{"timestamp", "message.timestamp"}
)

// Identity is the event id and timestamp a delivery claims.
// A zero Timestamp means none was supplied.
type Identity struct {
	EventID   string
	Timestamp time.Time
}

// ExtractIdentity reads the event id and timestamp from headers first, then
// from the body.
func ExtractIdentity(header http.Header, body []byte) Identity {
	var id Identity
	for _, h := range eventIDHeaders {
		if v := header.Get(h); v != "" {
			id.EventID = v
			break
		}
	}
	for _, h := range timestampHeaders {
		if t, ok := ParseTimestamp(header.Get(h)); ok {
			id.Timestamp = t
			break
		}
	}

	doc := gjson.ParseBytes(body)
	if id.EventID == "" {
		id.EventID = firstString(doc, eventIDPaths...)
	}
	if id.Timestamp.IsZero() {
		id.Timestamp = firstTime(doc, timestampPaths...)
	}
	return id
}

// Key derives the idempotency key: the event id joined with the unix
// timestamp when one was supplied. Deliveries without an id get a random
// key and are never treated as duplicates.
func (id Identity) Key() string {
	eventID := id.EventID
	if eventID == "" {
		eventID = uuid.NewString()
	}
	if id.Timestamp.IsZero() {
		return eventID
	}
	return eventID + ":" + strconv.FormatInt(id.Timestamp.Unix(), 10)
}

// SeenSet records claimed idempotency keys.
type SeenSet interface {
	// Claim records key and reports whether it was new.
	Claim(ctx context.Context, key string) (bool, error)
	// Release forgets key so a retried delivery is processed again.
	Release(ctx context.Context, key string) error
}

// MemorySeenSet is a process-local bounded set with FIFO eviction.
type MemorySeenSet struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	keys     map[string]*list.Element
}

// NewMemorySeenSet creates a set holding at most capacity keys.
func NewMemorySeenSet(capacity int) *MemorySeenSet {
	if capacity <= 0 {
		capacity = DefaultSeenKeysCapacity
	}
	return &MemorySeenSet{
		capacity: capacity,
		order:    list.New(),
		keys:     make(map[string]*list.Element, capacity),
	}
}

// Claim implements SeenSet. Inserting past capacity evicts the oldest key.
func (s *MemorySeenSet) Claim(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[key]; ok {
		return false, nil
	}
	s.keys[key] = s.order.PushBack(key)
	for s.order.Len() > s.capacity {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.keys, oldest.Value.(string))
	}
	return true, nil
}

// Release implements SeenSet.
func (s *MemorySeenSet) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.keys[key]; ok {
		s.order.Remove(e)
		delete(s.keys, key)
	}
	return nil
}

// Len returns the number of keys held.
func (s *MemorySeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// KeyStore defines the store operations needed by StoreSeenSet.
type KeyStore interface {
	ClaimIdempotencyKey(ctx context.Context, key string, now time.Time, ttl time.Duration) (bool, error)
	ReleaseIdempotencyKey(ctx context.Context, key string) error
}

// StoreSeenSet keeps claimed keys in the shared store with a TTL, so every
// instance behind a load balancer sees the same set.
type StoreSeenSet struct {
	store KeyStore
	ttl   time.Duration
}

// NewStoreSeenSet creates a store-backed set.
func NewStoreSeenSet(s KeyStore, ttl time.Duration) *StoreSeenSet {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &StoreSeenSet{store: s, ttl: ttl}
}

// Claim implements SeenSet.
func (s *StoreSeenSet) Claim(ctx context.Context, key string) (bool, error) {
	return s.store.ClaimIdempotencyKey(ctx, key, time.Now().UTC(), s.ttl)
}

// Release implements SeenSet.
func (s *StoreSeenSet) Release(ctx context.Context, key string) error {
	return s.store.ReleaseIdempotencyKey(ctx, key)
}

// Guard rejects stale deliveries and short-circuits duplicates.
type Guard struct {
	seen   SeenSet
	window time.Duration
	now    func() time.Time
}

// NewGuard creates a guard. A non-positive window takes the default.
func NewGuard(seen SeenSet, window time.Duration) *Guard {
	if window <= 0 {
		window = DefaultFreshnessWindow
	}
	return &Guard{
		seen:   seen,
		window: window,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Check claims the idempotency key of id. Stale events are rejected before
// any key is claimed, even if their id was never seen.
func (g *Guard) Check(ctx context.Context, id Identity) (string, error) {
	if !id.Timestamp.IsZero() && g.now().Sub(id.Timestamp) > g.window {
		return "", fmt.Errorf("%w: timestamp %s is older than %s", ErrStaleEvent, id.Timestamp.Format(time.RFC3339), g.window)
	}

	key := id.Key()
	claimed, err := g.seen.Claim(ctx, key)
	if err != nil {
		return "", fmt.Errorf("claim idempotency key: %w", err)
	}
	if !claimed {
		return key, ErrDuplicateEvent
	}
	return key, nil
}

// Release forgets key after a delivery that could not be stored.
func (g *Guard) Release(ctx context.Context, key string) error {
	return g.seen.Release(ctx, key)
}
