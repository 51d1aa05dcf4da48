package fetchcache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/holdwallet/gateway/lib"
	"github.com/holdwallet/gateway/lib/logger"
)

// FetchFunc resolves a single key over the network.
type FetchFunc[V any] func(ctx context.Context, key string) (V, error)

// Config holds the tunables shared by the item cache, the batch cache and
// the breaker.
type Config struct {
	TTL      time.Duration
	Capacity int
	Cooldown time.Duration
	Clock    clockwork.Clock
}

// Batcher combines a per-key cache, a whole-batch cache and a shared breaker.
// One instance per consumer; there is no package-global state.
type Batcher[V any] struct {
	items   *Cache[V]
	batches *Cache[map[string]V]
	breaker *Breaker
}

// NewBatcher creates a batcher from the config.
func NewBatcher[V any](conf Config) (*Batcher[V], error) {
	if conf.Cooldown <= 0 {
		conf.Cooldown = DefaultCooldown
	}
	items, err := NewCache[V](conf.TTL, conf.Capacity, conf.Clock, nil)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	batches, err := NewCache[map[string]V](conf.TTL, conf.Capacity, conf.Clock, nil)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Batcher[V]{
		items:   items,
		batches: batches,
		breaker: NewBreaker(conf.Cooldown, conf.Clock),
	}, nil
}

// Items exposes the per-key cache.
func (b *Batcher[V]) Items() *Cache[V] { return b.items }

// Breaker exposes the shared breaker.
func (b *Batcher[V]) Breaker() *Breaker { return b.breaker }

// GetOrFetch returns the cached value for key or fetches it. A fetch failure
// counts as a total failure and opens the breaker; a cancellation is passed
// through without touching breaker or cache.
func (b *Batcher[V]) GetOrFetch(ctx context.Context, key string, fn FetchFunc[V]) (V, error) {
	var zero V
	if value, ok := b.items.Get(key); ok {
		return value, nil
	}

	if _, err := b.breaker.Acquire(); err != nil {
		return zero, trace.Wrap(err)
	}

	value, err := fn(ctx, key)
	switch {
	case err == nil:
		b.breaker.Record(true)
		b.items.Put(key, value)
		return value, nil
	case lib.IsCanceled(err):
		b.breaker.Release()
		return zero, trace.Wrap(err)
	default:
		b.breaker.Record(false)
		return zero, trace.Wrap(err)
	}
}

// BatchOptions tunes a FetchBatch call.
type BatchOptions[V any] struct {
	// PriorityKey, when present in the batch, is fetched first and alone, and
	// surfaced through OnPriority before the remaining fetches are issued.
	PriorityKey string
	// OnPriority receives the priority key's value as soon as it resolves.
	OnPriority func(key string, value V)
	// CompositeKey overrides the cache key for the whole batch. Defaults to
	// the keys joined with commas.
	CompositeKey string
}

// FetchBatch resolves all keys with all-settled semantics: every fetch runs
// to completion, per-key failures degrade to absent entries instead of
// propagating, and the breaker opens only when every fetch in the batch
// failed. Successes are cached under their own keys and under the composite
// key.
func (b *Batcher[V]) FetchBatch(ctx context.Context, keys []string, fn FetchFunc[V], opts BatchOptions[V]) (map[string]V, error) {
	log := logger.Get(ctx)

	results := make(map[string]V, len(keys))
	if len(keys) == 0 {
		return results, nil
	}

	composite := opts.CompositeKey
	if composite == "" {
		composite = strings.Join(keys, ",")
	}
	if cached, ok := b.batches.Get(composite); ok {
		for key, value := range cached {
			results[key] = value
		}
		b.deliverPriority(results, opts)
		return results, nil
	}

	var need []string
	for _, key := range keys {
		if value, ok := b.items.Get(key); ok {
			results[key] = value
			continue
		}
		need = append(need, key)
	}
	if len(need) == 0 {
		b.deliverPriority(results, opts)
		b.batches.Put(composite, snapshot(results))
		return results, nil
	}

	if _, err := b.breaker.Acquire(); err != nil {
		return nil, trace.Wrap(err)
	}

	var successes, failures int
	var cancelled bool

	// The priority key resolves before any other fetch is even issued, so the
	// caller can render partial results sooner.
	if opts.PriorityKey != "" {
		if cached, ok := results[opts.PriorityKey]; ok {
			if opts.OnPriority != nil {
				opts.OnPriority(opts.PriorityKey, cached)
			}
		} else if containsKey(need, opts.PriorityKey) {
			need = withoutKey(need, opts.PriorityKey)
			value, err := fn(ctx, opts.PriorityKey)
			switch {
			case err == nil:
				successes++
				results[opts.PriorityKey] = value
				b.items.Put(opts.PriorityKey, value)
				if opts.OnPriority != nil {
					opts.OnPriority(opts.PriorityKey, value)
				}
			case lib.IsCanceled(err):
				cancelled = true
			default:
				failures++
				log.WithError(err).Debugf("Fetch failed for priority key %q", opts.PriorityKey)
			}
		}
	}

	if !cancelled {
		var mu sync.Mutex
		var wg sync.WaitGroup
		for _, key := range need {
			key := key
			wg.Add(1)
			go func() {
				defer wg.Done()
				value, err := fn(ctx, key)

				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
					results[key] = value
					b.items.Put(key, value)
				case lib.IsCanceled(err):
					cancelled = true
				default:
					failures++
					log.WithError(err).Debugf("Fetch failed for key %q", key)
				}
			}()
		}
		wg.Wait()
	}

	switch {
	case successes > 0:
		b.breaker.Record(true)
		b.batches.Put(composite, snapshot(results))
	case cancelled:
		// A batch aborted by its caller says nothing about backend health.
		b.breaker.Release()
		if len(results) == 0 {
			return nil, trace.Wrap(context.Canceled)
		}
	case failures > 0:
		log.Warnf("All %d fetches in batch failed, suspending fetches for the cooldown window", failures)
		b.breaker.Record(false)
	default:
		b.breaker.Release()
	}

	return results, nil
}

func (b *Batcher[V]) deliverPriority(results map[string]V, opts BatchOptions[V]) {
	if opts.OnPriority == nil || opts.PriorityKey == "" {
		return
	}
	if value, ok := results[opts.PriorityKey]; ok {
		opts.OnPriority(opts.PriorityKey, value)
	}
}

func snapshot[V any](m map[string]V) map[string]V {
	copied := make(map[string]V, len(m))
	for key, value := range m {
		copied[key] = value
	}
	return copied
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

func withoutKey(keys []string, key string) []string {
	filtered := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != key {
			filtered = append(filtered, k)
		}
	}
	return filtered
}
