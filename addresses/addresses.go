// Package addresses resolves wallet deposit addresses per network, with a
// TTL cache and circuit breaker in front of the gateway so a dead backend
// degrades to cached or empty results instead of hammering doomed requests.
package addresses

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/holdwallet/gateway/fetchcache"
	"github.com/holdwallet/gateway/gateway"
)

// Config holds the address service settings.
type Config struct {
	// Gateway dispatches the actual requests.
	Gateway *gateway.Client
	// CacheTTL is how long a resolved address stays cached.
	CacheTTL time.Duration
	// CacheCapacity bounds the address cache.
	CacheCapacity int
	// Cooldown is how long fetches stay suspended after a total failure.
	Cooldown time.Duration
	// Clock is used for cache and breaker timing.
	Clock clockwork.Clock
}

// Service resolves deposit addresses for wallet/network pairs.
type Service struct {
	gw      *gateway.Client
	batcher *fetchcache.Batcher[string]
}

// NewService creates an address service.
func NewService(conf Config) (*Service, error) {
	if conf.Gateway == nil {
		return nil, trace.BadParameter("missing gateway client")
	}
	batcher, err := fetchcache.NewBatcher[string](fetchcache.Config{
		TTL:      conf.CacheTTL,
		Capacity: conf.CacheCapacity,
		Cooldown: conf.Cooldown,
		Clock:    conf.Clock,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Service{gw: conf.Gateway, batcher: batcher}, nil
}

// ResolveOptions tunes a Resolve call.
type ResolveOptions struct {
	// PriorityNetwork is resolved first and alone, and surfaced through
	// OnPriority before the remaining networks are fetched, so a caller can
	// render partial results sooner.
	PriorityNetwork string
	// OnPriority receives the priority network's address as soon as it
	// resolves.
	OnPriority func(network, address string)
}

// Resolve returns the deposit address for each requested network. Networks
// that fail to resolve are absent from the result rather than failing the
// whole call; only a total failure, or an open breaker, yields an error.
func (s *Service) Resolve(ctx context.Context, walletID string, networks []string, opts ResolveOptions) (map[string]string, error) {
	if walletID == "" {
		return nil, trace.BadParameter("missing wallet id")
	}
	if len(networks) == 0 {
		return map[string]string{}, nil
	}

	keys := make([]string, 0, len(networks))
	for _, network := range networks {
		keys = append(keys, cacheKey(walletID, network))
	}

	batchOpts := fetchcache.BatchOptions[string]{
		CompositeKey: compositeKey(walletID, networks),
	}
	if opts.PriorityNetwork != "" {
		batchOpts.PriorityKey = cacheKey(walletID, opts.PriorityNetwork)
		if opts.OnPriority != nil {
			onPriority := opts.OnPriority
			batchOpts.OnPriority = func(key, address string) {
				onPriority(networkOf(key), address)
			}
		}
	}

	resolved, err := s.batcher.FetchBatch(ctx, keys, s.fetchAddress, batchOpts)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	result := make(map[string]string, len(resolved))
	for key, address := range resolved {
		if address != "" {
			result[networkOf(key)] = address
		}
	}
	return result, nil
}

type addressResponse struct {
	Address string `json:"address"`
	Network string `json:"network"`
}

func (s *Service) fetchAddress(ctx context.Context, key string) (string, error) {
	walletID, network := splitKey(key)

	var result addressResponse
	path := fmt.Sprintf("/wallets/%s/address?network=%s", url.PathEscape(walletID), url.QueryEscape(network))
	if err := s.gw.Get(ctx, path, &result); err != nil {
		return "", trace.Wrap(err)
	}
	return result.Address, nil
}

func cacheKey(walletID, network string) string {
	return walletID + ":" + network
}

func compositeKey(walletID string, networks []string) string {
	sorted := make([]string, len(networks))
	copy(sorted, networks)
	sort.Strings(sorted)
	return walletID + "|" + strings.Join(sorted, ",")
}

func splitKey(key string) (walletID, network string) {
	if i := strings.LastIndex(key, ":"); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}

func networkOf(key string) string {
	_, network := splitKey(key)
	return network
}
