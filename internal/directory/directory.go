// Package directory discovers and caches the pool of usable Invidious
// mirror servers.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/tubemeta/tubemeta/internal/tube"
)

// instancesURL lists public Invidious instances, most reliable first.
const instancesURL = "https://api.invidious.io/instances.json?pretty=1&sort_by=type,users"

// ErrNoServers is returned when no mirror can be picked: no override is
// configured and discovery produced an empty pool. It is terminal, not a
// retried transport failure.
var ErrNoServers = errors.New("no invidious servers available")

// Directory caches discovered mirrors for the process lifetime. A dead
// mirror is tolerated via retry-with-resample upstream, not removed here,
// and the pool is never refreshed.
type Directory struct {
	fetcher  tube.Fetcher
	logger   *zap.Logger
	override string

	mu      sync.Mutex
	servers []string
	probed  bool
}

// New creates a Directory. If override is non-empty it is returned by every
// Pick and discovery never runs.
func New(fetcher tube.Fetcher, logger *zap.Logger, override string) *Directory {
	return &Directory{
		fetcher:  fetcher,
		logger:   logger,
		override: override,
	}
}

// Pick returns the configured override if set, else a uniformly random
// member of the cached pool, discovering it lazily on first use. The mutex
// spans discovery so concurrent first callers issue a single request.
func (d *Directory) Pick(ctx context.Context) (string, error) {
	if d.override != "" {
		return d.override, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.probed {
		d.servers = d.discover(ctx)
		d.probed = true
	}
	if len(d.servers) == 0 {
		return "", ErrNoServers
	}
	return d.servers[rand.Intn(len(d.servers))], nil
}

// instanceEntry is one element of the instances.json array: a
// [hostname, details] pair.
type instanceEntry struct {
	Host    string
	Details instanceDetails
}

type instanceDetails struct {
	API bool   `json:"api"`
	URI string `json:"uri"`
}

func (e *instanceEntry) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("instance entry has %d elements, want 2", len(pair))
	}
	if err := json.Unmarshal(pair[0], &e.Host); err != nil {
		return fmt.Errorf("instance hostname: %w", err)
	}
	if err := json.Unmarshal(pair[1], &e.Details); err != nil {
		return fmt.Errorf("instance details: %w", err)
	}
	return nil
}

// discover fetches the instance list and filters it down to API-capable
// entries. It fails soft: any failure yields an empty pool.
func (d *Directory) discover(ctx context.Context) []string {
	resp, err := d.fetcher.Fetch(ctx, tube.FetchRequest{URL: instancesURL})
	if err != nil {
		d.logger.Warn("instance discovery failed", zap.Error(err))
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		d.logger.Warn("instance discovery rejected", zap.Int("status_code", resp.StatusCode))
		return nil
	}

	var entries []instanceEntry
	if err := json.Unmarshal(resp.Body, &entries); err != nil {
		d.logger.Warn("instance list malformed", zap.Error(err))
		return nil
	}

	var servers []string
	for _, e := range entries {
		if !e.Details.API {
			continue
		}
		uri := e.Details.URI
		if uri == "" {
			uri = "https://" + e.Host
		}
		servers = append(servers, uri)
	}
	d.logger.Info("discovered invidious servers", zap.Int("count", len(servers)))
	return servers
}
