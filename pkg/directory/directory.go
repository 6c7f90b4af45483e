// Package directory maintains a cached copy of the platform's tunnel list
// and answers search, country and name-resolution queries against it.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/B-Hartley/tunnelflight/pkg/log"
	"github.com/B-Hartley/tunnelflight/pkg/types"
)

// SearchLimit caps how many tunnels a single search returns.
const SearchLimit = 20

const defaultTTL = 24 * time.Hour

// fallback names for well-known tunnels in case the directory is unavailable
var fallbackTunnelNames = map[int]string{
	225: "Milton Keynes iFLY",
	242: "Manchester iFLY",
	248: "Basingstoke iFLY",
	264: "Downunder iFLY",
	228: "SF Bay iFLY",
	230: "Paraclete XP SkyVenture",
	249: "InFlight Dubai",
	250: "Toronto - Oakville iFLY",
}

// FetchFunc returns the current tunnel list from the platform.
type FetchFunc func(ctx context.Context) ([]types.Tunnel, error)

// Directory caches the tunnel list with a TTL. If a refresh fails and stale
// data is available, the stale data is served.
type Directory struct {
	fetch FetchFunc

	mu        sync.Mutex
	ttl       time.Duration
	tunnels   []types.Tunnel
	fetchedAt time.Time
}

// New creates a Directory that loads tunnels through fetch.
func New(fetch FetchFunc) *Directory {
	return &Directory{
		fetch: fetch,
		ttl:   defaultTTL,
	}
}

// ApplySettings updates the cache TTL from settings.
func (d *Directory) ApplySettings(settings types.Settings) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if settings.TunnelCacheTTLHours > 0 {
		d.ttl = time.Duration(settings.TunnelCacheTTLHours) * time.Hour
	}
}

// Tunnels returns the cached tunnel list, refreshing it if stale.
func (d *Directory) Tunnels(ctx context.Context) ([]types.Tunnel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tunnelsLocked(ctx)
}

func (d *Directory) tunnelsLocked(ctx context.Context) ([]types.Tunnel, error) {
	if d.tunnels != nil && time.Since(d.fetchedAt) < d.ttl {
		return d.tunnels, nil
	}

	tunnels, err := d.fetch(ctx)
	if err != nil {
		if d.tunnels != nil {
			log.Ctx(ctx).WarnContext(ctx, "tunnel list refresh failed, serving stale data",
				slog.Any("error", err),
				slog.Time("fetchedAt", d.fetchedAt),
			)
			return d.tunnels, nil
		}
		return nil, fmt.Errorf("tunnel list fetch failed: %w", err)
	}

	d.tunnels = tunnels
	d.fetchedAt = time.Now()
	log.Ctx(ctx).DebugContext(ctx, "refreshed tunnel list", slog.Int("count", len(tunnels)))
	return d.tunnels, nil
}

// Search returns tunnels whose name or city contains term and whose country
// contains country, both case-insensitive. Results are sorted by name and
// capped at SearchLimit; the second return is the total match count.
func (d *Directory) Search(ctx context.Context, term, country string) ([]types.Tunnel, int, error) {
	tunnels, err := d.Tunnels(ctx)
	if err != nil {
		return nil, 0, err
	}

	term = strings.ToLower(term)
	country = strings.ToLower(country)

	var matches []types.Tunnel
	for _, t := range tunnels {
		name := strings.ToLower(t.Name)
		city := strings.ToLower(t.City)
		tunnelCountry := strings.ToLower(t.Country)

		matchesTerm := term == "" || strings.Contains(name, term) || strings.Contains(city, term)
		matchesCountry := country == "" || strings.Contains(tunnelCountry, country)

		if matchesTerm && matchesCountry {
			matches = append(matches, t)
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Name < matches[j].Name
	})

	total := len(matches)
	if len(matches) > SearchLimit {
		matches = matches[:SearchLimit]
	}
	return matches, total, nil
}

// Countries returns the sorted set of countries that have tunnels.
func (d *Directory) Countries(ctx context.Context) ([]string, error) {
	tunnels, err := d.Tunnels(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var countries []string
	for _, t := range tunnels {
		if t.Country == "" || seen[t.Country] {
			continue
		}
		seen[t.Country] = true
		countries = append(countries, t.Country)
	}
	sort.Strings(countries)
	return countries, nil
}

// ResolveName returns the display name for a tunnel ID, falling back to a
// small built-in map and finally a placeholder. It never fails.
func (d *Directory) ResolveName(ctx context.Context, id int) string {
	tunnels, err := d.Tunnels(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to resolve tunnel name", slog.Int("tunnelID", id), slog.Any("error", err))
	}
	for _, t := range tunnels {
		if t.ID == id {
			return t.Name
		}
	}
	if name, ok := fallbackTunnelNames[id]; ok {
		return name
	}
	return fmt.Sprintf("Tunnel ID %d", id)
}
