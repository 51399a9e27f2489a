package matching

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/Vodeneev/valueradar/internal/pkg/models"
)

// Mapping categories. File names under the per-source mappings directory.
const (
	CategoryCountries = "countries"
	CategoryLeagues   = "leagues"
	CategoryTeams     = "teams"
)

// noCountry marks groupings without a country axis (tennis). Mappings with
// this country are never stored.
const noCountry = "None"

type sourceMappings struct {
	Countries map[string]string
	Leagues   map[string]string
	// Teams are scoped per "{country}_{league}" bucket: identical surface
	// names can refer to different teams in different competitions.
	Teams map[string]map[string]string
}

func newSourceMappings() *sourceMappings {
	return &sourceMappings{
		Countries: make(map[string]string),
		Leagues:   make(map[string]string),
		Teams:     make(map[string]map[string]string),
	}
}

// Mappings is the persistent store of learned name equivalences (country,
// league, team) per non-reference source, plus the matched/unmatched event
// collections produced by the pairer. Every mutation is durably flushed via
// atomic replace of the affected (source, category) shard.
type Mappings struct {
	dir       string
	reference string

	mu      sync.Mutex
	sources map[string]*sourceMappings
}

// NewMappings loads all persisted shards from dir. A missing directory is
// created; unreadable shards are logged and start empty.
func NewMappings(dir, reference string) (*Mappings, error) {
	m := &Mappings{
		dir:       dir,
		reference: reference,
		sources:   make(map[string]*sourceMappings),
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create mappings dir: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read mappings dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		source := entry.Name()
		sm := newSourceMappings()
		loadShard(m.shardPath(source, CategoryCountries), &sm.Countries)
		loadShard(m.shardPath(source, CategoryLeagues), &sm.Leagues)
		loadShard(m.shardPath(source, CategoryTeams), &sm.Teams)
		m.sources[source] = sm
		slog.Info("Loaded mappings", "source", source,
			"countries", len(sm.Countries), "leagues", len(sm.Leagues), "team_scopes", len(sm.Teams))
	}

	return m, nil
}

func loadShard[T any](path string, dst *T) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("Failed to read mapping shard", "path", path, "error", err)
		}
		return
	}
	if err := json.Unmarshal(data, dst); err != nil {
		slog.Error("Failed to parse mapping shard", "path", path, "error", err)
	}
}

func (m *Mappings) shardPath(source, category string) string {
	return filepath.Join(m.dir, source, category+".json")
}

// GetCountry returns the canonical country name for a raw one. The reference
// source is always identity; unknown values fall through unchanged.
func (m *Mappings) GetCountry(source, country string) string {
	if source == m.reference {
		return country
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if sm, ok := m.sources[source]; ok {
		if mapped, ok := sm.Countries[country]; ok {
			return mapped
		}
	}
	return country
}

// GetLeague returns the canonical league name for a raw one.
func (m *Mappings) GetLeague(source, league string) string {
	if source == m.reference {
		return league
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if sm, ok := m.sources[source]; ok {
		if mapped, ok := sm.Leagues[league]; ok {
			return mapped
		}
	}
	return league
}

// GetTeam returns the canonical team name within the (country, league) scope.
func (m *Mappings) GetTeam(source, country, league, team string) string {
	if source == m.reference {
		return team
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if sm, ok := m.sources[source]; ok {
		if scope, ok := sm.Teams[teamScope(country, league)]; ok {
			if mapped, ok := scope[team]; ok {
				return mapped
			}
		}
	}
	return team
}

func teamScope(country, league string) string {
	return country + "_" + league
}

// AddMapping records an equivalence original -> mapped and persists the
// affected shard. Empty originals/mapped values and country "None" are
// silently skipped. Team mappings without a country+league scope are a
// programming error in the matcher, not bad input.
func (m *Mappings) AddMapping(source, category, original, mapped, country, league string) error {
	if original == "" || mapped == "" || country == noCountry {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sm, ok := m.sources[source]
	if !ok {
		sm = newSourceMappings()
		m.sources[source] = sm
	}

	switch category {
	case CategoryTeams:
		if country == "" || league == "" {
			return fmt.Errorf("country and league must be provided for team mappings")
		}
		scope := teamScope(country, league)
		if sm.Teams[scope] == nil {
			sm.Teams[scope] = make(map[string]string)
		}
		sm.Teams[scope][original] = mapped
	case CategoryCountries:
		sm.Countries[original] = mapped
	case CategoryLeagues:
		sm.Leagues[original] = mapped
	default:
		return fmt.Errorf("unknown mapping category: %s", category)
	}

	m.saveShardLocked(source, category)
	return nil
}

// RemoveMapping removes an equivalence and persists the affected shard.
func (m *Mappings) RemoveMapping(source, category, original, country, league string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sm, ok := m.sources[source]
	if !ok {
		return nil
	}

	switch category {
	case CategoryTeams:
		if country == "" || league == "" {
			return fmt.Errorf("country and league must be provided for team mappings")
		}
		if scope, ok := sm.Teams[teamScope(country, league)]; ok {
			delete(scope, original)
		}
	case CategoryCountries:
		delete(sm.Countries, original)
	case CategoryLeagues:
		delete(sm.Leagues, original)
	default:
		return fmt.Errorf("unknown mapping category: %s", category)
	}

	m.saveShardLocked(source, category)
	return nil
}

// saveShardLocked persists one (source, category) shard, merging with on-disk
// content so concurrent processes sharing the directory lose nothing.
// Persistence failures are logged: in-memory state stays correct and the next
// successful write supersedes the loss.
func (m *Mappings) saveShardLocked(source, category string) {
	sm := m.sources[source]
	path := m.shardPath(source, category)

	switch category {
	case CategoryTeams:
		existing := make(map[string]map[string]string)
		loadShard(path, &existing)
		for scope, teams := range sm.Teams {
			if existing[scope] == nil {
				existing[scope] = make(map[string]string)
			}
			for orig, mapped := range teams {
				existing[scope][orig] = mapped
			}
		}
		writeJSONAtomic(path, existing)
	case CategoryCountries:
		existing := make(map[string]string)
		loadShard(path, &existing)
		for orig, mapped := range sm.Countries {
			existing[orig] = mapped
		}
		writeJSONAtomic(path, existing)
	case CategoryLeagues:
		existing := make(map[string]string)
		loadShard(path, &existing)
		for orig, mapped := range sm.Leagues {
			existing[orig] = mapped
		}
		writeJSONAtomic(path, existing)
	}
}

// writeJSONAtomic writes data via a temp file plus rename so a crash mid-write
// never corrupts the shard.
func writeJSONAtomic(path string, data any) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		slog.Error("Failed to create shard dir", "path", path, "error", err)
		return
	}

	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		slog.Error("Failed to marshal shard", "path", path, "error", err)
		return
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		slog.Error("Failed to create temp file", "path", path, "error", err)
		return
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		slog.Error("Failed to write temp file", "path", path, "error", err)
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		slog.Error("Failed to close temp file", "path", path, "error", err)
		return
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		slog.Error("Failed to replace shard file", "path", path, "error", err)
	}
}

func (m *Mappings) matchedEventsPath(source string) string {
	return filepath.Join(m.dir, source, "matched_events.json")
}

// LoadMatchedEvents returns the persisted matched pairs for a source.
func (m *Mappings) LoadMatchedEvents(source string) []models.MatchedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadMatchedEventsLocked(source)
}

func (m *Mappings) loadMatchedEventsLocked(source string) []models.MatchedEvent {
	var events []models.MatchedEvent
	loadShard(m.matchedEventsPath(source), &events)
	return events
}

// SaveMatchedEvents merges new matches into the persisted collection,
// deduplicated by the (reference id, other id) pair.
func (m *Mappings) SaveMatchedEvents(source string, newMatches []models.MatchedEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := append(m.loadMatchedEventsLocked(source), newMatches...)

	type pairKey struct{ refID, otherID string }
	seen := make(map[pairKey]int, len(all))
	unique := make([]models.MatchedEvent, 0, len(all))
	for _, ev := range all {
		key := pairKey{ev.RefID, ev.OtherID}
		if i, ok := seen[key]; ok {
			unique[i] = ev
			continue
		}
		seen[key] = len(unique)
		unique = append(unique, ev)
	}

	writeJSONAtomic(m.matchedEventsPath(source), unique)
	slog.Info("Saved matched events", "source", source, "total", len(unique), "new", len(newMatches))
}

// RemoveMatchedEvent deletes one persisted pair. The pairer never deletes
// matches itself; this is the explicit removal operation.
func (m *Mappings) RemoveMatchedEvent(source, refID, otherID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := m.loadMatchedEventsLocked(source)
	kept := events[:0]
	for _, ev := range events {
		if ev.RefID == refID && ev.OtherID == otherID {
			continue
		}
		kept = append(kept, ev)
	}
	writeJSONAtomic(m.matchedEventsPath(source), kept)
}

// SaveUnmatchedEvents merges the residual unmatched maps of a matching pass
// into the per-source diagnostic files. The key set only grows; nothing in
// the core reads these back.
func (m *Mappings) SaveUnmatchedEvents(source string, refUnmatched, otherUnmatched map[string]*models.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.mergeUnmatchedLocked(filepath.Join(m.dir, source, m.reference+"_unmatched.json"), refUnmatched)
	m.mergeUnmatchedLocked(filepath.Join(m.dir, source, source+"_unmatched.json"), otherUnmatched)
}

func (m *Mappings) mergeUnmatchedLocked(path string, unmatched map[string]*models.Event) {
	existing := make(map[string]*models.Event)
	loadShard(path, &existing)
	for id, ev := range unmatched {
		existing[id] = ev
	}
	writeJSONAtomic(path, existing)
}
