package analyzer

import (
	"sync"

	"github.com/Vodeneev/valueradar/internal/pkg/models"
)

// OddsStore holds the latest event state per source, bucketed by phase and
// sport. Events are treated as immutable once stored; updates replace the
// pointer. All mutation happens under one mutex and deletions run their
// purge hook synchronously inside the guarded path, so a reader can never
// observe a deleted event with its derived values still alive.
type OddsStore struct {
	mu sync.Mutex

	// source -> phase -> sport -> event id
	events map[string]map[string]map[string]map[string]*models.Event

	// onDelete purges state derived from an event. Called with the lock
	// held; it must not call back into the store.
	onDelete func(source, id string)
}

func NewOddsStore(onDelete func(source, id string)) *OddsStore {
	if onDelete == nil {
		onDelete = func(string, string) {}
	}
	return &OddsStore{
		events:   make(map[string]map[string]map[string]map[string]*models.Event),
		onDelete: onDelete,
	}
}

// Upsert stores the event under its phase and sport buckets. An event whose
// id already exists under a different phase or sport is moved, not
// duplicated.
func (s *OddsStore) Upsert(source string, ev *models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for phase, sports := range s.events[source] {
		for sport, byID := range sports {
			if phase == ev.Phase && sport == ev.Sport {
				continue
			}
			if _, exists := byID[ev.ID]; exists {
				delete(byID, ev.ID)
				s.pruneLocked(source, phase, sport)
			}
		}
	}

	// The move above may have pruned the whole source entry.
	phases, ok := s.events[source]
	if !ok {
		phases = make(map[string]map[string]map[string]*models.Event)
		s.events[source] = phases
	}

	sports, ok := phases[ev.Phase]
	if !ok {
		sports = make(map[string]map[string]*models.Event)
		phases[ev.Phase] = sports
	}
	byID, ok := sports[ev.Sport]
	if !ok {
		byID = make(map[string]*models.Event)
		sports[ev.Sport] = byID
	}
	byID[ev.ID] = ev
}

// Delete removes the event wherever it lives under the source and runs the
// purge hook. Unknown ids are a no-op.
func (s *OddsStore) Delete(source, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(source, id)
}

func (s *OddsStore) deleteLocked(source, id string) {
	phases, ok := s.events[source]
	if !ok {
		return
	}
	deleted := false
	for phase, sports := range phases {
		for sport, byID := range sports {
			if _, exists := byID[id]; exists {
				delete(byID, id)
				s.pruneLocked(source, phase, sport)
				deleted = true
			}
		}
	}
	if deleted {
		s.onDelete(source, id)
	}
}

// EvictStale removes every event whose last update predates the phase's
// max age and purges its derived state. Repeat calls are idempotent.
func (s *OddsStore) EvictStale(now int64, maxAge func(phase string) int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type victim struct {
		source string
		id     string
	}
	var victims []victim

	for source, phases := range s.events {
		for phase, sports := range phases {
			limit := maxAge(phase)
			for _, byID := range sports {
				for id, ev := range byID {
					if now-ev.LastUpdate > limit {
						victims = append(victims, victim{source: source, id: id})
					}
				}
			}
		}
	}

	for _, v := range victims {
		s.deleteLocked(v.source, v.id)
	}
}

// Snapshot deep-copies the bucket maps so callers can iterate without the
// lock. The event pointers themselves are shared.
func (s *OddsStore) Snapshot() map[string]map[string]map[string]map[string]*models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[string]map[string]map[string]map[string]*models.Event, len(s.events))
	for source, phases := range s.events {
		phasesCopy := make(map[string]map[string]map[string]*models.Event, len(phases))
		for phase, sports := range phases {
			sportsCopy := make(map[string]map[string]*models.Event, len(sports))
			for sport, byID := range sports {
				byIDCopy := make(map[string]*models.Event, len(byID))
				for id, ev := range byID {
					byIDCopy[id] = ev
				}
				sportsCopy[sport] = byIDCopy
			}
			phasesCopy[phase] = sportsCopy
		}
		snapshot[source] = phasesCopy
	}
	return snapshot
}

// SourceSnapshot flattens one source's events to id -> event across phases
// and sports.
func (s *OddsStore) SourceSnapshot(source, phase string) map[string]*models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	flat := make(map[string]*models.Event)
	for ph, sports := range s.events[source] {
		if phase != "" && ph != phase {
			continue
		}
		for _, byID := range sports {
			for id, ev := range byID {
				flat[id] = ev
			}
		}
	}
	return flat
}

func (s *OddsStore) pruneLocked(source, phase, sport string) {
	phases, ok := s.events[source]
	if !ok {
		return
	}
	sports, ok := phases[phase]
	if !ok {
		return
	}
	if len(sports[sport]) == 0 {
		delete(sports, sport)
	}
	if len(sports) == 0 {
		delete(phases, phase)
	}
	if len(phases) == 0 {
		delete(s.events, source)
	}
}
