package matching

import (
	"sync"
	"time"

	"github.com/Vodeneev/valueradar/internal/pkg/models"
)

type refKey struct {
	League  string
	Country string
	Home    string
	Away    string
}

type sourceIndex struct {
	byRef     map[refKey]string
	refreshed time.Time
}

// MatchFinder answers "which event of this source corresponds to this
// reference event" from the persisted matched-event collections. Each
// source's index is rebuilt lazily once its refresh interval elapses, so
// matches produced by a separately running matcher become visible without
// any direct coupling.
type MatchFinder struct {
	mappings *Mappings
	interval time.Duration

	mu      sync.Mutex
	indexes map[string]*sourceIndex
}

func NewMatchFinder(mappings *Mappings, refreshInterval time.Duration) *MatchFinder {
	return &MatchFinder{
		mappings: mappings,
		interval: refreshInterval,
		indexes:  make(map[string]*sourceIndex),
	}
}

// FindCorresponding resolves the reference event to this source's counterpart
// inside the given snapshot. Returns false when the pair is unknown or the
// counterpart is absent from the snapshot.
func (f *MatchFinder) FindCorresponding(source string, refEv *models.Event, snapshot map[string]*models.Event) (*models.Event, string, bool) {
	idx := f.index(source)

	otherID, ok := idx[refKey{
		League:  refEv.League,
		Country: refEv.Country,
		Home:    refEv.HomeTeam,
		Away:    refEv.AwayTeam,
	}]
	if !ok {
		return nil, "", false
	}

	ev, ok := snapshot[otherID]
	if !ok {
		return nil, otherID, false
	}
	return ev, otherID, true
}

// Forget drops a pair from the persisted collection and forces a rebuild on
// the next lookup.
func (f *MatchFinder) Forget(source, refID, otherID string) {
	f.mappings.RemoveMatchedEvent(source, refID, otherID)

	f.mu.Lock()
	delete(f.indexes, source)
	f.mu.Unlock()
}

func (f *MatchFinder) index(source string) map[refKey]string {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx, ok := f.indexes[source]
	if ok && time.Since(idx.refreshed) < f.interval {
		return idx.byRef
	}

	byRef := make(map[refKey]string)
	for _, m := range f.mappings.LoadMatchedEvents(source) {
		byRef[refKey{
			League:  m.RefLeague,
			Country: m.Country,
			Home:    m.RefHomeTeam,
			Away:    m.RefAwayTeam,
		}] = m.OtherID
	}
	f.indexes[source] = &sourceIndex{byRef: byRef, refreshed: time.Now()}
	return byRef
}
