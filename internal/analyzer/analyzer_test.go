package analyzer

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/Vodeneev/valueradar/internal/matching"
	"github.com/Vodeneev/valueradar/internal/pkg/config"
	"github.com/Vodeneev/valueradar/internal/pkg/models"
)

func testAnalyzerConfig() config.AnalyzerConfig {
	return config.AnalyzerConfig{
		Margin:  1.08,
		MinOdds: 1.1,
		MaxOdds: 3.7,
		ExtraPercents: []config.ExtraPercentStep{
			{From: 2.29, To: 2.75, Percent: 1.03},
			{From: 2.75, To: 3.2, Percent: 1.04},
			{From: 3.2, To: 3.7, Percent: 1.05},
		},
		LiveMaxAge:     3 * time.Second,
		PrematchMaxAge: 30 * time.Second,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAnalyzer(t *testing.T) (*Analyzer, *matching.Mappings) {
	t.Helper()
	mappings, err := matching.NewMappings(t.TempDir(), "pinnacle")
	if err != nil {
		t.Fatalf("NewMappings: %v", err)
	}
	finder := matching.NewMatchFinder(mappings, 0)
	return NewAnalyzer(testAnalyzerConfig(), "pinnacle", finder, discardLogger()), mappings
}

func TestCalculateYield(t *testing.T) {
	a, _ := newTestAnalyzer(t)

	tests := []struct {
		name    string
		refOdds float64
		other   float64
		want    float64
	}{
		{"below every extra step", 2.0, 2.1, -2.7777777777777777},
		{"step boundary stays outside", 2.29, 2.29 * 1.08, 0},
		{"first extra step", 2.3, 2.3 * 1.08 * 1.03, 0},
		{"second extra step", 3.0, 3.0, -10.968660968660968},
		{"third extra step", 3.5, 3.969, 0},
	}
	for _, tt := range tests {
		if got := a.calculateYield(tt.refOdds, tt.other); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s: calculateYield(%v, %v) = %v, want %v", tt.name, tt.refOdds, tt.other, got, tt.want)
		}
	}
}

func TestValueKey(t *testing.T) {
	tests := []struct {
		line float64
		want string
	}{
		{2.5, "sansabet_o1_Total Over_2.5"},
		{2.50, "sansabet_o1_Total Over_2.5"},
		{0, "sansabet_o1_Total Over_0"},
		{-1.25, "sansabet_o1_Total Over_-1.25"},
	}
	for _, tt := range tests {
		if got := ValueKey("sansabet", "o1", "Total Over", tt.line); got != tt.want {
			t.Errorf("ValueKey line %v = %q, want %q", tt.line, got, tt.want)
		}
	}
}

func row(yield float64) *models.Value {
	return &models.Value{
		RefID:     "p1",
		OtherID:   "o1",
		Bookmaker: "sansabet",
		Outcome:   "1",
		Line:      0,
		Yield:     yield,
		Phase:     models.PhasePrematch,
	}
}

func TestValueTable_FirstPositiveStreak(t *testing.T) {
	table := NewValueTable()
	key := ValueKey("sansabet", "o1", "1", 0)

	table.Apply(row(5), 100)
	v := table.Snapshot()[key]
	if v.FirstSeen != 100 {
		t.Errorf("FirstSeen = %d, want 100", v.FirstSeen)
	}
	if v.FirstPositive == nil || *v.FirstPositive != 100 {
		t.Errorf("FirstPositive = %v, want 100", v.FirstPositive)
	}

	// Streak stays anchored while yield remains positive.
	table.Apply(row(2), 105)
	v = table.Snapshot()[key]
	if v.FirstPositive == nil || *v.FirstPositive != 100 {
		t.Errorf("streak must keep its start, got %v", v.FirstPositive)
	}

	// Any non-positive yield breaks the streak.
	table.Apply(row(-1), 110)
	v = table.Snapshot()[key]
	if v.FirstPositive != nil {
		t.Errorf("FirstPositive = %v, want nil after a negative yield", v.FirstPositive)
	}
	if v.FirstSeen != 100 {
		t.Errorf("FirstSeen must survive refreshes, got %d", v.FirstSeen)
	}

	// A new positive yield starts a new streak, not the old one.
	table.Apply(row(3), 120)
	v = table.Snapshot()[key]
	if v.FirstPositive == nil || *v.FirstPositive != 120 {
		t.Errorf("FirstPositive = %v, want 120", v.FirstPositive)
	}
}

func TestValueTable_ZeroYieldBreaksStreak(t *testing.T) {
	table := NewValueTable()
	key := ValueKey("sansabet", "o1", "1", 0)

	table.Apply(row(5), 100)
	table.Apply(row(0), 110)
	if v := table.Snapshot()[key]; v.FirstPositive != nil {
		t.Errorf("FirstPositive = %v, want nil at zero yield", v.FirstPositive)
	}
}

func TestValueTable_TargetedDeletion(t *testing.T) {
	table := NewValueTable()

	table.Apply(row(1), 100)
	other := row(1)
	other.OtherID = "o2"
	table.Apply(other, 100)
	foreign := row(1)
	foreign.RefID = "p9"
	foreign.OtherID = "o9"
	foreign.Bookmaker = "fonbet"
	table.Apply(foreign, 100)

	table.DeleteByEvent("sansabet", "o1")
	if table.Len() != 2 {
		t.Fatalf("got %d rows after DeleteByEvent, want 2", table.Len())
	}

	table.DeleteByRefID("p1")
	if table.Len() != 1 {
		t.Fatalf("got %d rows after DeleteByRefID, want 1", table.Len())
	}
	if _, ok := table.Snapshot()[ValueKey("fonbet", "o9", "1", 0)]; !ok {
		t.Error("unrelated row must survive")
	}
}

func TestValueTable_DeleteBySourceRef(t *testing.T) {
	table := NewValueTable()

	table.Apply(row(1), 100)
	foreign := row(1)
	foreign.Bookmaker = "fonbet"
	foreign.OtherID = "o9"
	table.Apply(foreign, 100)

	// Same reference event, but only one bookmaker's rows go.
	table.DeleteBySourceRef("sansabet", "p1")
	if table.Len() != 1 {
		t.Fatalf("got %d rows, want 1", table.Len())
	}
	if _, ok := table.Snapshot()[ValueKey("fonbet", "o9", "1", 0)]; !ok {
		t.Error("other bookmaker's row must survive")
	}
}

func TestValueTable_EvictStalePerPhase(t *testing.T) {
	table := NewValueTable()
	maxAge := func(phase string) int64 {
		if phase == models.PhaseLive {
			return 3
		}
		return 30
	}

	live := row(1)
	live.Phase = models.PhaseLive
	table.Apply(live, 100)
	pre := row(1)
	pre.OtherID = "o2"
	table.Apply(pre, 100)

	table.EvictStale(105, maxAge)
	if table.Len() != 1 {
		t.Fatalf("live row should be evicted at +5s, got %d rows", table.Len())
	}

	table.EvictStale(140, maxAge)
	if table.Len() != 0 {
		t.Fatalf("prematch row should be evicted at +40s, got %d rows", table.Len())
	}

	// Idempotent on an already-clean table.
	table.EvictStale(140, maxAge)
}

func TestOddsStore_DeleteRunsPurgeHook(t *testing.T) {
	var purged [][2]string
	store := NewOddsStore(func(source, id string) {
		purged = append(purged, [2]string{source, id})
	})

	store.Upsert("sansabet", &models.Event{ID: "o1", Phase: models.PhasePrematch, Sport: "Football", LastUpdate: 100})
	store.Delete("sansabet", "o1")
	store.Delete("sansabet", "o1") // unknown id now, no second purge

	if len(purged) != 1 || purged[0] != [2]string{"sansabet", "o1"} {
		t.Errorf("purge hook calls = %v, want one for sansabet/o1", purged)
	}
	if got := store.SourceSnapshot("sansabet", ""); len(got) != 0 {
		t.Errorf("event still present after delete: %v", got)
	}
}

func TestOddsStore_UpsertMovesAcrossPhases(t *testing.T) {
	store := NewOddsStore(nil)

	store.Upsert("sansabet", &models.Event{ID: "o1", Phase: models.PhasePrematch, Sport: "Football", LastUpdate: 100})
	store.Upsert("sansabet", &models.Event{ID: "o1", Phase: models.PhaseLive, Sport: "Football", LastUpdate: 110})

	snapshot := store.Snapshot()
	if n := len(snapshot["sansabet"][models.PhasePrematch]); n != 0 {
		t.Errorf("prematch bucket should be empty after the move, got %d sports", n)
	}
	if ev := snapshot["sansabet"][models.PhaseLive]["Football"]["o1"]; ev == nil || ev.LastUpdate != 110 {
		t.Errorf("live bucket should hold the updated event, got %v", ev)
	}
}

func TestOddsStore_EvictStaleIsIdempotent(t *testing.T) {
	calls := 0
	store := NewOddsStore(func(string, string) { calls++ })
	maxAge := func(phase string) int64 {
		if phase == models.PhaseLive {
			return 3
		}
		return 30
	}

	store.Upsert("sansabet", &models.Event{ID: "live1", Phase: models.PhaseLive, Sport: "Football", LastUpdate: 100})
	store.Upsert("sansabet", &models.Event{ID: "pre1", Phase: models.PhasePrematch, Sport: "Football", LastUpdate: 100})

	store.EvictStale(105, maxAge)
	if calls != 1 {
		t.Fatalf("got %d purges at +5s, want 1 (live only)", calls)
	}
	store.EvictStale(105, maxAge)
	if calls != 1 {
		t.Fatalf("repeat eviction must not purge again, got %d", calls)
	}
	store.EvictStale(140, maxAge)
	if calls != 2 {
		t.Fatalf("got %d purges at +40s, want 2", calls)
	}
}

func matchedPair() models.MatchedEvent {
	return models.MatchedEvent{
		RefID:       "p1",
		OtherID:     "o1",
		RefHomeTeam: "Real Madrid",
		RefAwayTeam: "Barcelona",
		RefLeague:   "La Liga",
		Country:     "spain",
		Sport:       "Football",
	}
}

func refEvent(now int64) *models.Event {
	return &models.Event{
		ID:         "p1",
		HomeTeam:   "Real Madrid",
		AwayTeam:   "Barcelona",
		League:     "La Liga",
		Country:    "spain",
		Sport:      "Football",
		StartTime:  now + 3600,
		Phase:      models.PhasePrematch,
		LastUpdate: now,
		Outcomes: []models.Outcome{
			{Type: "1", Line: 0, Odds: 2.0},
			{Type: "X", Line: 0, Odds: 5.0},
			{Type: "2", Line: 0, Odds: 2.2},
		},
	}
}

func otherEvent(now int64) *models.Event {
	return &models.Event{
		ID:         "o1",
		HomeTeam:   "Real Madrid CF",
		AwayTeam:   "FC Barcelona",
		League:     "LaLiga",
		Country:    "spain",
		Sport:      "Football",
		StartTime:  now + 3600,
		Phase:      models.PhasePrematch,
		LastUpdate: now,
		Outcomes: []models.Outcome{
			{Type: "1", Line: 0, Odds: 2.1},
			{Type: "X", Line: 0, Odds: 5.2},
			{Type: "2", Line: 0, Odds: 2.0},
			{Type: "Total Over", Line: 2.5, Odds: 1.9},
		},
	}
}

func TestAnalyzeCycle(t *testing.T) {
	a, mappings := newTestAnalyzer(t)
	mappings.SaveMatchedEvents("sansabet", []models.MatchedEvent{matchedPair()})

	now := int64(1700000000)
	a.Store().Upsert("pinnacle", refEvent(now))
	a.Store().Upsert("sansabet", otherEvent(now))

	a.analyzeCycle(now)

	values := a.Values().Snapshot()
	if len(values) != 2 {
		t.Fatalf("got %d value rows, want 2 (X is out of band, Total Over has no reference price)", len(values))
	}

	v, ok := values[ValueKey("sansabet", "o1", "1", 0)]
	if !ok {
		t.Fatal("missing row for outcome 1")
	}
	if math.Abs(v.Yield-(-2.7777777777777777)) > 1e-9 {
		t.Errorf("yield = %v, want -2.777...", v.Yield)
	}
	if v.RefOdds != 2.0 || v.OtherOdds != 2.1 {
		t.Errorf("odds = %v/%v, want 2.0/2.1", v.RefOdds, v.OtherOdds)
	}
	if v.FirstSeen != now || v.Phase != models.PhasePrematch {
		t.Errorf("bookkeeping fields wrong: %+v", v)
	}

	select {
	case <-a.Updated():
	default:
		t.Error("analyze cycle with changes must raise the update signal")
	}
}

func TestAnalyzeCycle_DeletionsPurgeValues(t *testing.T) {
	a, mappings := newTestAnalyzer(t)
	mappings.SaveMatchedEvents("sansabet", []models.MatchedEvent{matchedPair()})

	now := int64(1700000000)
	a.Store().Upsert("pinnacle", refEvent(now))
	a.Store().Upsert("sansabet", otherEvent(now))
	a.analyzeCycle(now)

	a.Store().Delete("sansabet", "o1")
	if n := a.Values().Len(); n != 0 {
		t.Fatalf("other-event deletion left %d rows", n)
	}

	a.Store().Upsert("sansabet", otherEvent(now))
	a.analyzeCycle(now)
	a.Store().Delete("pinnacle", "p1")
	if n := a.Values().Len(); n != 0 {
		t.Fatalf("reference-event deletion left %d rows", n)
	}
}

func TestAnalyzeCycle_MissingCounterpartDropsRows(t *testing.T) {
	a, mappings := newTestAnalyzer(t)
	mappings.SaveMatchedEvents("sansabet", []models.MatchedEvent{matchedPair()})

	now := int64(1700000000)
	a.Store().Upsert("pinnacle", refEvent(now))

	// Rows exist for the pair but the counterpart never shows up in the
	// snapshot: the pair is still known, so the cycle deletes the rows
	// instead of waiting for them to age out.
	stale := row(1)
	a.Values().Apply(stale, now)
	// A second source must be present for the cycle to visit sansabet.
	a.Store().Upsert("sansabet", &models.Event{
		ID: "o2", HomeTeam: "A", AwayTeam: "B",
		Phase: models.PhasePrematch, Sport: "Football", LastUpdate: now,
		Outcomes: []models.Outcome{{Type: "1", Line: 0, Odds: 2.0}},
	})

	a.analyzeCycle(now)

	if _, ok := a.Values().Snapshot()[ValueKey("sansabet", "o1", "1", 0)]; ok {
		t.Error("rows of a vanished counterpart must be deleted by the cycle")
	}
}

func TestAnalyzeCycle_ForgottenPairDropsRows(t *testing.T) {
	// No matched pairs persisted at all: rows from a pair that was since
	// removed from the collection go away on the next cycle, not 30s later.
	a, _ := newTestAnalyzer(t)

	now := int64(1700000000)
	a.Store().Upsert("pinnacle", refEvent(now))
	a.Store().Upsert("sansabet", otherEvent(now))
	a.Values().Apply(row(1), now)

	a.analyzeCycle(now)

	if n := a.Values().Len(); n != 0 {
		t.Fatalf("unknown pair left %d rows", n)
	}
}
