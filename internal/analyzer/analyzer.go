package analyzer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Vodeneev/valueradar/internal/matching"
	"github.com/Vodeneev/valueradar/internal/pkg/config"
	"github.com/Vodeneev/valueradar/internal/pkg/models"
)

// Analyzer owns the odds store and the value table and keeps the second in
// sync with the first: every analyze cycle re-derives yields for all matched
// pairs from one consistent snapshot, and cleanup cycles evict whatever
// outlived its phase's freshness window.
type Analyzer struct {
	cfg       config.AnalyzerConfig
	reference string
	finder    *matching.MatchFinder
	logger    *slog.Logger

	store   *OddsStore
	values  *ValueTable
	updated chan struct{}
}

func NewAnalyzer(cfg config.AnalyzerConfig, reference string, finder *matching.MatchFinder, logger *slog.Logger) *Analyzer {
	a := &Analyzer{
		cfg:       cfg,
		reference: reference,
		finder:    finder,
		logger:    logger,
		values:    NewValueTable(),
		updated:   make(chan struct{}, 1),
	}
	a.store = NewOddsStore(a.onEventDelete)
	return a
}

func (a *Analyzer) Store() *OddsStore   { return a.store }
func (a *Analyzer) Values() *ValueTable { return a.values }

// Updated signals edge-triggered: one pending notification at most, raised
// whenever an analyze cycle changed the value table.
func (a *Analyzer) Updated() <-chan struct{} { return a.updated }

// Run drives the analyze and cleanup loops until the context is cancelled.
func (a *Analyzer) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		a.loop(ctx, a.cfg.AnalyzeInterval, func(now int64) {
			a.analyzeCycle(now)
		})
	}()
	go func() {
		defer wg.Done()
		a.loop(ctx, a.cfg.CleanupInterval, func(now int64) {
			a.store.EvictStale(now, a.maxAge)
			a.values.EvictStale(now, a.maxAge)
		})
	}()

	wg.Wait()
}

func (a *Analyzer) loop(ctx context.Context, interval time.Duration, step func(now int64)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			step(time.Now().Unix())
		}
	}
}

func (a *Analyzer) maxAge(phase string) int64 {
	if phase == models.PhaseLive {
		return int64(a.cfg.LiveMaxAge / time.Second)
	}
	return int64(a.cfg.PrematchMaxAge / time.Second)
}

// onEventDelete purges value rows derived from a deleted event. A reference
// event anchors rows across every bookmaker; another source's event only its
// own.
func (a *Analyzer) onEventDelete(source, id string) {
	if source == a.reference {
		a.values.DeleteByRefID(id)
	} else {
		a.values.DeleteByEvent(source, id)
	}
}

// analyzeCycle walks one store snapshot and refreshes the value table. When
// no counterpart is found for a reference event, the source's rows derived
// from it are deleted right away rather than left to age out.
func (a *Analyzer) analyzeCycle(now int64) {
	snapshot := a.store.Snapshot()
	refPhases := snapshot[a.reference]
	if len(refPhases) == 0 {
		return
	}

	changed := false
	for source, phases := range snapshot {
		if source == a.reference {
			continue
		}
		for phase, sports := range phases {
			refSports := refPhases[phase]
			for sport, refByID := range refSports {
				if sport == "" || sport == "unknown" {
					continue
				}
				otherByID := sports[sport]
				for _, refEv := range refByID {
					otherEv, _, ok := a.finder.FindCorresponding(source, refEv, otherByID)
					if !ok {
						// Covers both miss cases: pair unknown and
						// counterpart gone from the snapshot.
						a.values.DeleteBySourceRef(source, refEv.ID)
						continue
					}
					if a.analyzeMatch(source, refEv, otherEv, now) {
						changed = true
					}
				}
			}
		}
	}

	if changed {
		a.signal()
	}
}

// analyzeMatch rewrites the value rows for one matched pair: every common
// (type, line) outcome whose reference odds fall inside the configured band
// gets a fresh yield.
func (a *Analyzer) analyzeMatch(source string, refEv, otherEv *models.Event, now int64) bool {
	refOutcomes := refEv.OutcomesByKey()

	changed := false
	for _, outcome := range otherEv.Outcomes {
		refOut, ok := refOutcomes[outcome.Key()]
		if !ok {
			continue
		}
		if refOut.Odds < a.cfg.MinOdds || refOut.Odds > a.cfg.MaxOdds {
			continue
		}

		a.values.Apply(&models.Value{
			RefID:          refEv.ID,
			OtherID:        otherEv.ID,
			Bookmaker:      source,
			HomeTeam:       refEv.HomeTeam,
			AwayTeam:       refEv.AwayTeam,
			OtherHome:      otherEv.HomeTeam,
			OtherAway:      otherEv.AwayTeam,
			Outcome:        outcome.Type,
			Line:           outcome.Line,
			RefOdds:        refOut.Odds,
			OtherOdds:      outcome.Odds,
			Yield:          a.calculateYield(refOut.Odds, outcome.Odds),
			MatchStartTime: refEv.StartTime,
			Sport:          refEv.Sport,
			League:         otherEv.League,
			RefLeague:      refEv.League,
			Country:        refEv.Country,
			Phase:          refEv.Phase,
			RefMeta:        refOut.Meta,
			OtherMeta:      outcome.Meta,
		}, now)
		changed = true
	}
	return changed
}

// calculateYield measures the other bookmaker's price against the
// margin-adjusted reference price, in percent. Higher reference odds get an
// extra correction step.
func (a *Analyzer) calculateYield(refOdds, otherOdds float64) float64 {
	extra := 1.0
	for _, step := range a.cfg.ExtraPercents {
		if refOdds > step.From && refOdds <= step.To {
			extra = step.Percent
			break
		}
	}
	return (otherOdds/(refOdds*a.cfg.Margin*extra) - 1) * 100
}

func (a *Analyzer) signal() {
	select {
	case a.updated <- struct{}{}:
	default:
	}
}
