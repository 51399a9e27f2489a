package matching

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Vodeneev/valueradar/internal/pkg/config"
	"github.com/Vodeneev/valueradar/internal/pkg/models"
)

// EventSource provides a consistent copy of the current event state,
// bucketed source -> phase -> sport -> event id.
type EventSource interface {
	Snapshot() map[string]map[string]map[string]map[string]*models.Event
}

type sourceStats struct {
	refTotal int
	matched  int
}

// Service periodically runs the matching passes for every configured source
// against the reference bookmaker's prematch events, and reports matching
// percentages to Telegram on a slower cadence. Live events are never
// matched; a pair is always discovered prematch and survives into live play
// through the persisted collection.
type Service struct {
	cfg       config.MatcherConfig
	reference string
	sources   []string
	store     EventSource
	pairers   map[string]*MatchPairer
	notifier  *Notifier
	logger    *slog.Logger

	mu    sync.Mutex
	stats map[string]sourceStats
}

func NewService(cfg config.MatcherConfig, reference string, sources []string, store EventSource, mappings *Mappings, notifier *Notifier, logger *slog.Logger) *Service {
	pairers := make(map[string]*MatchPairer, len(sources))
	for _, source := range sources {
		pairers[source] = NewMatchPairer(mappings, source, cfg)
	}

	return &Service{
		cfg:       cfg,
		reference: reference,
		sources:   sources,
		store:     store,
		pairers:   pairers,
		notifier:  notifier,
		logger:    logger,
		stats:     make(map[string]sourceStats),
	}
}

// Run drives the matching and report loops until the context is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	report := time.NewTicker(s.cfg.ReportInterval)
	defer report.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCycle()
		case <-report.C:
			s.sendReport()
		}
	}
}

func (s *Service) runCycle() {
	snapshot := s.store.Snapshot()

	refEvents := flattenPhase(snapshot[s.reference])
	if len(refEvents) == 0 {
		return
	}

	for _, source := range s.sources {
		otherEvents := flattenPhase(snapshot[source])
		if len(otherEvents) == 0 {
			continue
		}

		started := time.Now()
		matched, unmatchedRef, _ := s.pairers[source].MatchEvents(refEvents, otherEvents)

		s.mu.Lock()
		s.stats[source] = sourceStats{
			refTotal: len(refEvents),
			matched:  len(refEvents) - len(unmatchedRef),
		}
		s.mu.Unlock()

		s.logger.Info("Matching cycle finished",
			"source", source,
			"new_matches", len(matched),
			"unmatched", len(unmatchedRef),
			"duration", time.Since(started))
	}
}

// sendReport posts the matched percentage per source.
func (s *Service) sendReport() {
	s.mu.Lock()
	sources := make([]string, 0, len(s.stats))
	for source := range s.stats {
		sources = append(sources, source)
	}
	sort.Strings(sources)

	var b strings.Builder
	b.WriteString("Matching report:\n")
	for _, source := range sources {
		st := s.stats[source]
		percent := 0.0
		if st.refTotal > 0 {
			percent = float64(st.matched) / float64(st.refTotal) * 100
		}
		fmt.Fprintf(&b, "%s: %d/%d (%.1f%%)\n", source, st.matched, st.refTotal, percent)
	}
	s.mu.Unlock()

	if len(sources) == 0 {
		return
	}

	s.logger.Info("Matching report", "sources", len(sources))
	s.notifier.Send(b.String())
}

// flattenPhase collapses one source's prematch buckets to id -> event.
func flattenPhase(phases map[string]map[string]map[string]*models.Event) map[string]*models.Event {
	flat := make(map[string]*models.Event)
	for _, byID := range phases[models.PhasePrematch] {
		for id, ev := range byID {
			flat[id] = ev
		}
	}
	return flat
}
