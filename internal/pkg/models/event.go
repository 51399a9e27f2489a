package models

// Event phases. Freshness thresholds differ between the two.
const (
	PhaseLive     = "live"
	PhasePrematch = "prematch"
)

// Outcome represents one priced betting line within an event.
// The pair (Type, Line) must be unique within the owning event.
type Outcome struct {
	Type string  `json:"type"`
	Line float64 `json:"line"`
	Odds float64 `json:"odds"`

	// Meta carries bookmaker-specific display identifiers (betOfferId,
	// criterion, path, line_id, period_number, ...) passed through to
	// downstream consumers. Never used for matching.
	Meta map[string]any `json:"meta,omitempty"`
}

// OutcomeKey identifies an outcome within an event.
// Line is compared by exact float equality on purpose: an epsilon here would
// silently change which lines are considered common between two sources.
type OutcomeKey struct {
	Type string
	Line float64
}

// Key returns the (type, line) identity of the outcome.
func (o Outcome) Key() OutcomeKey {
	return OutcomeKey{Type: o.Type, Line: o.Line}
}

// Event represents one sporting fixture as reported by one source.
// Events are replaced wholesale on each feed push and treated as immutable
// after ingestion.
type Event struct {
	ID         string    `json:"id"`
	HomeTeam   string    `json:"home_team"`
	AwayTeam   string    `json:"away_team"`
	League     string    `json:"league"`
	Country    string    `json:"country"`
	Sport      string    `json:"sport"`
	StartTime  int64     `json:"start_time"`
	Phase      string    `json:"type"`
	LastUpdate int64     `json:"time"`
	Outcomes   []Outcome `json:"outcomes"`
}

// OutcomesByKey returns the event's outcomes keyed by (type, line).
func (e *Event) OutcomesByKey() map[OutcomeKey]Outcome {
	m := make(map[OutcomeKey]Outcome, len(e.Outcomes))
	for _, o := range e.Outcomes {
		m[o.Key()] = o
	}
	return m
}
