package models

// Value represents one value-table row: the current yield of one common
// outcome between the reference bookmaker and another bookmaker.
type Value struct {
	RefID     string `json:"pinnacle_id"`
	OtherID   string `json:"other_id"`
	Bookmaker string `json:"bookmaker"`

	HomeTeam  string `json:"home_team"`
	AwayTeam  string `json:"away_team"`
	OtherHome string `json:"home_team_other"`
	OtherAway string `json:"away_team_other"`

	Outcome string  `json:"outcome"`
	Line    float64 `json:"line"`

	RefOdds   float64 `json:"pinnacle_odds"`
	OtherOdds float64 `json:"other_odds"`
	Yield     float64 `json:"yield"`

	// FirstSeen is when this outcome was first observed.
	// FirstPositive tracks the start of the current unbroken positive-yield
	// streak, not the first-ever positive sighting: it is cleared the moment
	// yield drops to zero or below.
	FirstSeen     int64  `json:"start_time"`
	FirstPositive *int64 `json:"positive_start_time"`
	LastUpdate    int64  `json:"last_update_time"`

	MatchStartTime int64  `json:"match_start_time"`
	Sport          string `json:"sport"`
	League         string `json:"league"`
	RefLeague      string `json:"league_pin"`
	Country        string `json:"country"`
	Phase          string `json:"type_event"`

	RefMeta   map[string]any `json:"pinnacle_meta,omitempty"`
	OtherMeta map[string]any `json:"other_meta,omitempty"`
}
