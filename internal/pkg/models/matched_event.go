package models

// MatchedEvent represents one reference-source event paired with its
// counterpart from another bookmaker. The (RefID, OtherID) pair is the dedup
// key; re-matching the same pair overwrites the stored record.
type MatchedEvent struct {
	RefID          string `json:"pinnacle_id"`
	OtherID        string `json:"other_id"`
	RefMatchName   string `json:"pinnacle_match_name"`
	OtherMatchName string `json:"other_match_name"`
	RefHomeTeam    string `json:"pinnacle_home_team"`
	RefAwayTeam    string `json:"pinnacle_away_team"`
	OtherHomeTeam  string `json:"other_home_team"`
	OtherAwayTeam  string `json:"other_away_team"`
	StartTime      int64  `json:"start_time"`
	RefLeague      string `json:"pinnacle_league"`
	OtherLeague    string `json:"other_league"`
	Country        string `json:"country"`
	Sport          string `json:"sport"`
}
