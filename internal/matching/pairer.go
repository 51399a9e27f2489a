package matching

import (
	"log/slog"
	"sort"
	"strings"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"

	"github.com/Vodeneev/valueradar/internal/pkg/config"
	"github.com/Vodeneev/valueradar/internal/pkg/models"
)

const (
	sportTennis    = "Tennis"
	unknownCountry = "Unknown"
	unknownSport   = "Unknown"

	// timeBucketSeconds is the start-time rounding used when grouping
	// candidates: small clock skew between sources must not split a group.
	timeBucketSeconds = 600
	daySeconds        = 86400

	// Corroboration: two events sharing enough similarly-priced outcomes
	// are allowed a weaker name similarity.
	corroborationMinCommon = 4
	corroborationMaxOdds   = 4.0
	corroborationMargin    = 1.08
	corroborationSlack     = 1.05

	// Only aliases at least this similar to their canonical name are
	// persisted, to avoid poisoning the alias table with weak guesses.
	persistAliasThreshold = 85
)

type groupKey struct {
	Country string
	Bucket  int64
	League  string
	Sport   string
}

type groupMode int

const (
	groupByLeague groupMode = iota
	groupNoLeague
	groupByDay
)

type passKind int

const (
	passLeague passKind = iota
	passNoLeague
	passDay
)

// MatchPairer pairs reference-source events with one other source's events
// using grouping, fuzzy name similarity and an odds-shape corroboration
// heuristic, learning name aliases as it goes. It is sport and phase
// agnostic: callers hand it pre-filtered event maps.
type MatchPairer struct {
	mappings     *Mappings
	source       string
	leaguePass   config.PassThresholds
	noLeaguePass config.PassThresholds
	dayPass      config.PassThresholds
}

func NewMatchPairer(mappings *Mappings, source string, cfg config.MatcherConfig) *MatchPairer {
	return &MatchPairer{
		mappings:     mappings,
		source:       source,
		leaguePass:   cfg.LeaguePass,
		noLeaguePass: cfg.NoLeaguePass,
		dayPass:      cfg.DayPass,
	}
}

// MatchEvents runs the four matching passes over the unmatched residue and
// returns the new matches plus the two residual unmatched maps. Already-known
// pairs are excluded before the first pass. Side effects: alias mutations and
// the persisted matched/unmatched collections.
func (p *MatchPairer) MatchEvents(refEvents, otherEvents map[string]*models.Event) ([]models.MatchedEvent, map[string]*models.Event, map[string]*models.Event) {
	unmatchedRef := make(map[string]*models.Event, len(refEvents))
	for id, ev := range refEvents {
		unmatchedRef[id] = ev
	}
	unmatchedOther := make(map[string]*models.Event, len(otherEvents))
	for id, ev := range otherEvents {
		unmatchedOther[id] = ev
	}

	for _, known := range p.mappings.LoadMatchedEvents(p.source) {
		delete(unmatchedRef, known.RefID)
		delete(unmatchedOther, known.OtherID)
	}

	var matched []models.MatchedEvent

	refGroups := p.groupEvents(unmatchedRef, groupByLeague)
	otherGroups := p.groupEvents(unmatchedOther, groupByLeague)

	carryover := p.matchOnSingleTeam(refGroups, otherGroups, unmatchedRef, unmatchedOther)
	matched = append(matched, carryover...)
	removeMatched(unmatchedRef, unmatchedOther, carryover)

	leagueMatches := p.fuzzyPass(refGroups, otherGroups, unmatchedRef, unmatchedOther, passLeague)
	matched = append(matched, leagueMatches...)
	removeMatched(unmatchedRef, unmatchedOther, leagueMatches)

	refGroups = p.groupEvents(unmatchedRef, groupNoLeague)
	otherGroups = p.groupEvents(unmatchedOther, groupNoLeague)
	noLeagueMatches := p.fuzzyPass(refGroups, otherGroups, unmatchedRef, unmatchedOther, passNoLeague)
	matched = append(matched, noLeagueMatches...)
	removeMatched(unmatchedRef, unmatchedOther, noLeagueMatches)

	refGroups = p.groupEvents(unmatchedRef, groupByDay)
	otherGroups = p.groupEvents(unmatchedOther, groupByDay)
	dayMatches := p.fuzzyPass(refGroups, otherGroups, unmatchedRef, unmatchedOther, passDay)
	matched = append(matched, dayMatches...)
	removeMatched(unmatchedRef, unmatchedOther, dayMatches)

	p.mappings.SaveMatchedEvents(p.source, matched)
	p.mappings.SaveUnmatchedEvents(p.source, unmatchedRef, unmatchedOther)

	return matched, unmatchedRef, unmatchedOther
}

// groupEvents buckets events by canonicalized country, rounded start time,
// league (depending on mode) and sport. Tennis has no country axis and its
// league collapses to the tour.
func (p *MatchPairer) groupEvents(events map[string]*models.Event, mode groupMode) map[groupKey][]string {
	grouped := make(map[groupKey][]string)
	for id, ev := range events {
		country := ev.Country
		if country == "" {
			country = unknownCountry
		}
		country = p.mappings.GetCountry(p.source, strings.ToLower(country))

		league := p.mappings.GetLeague(p.source, ev.League)

		sport := ev.Sport
		if sport == "" {
			sport = unknownSport
		}
		if sport == sportTennis {
			league = tennisLeague(league)
			country = noCountry
		}

		key := groupKey{Country: country, Sport: sport}
		switch mode {
		case groupByLeague:
			key.Bucket = ev.StartTime - ev.StartTime%timeBucketSeconds
			key.League = league
		case groupNoLeague:
			key.Bucket = ev.StartTime - ev.StartTime%timeBucketSeconds
		case groupByDay:
			key.Bucket = ev.StartTime - ev.StartTime%daySeconds
			key.League = league
		}
		grouped[key] = append(grouped[key], id)
	}

	// Map iteration order is random; sorted groups keep pass results stable.
	for _, ids := range grouped {
		sort.Strings(ids)
	}
	return grouped
}

// tennisLeague collapses a raw tennis league name to its tour.
func tennisLeague(league string) string {
	l := strings.ToLower(league)
	switch {
	case strings.Contains(l, "wta"):
		return "WTA"
	case strings.Contains(l, "challenger"):
		return "Challenger"
	case strings.Contains(l, "atp"):
		return "ATP"
	case strings.Contains(l, "itf"):
		return "ITF"
	}
	return league
}

// matchOnSingleTeam fast-paths events whose home or away team already has a
// known alias resolving to a candidate's team name, without re-scoring.
// Tolerates one side's team name being temporarily unresolvable.
func (p *MatchPairer) matchOnSingleTeam(refGroups, otherGroups map[groupKey][]string, refEvents, otherEvents map[string]*models.Event) []models.MatchedEvent {
	var matches []models.MatchedEvent
	for _, key := range commonKeys(refGroups, otherGroups) {
		refGroup := append([]string(nil), refGroups[key]...)
		for _, refID := range refGroup {
			refEv := refEvents[refID]

			knownHome := p.mappings.GetTeam(p.source, key.Country, key.League, refEv.HomeTeam)
			knownAway := p.mappings.GetTeam(p.source, key.Country, key.League, refEv.AwayTeam)

			for _, otherID := range otherGroups[key] {
				otherEv := otherEvents[otherID]
				if (knownHome != "" && otherEv.HomeTeam == knownHome) ||
					(knownAway != "" && otherEv.AwayTeam == knownAway) {
					matches = append(matches, createMatch(refEv, otherEv))
					refGroups[key] = removeID(refGroups[key], refID)
					otherGroups[key] = removeID(otherGroups[key], otherID)
					break
				}
			}
		}
	}
	return matches
}

// fuzzyPass scores every candidate pair inside matching groups and greedily
// accepts the first one exceeding the pass threshold. The working sets are
// stable copies: matched ids are excluded explicitly, never mutated while
// iterating.
func (p *MatchPairer) fuzzyPass(refGroups, otherGroups map[groupKey][]string, refEvents, otherEvents map[string]*models.Event, pass passKind) []models.MatchedEvent {
	var matches []models.MatchedEvent
	matchedOther := make(map[string]bool)
	thresholds := p.thresholds(pass)

	for _, key := range commonKeys(refGroups, otherGroups) {
		for _, refID := range refGroups[key] {
			refEv, ok := refEvents[refID]
			if !ok {
				continue
			}

			for _, otherID := range otherGroups[key] {
				if matchedOther[otherID] {
					continue
				}
				otherEv, ok := otherEvents[otherID]
				if !ok {
					continue
				}

				otherHome, otherAway := otherEv.HomeTeam, otherEv.AwayTeam
				aliasLeague := refEv.League
				if pass == passLeague {
					aliasLeague = key.League
					otherHome, otherAway = p.mappedTeams(key.Country, key.League, otherEv)
				}

				similarity := p.similarity(refEv, otherHome, otherAway)

				threshold := thresholds.High
				if p.checkNoValueAndOutcomeCount(refEv, otherEv) {
					threshold = thresholds.Low
				}

				if similarity > threshold {
					matches = append(matches, createMatch(refEv, otherEv))
					matchedOther[otherID] = true
					p.learnAliases(key.Country, aliasLeague, refEv, otherEv)
					break
				}
			}
		}
	}
	return matches
}

func (p *MatchPairer) thresholds(pass passKind) config.PassThresholds {
	switch pass {
	case passNoLeague:
		return p.noLeaguePass
	case passDay:
		return p.dayPass
	default:
		return p.leaguePass
	}
}

// similarity scores a candidate pair 0..100. Tennis averages per-player
// comparisons; everything else compares the joined team names.
func (p *MatchPairer) similarity(refEv *models.Event, otherHome, otherAway string) int {
	if refEv.Sport == sportTennis {
		return (p.compareTennisNames(refEv.HomeTeam, otherHome) +
			p.compareTennisNames(refEv.AwayTeam, otherAway)) / 2
	}
	return fuzzy.Ratio(refEv.HomeTeam+" "+refEv.AwayTeam, otherHome+" "+otherAway)
}

// compareTennisNames normalizes player names for the known per-bookmaker
// conventions ("Last First" vs "F. Last", comma-swapped names) before
// scoring.
func (p *MatchPairer) compareTennisNames(refName, otherName string) int {
	processedRef := refName
	switch strings.ToLower(p.source) {
	case "sansabet":
		words := strings.Fields(refName)
		if len(words) > 1 {
			processedRef = strings.Join(words[1:], " ") + " " + firstLetter(words[0]) + "."
		}
	case "fonbet":
		words := strings.Fields(refName)
		if len(words) > 1 {
			last := words[0]
			otherWords := strings.Fields(otherName)
			if len(otherWords) > 0 && len([]rune(otherWords[len(otherWords)-1])) == 1 {
				last = firstLetter(last)
			}
			processedRef = strings.Join(words[1:], " ") + " " + last
		}
	}

	processedOther := otherName
	if strings.ToLower(p.source) == "admiralbet_me" {
		if i := strings.Index(otherName, ","); i >= 0 {
			lastName := strings.TrimSpace(otherName[:i])
			firstName := strings.TrimSpace(otherName[i+1:])
			processedOther = firstName + " " + lastName
		}
	}

	return fuzzy.Ratio(strings.ToLower(processedRef), strings.ToLower(processedOther))
}

func firstLetter(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return ""
	}
	return string(r[0])
}

// mappedTeams substitutes known team aliases for the other event's teams and
// re-persists aliases confident enough for the carryover pass to reuse.
func (p *MatchPairer) mappedTeams(country, league string, ev *models.Event) (string, string) {
	home, away := ev.HomeTeam, ev.AwayTeam
	if ev.Sport == sportTennis {
		home = stripTennisSuffixes(home)
		away = stripTennisSuffixes(away)
	}

	mappedHome := p.mappings.GetTeam(p.source, country, league, home)
	mappedAway := p.mappings.GetTeam(p.source, country, league, away)

	if fuzzy.Ratio(home, mappedHome) >= persistAliasThreshold {
		p.addTeamAlias(home, mappedHome, country, league)
	}
	if fuzzy.Ratio(away, mappedAway) >= persistAliasThreshold {
		p.addTeamAlias(away, mappedAway, country, league)
	}

	return mappedHome, mappedAway
}

func stripTennisSuffixes(name string) string {
	name = strings.ReplaceAll(name, " (Sets)", "")
	return strings.ReplaceAll(name, " (Games)", "")
}

func (p *MatchPairer) learnAliases(country, league string, refEv, otherEv *models.Event) {
	p.addTeamAlias(otherEv.HomeTeam, refEv.HomeTeam, country, league)
	p.addTeamAlias(otherEv.AwayTeam, refEv.AwayTeam, country, league)
	if err := p.mappings.AddMapping(p.source, CategoryLeagues, otherEv.League, refEv.League, country, ""); err != nil {
		slog.Error("Failed to add league mapping", "source", p.source, "error", err)
	}
}

func (p *MatchPairer) addTeamAlias(original, mapped, country, league string) {
	if err := p.mappings.AddMapping(p.source, CategoryTeams, original, mapped, country, league); err != nil {
		slog.Error("Failed to add team mapping", "source", p.source, "error", err)
	}
}

// checkNoValueAndOutcomeCount reports whether the two events share at least
// four common (type, line) outcomes priced under 4.0 on both sides, with no
// outcome showing an implausible mutual-value signal. When it holds, market
// shape corroborates the pairing and a lower name threshold applies.
func (p *MatchPairer) checkNoValueAndOutcomeCount(refEv, otherEv *models.Event) bool {
	refOutcomes := refEv.OutcomesByKey()
	otherOutcomes := otherEv.OutcomesByKey()

	var common []models.OutcomeKey
	for key := range refOutcomes {
		if _, ok := otherOutcomes[key]; ok {
			common = append(common, key)
		}
	}

	valid := 0
	for _, key := range common {
		if refOutcomes[key].Odds < corroborationMaxOdds && otherOutcomes[key].Odds < corroborationMaxOdds {
			valid++
		}
	}
	if valid < corroborationMinCommon {
		return false
	}

	for _, key := range common {
		refOdds, otherOdds := refOutcomes[key].Odds, otherOutcomes[key].Odds
		if refOdds < corroborationMaxOdds && otherOdds < corroborationMaxOdds {
			if refOdds*corroborationMargin*corroborationSlack < otherOdds {
				return false
			}
		}
	}
	return true
}

func createMatch(refEv, otherEv *models.Event) models.MatchedEvent {
	country := refEv.Country
	if country == "" {
		country = unknownCountry
	}
	sport := refEv.Sport
	if sport == "" {
		sport = unknownSport
	}

	return models.MatchedEvent{
		RefID:          refEv.ID,
		OtherID:        otherEv.ID,
		RefMatchName:   refEv.HomeTeam + " vs " + refEv.AwayTeam,
		OtherMatchName: otherEv.HomeTeam + " vs " + otherEv.AwayTeam,
		RefHomeTeam:    refEv.HomeTeam,
		RefAwayTeam:    refEv.AwayTeam,
		OtherHomeTeam:  otherEv.HomeTeam,
		OtherAwayTeam:  otherEv.AwayTeam,
		StartTime:      refEv.StartTime,
		RefLeague:      refEv.League,
		OtherLeague:    otherEv.League,
		Country:        country,
		Sport:          sport,
	}
}

func commonKeys(a, b map[groupKey][]string) []groupKey {
	var keys []groupKey
	for k := range a {
		if _, ok := b[k]; ok {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Country != keys[j].Country {
			return keys[i].Country < keys[j].Country
		}
		if keys[i].Bucket != keys[j].Bucket {
			return keys[i].Bucket < keys[j].Bucket
		}
		if keys[i].League != keys[j].League {
			return keys[i].League < keys[j].League
		}
		return keys[i].Sport < keys[j].Sport
	})
	return keys
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}

func removeMatched(refEvents, otherEvents map[string]*models.Event, matches []models.MatchedEvent) {
	for _, m := range matches {
		delete(refEvents, m.RefID)
		delete(otherEvents, m.OtherID)
	}
}
