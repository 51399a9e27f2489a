package feed

import (
	"io"
	"log/slog"
	"testing"

	"github.com/Vodeneev/valueradar/internal/pkg/models"
)

type recordingSink struct {
	upserts []*models.Event
	deletes []string
}

func (s *recordingSink) Upsert(source string, ev *models.Event) { s.upserts = append(s.upserts, ev) }
func (s *recordingSink) Delete(source, id string)               { s.deletes = append(s.deletes, id) }

func TestNormalize(t *testing.T) {
	valid := func() *models.Event {
		return &models.Event{
			HomeTeam: "Arsenal",
			AwayTeam: "Chelsea",
			Country:  "England",
			Outcomes: []models.Outcome{
				{Type: "1", Line: 0, Odds: 2.0},
				{Type: "1", Line: 0.5, Odds: 2.5},
			},
		}
	}

	t.Run("valid event is canonicalized", func(t *testing.T) {
		ev := valid()
		if err := normalize("e1", ev, 100); err != nil {
			t.Fatalf("normalize: %v", err)
		}
		if ev.ID != "e1" {
			t.Errorf("ID = %q, want e1", ev.ID)
		}
		if ev.Country != "england" {
			t.Errorf("Country = %q, want lowercase", ev.Country)
		}
		if ev.Phase != models.PhasePrematch {
			t.Errorf("Phase = %q, want prematch default", ev.Phase)
		}
		if ev.LastUpdate != 100 {
			t.Errorf("LastUpdate = %d, want stamped with now", ev.LastUpdate)
		}
	})

	t.Run("live phase survives", func(t *testing.T) {
		ev := valid()
		ev.Phase = models.PhaseLive
		if err := normalize("e1", ev, 100); err != nil {
			t.Fatalf("normalize: %v", err)
		}
		if ev.Phase != models.PhaseLive {
			t.Errorf("Phase = %q, want live", ev.Phase)
		}
	})

	t.Run("missing team names rejected", func(t *testing.T) {
		ev := valid()
		ev.AwayTeam = ""
		if err := normalize("e1", ev, 100); err == nil {
			t.Error("want error for missing away team")
		}
	})

	t.Run("duplicate outcome key rejected", func(t *testing.T) {
		ev := valid()
		ev.Outcomes = append(ev.Outcomes, models.Outcome{Type: "1", Line: 0, Odds: 3.0})
		if err := normalize("e1", ev, 100); err == nil {
			t.Error("want error for duplicate (type, line)")
		}
	})

	t.Run("same type different line allowed", func(t *testing.T) {
		ev := valid()
		if err := normalize("e1", ev, 100); err != nil {
			t.Errorf("distinct lines of one type must pass: %v", err)
		}
	})

	t.Run("implausible price rejected", func(t *testing.T) {
		ev := valid()
		ev.Outcomes[0].Odds = 1.0
		if err := normalize("e1", ev, 100); err == nil {
			t.Error("want error for decimal odds at or below 1.0")
		}
	})
}

func TestHandleMessage(t *testing.T) {
	sink := &recordingSink{}
	client := NewClient("sansabet", "ws://unused", sink, slog.New(slog.NewTextHandler(io.Discard, nil)))

	message := []byte(`{
		"e1": {"home_team": "Arsenal", "away_team": "Chelsea", "sport": "Football",
		       "outcomes": [{"type": "1", "line": 0, "odds": 2.0}]},
		"e2": null,
		"e3": {"home_team": "Lyon", "away_team": "Lille", "outcomes": []},
		"e4": {"home_team": "", "away_team": "Metz",
		       "outcomes": [{"type": "1", "line": 0, "odds": 2.0}]}
	}`)

	client.handleMessage(message)

	if len(sink.upserts) != 1 || sink.upserts[0].ID != "e1" {
		t.Errorf("upserts = %v, want only e1", sink.upserts)
	}
	// Null payloads and outcome-less events are deletions; invalid events
	// are dropped without touching the sink.
	if len(sink.deletes) != 2 {
		t.Errorf("deletes = %v, want e2 and e3", sink.deletes)
	}
}
