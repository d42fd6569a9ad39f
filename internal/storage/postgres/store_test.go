package postgres

import (
	"context"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/mentravox/mentravox/internal/history"
	"github.com/mentravox/mentravox/internal/settings"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func TestHistoryStore_AppendTurn(t *testing.T) {
	mock := newMock(t)
	store := &HistoryStore{db: mock}

	turn := history.Turn{
		Query:     "what time is it",
		Response:  "It is noon.",
		Timestamp: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
		HadPhoto:  true,
		PhotoRef:  "photo_abc",
	}

	mock.ExpectExec(`INSERT INTO chat_turns`).
		WithArgs("user-1", "2026-08-25", turn.Query, turn.Response, true, "photo_abc", turn.Timestamp).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := store.AppendTurn(context.Background(), "user-1", "2026-08-25", turn); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestHistoryStore_TurnsForDay(t *testing.T) {
	mock := newMock(t)
	store := &HistoryStore{db: mock}

	at := time.Date(2026, 8, 25, 9, 30, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT query, response, had_photo, photo_ref, created_at`).
		WithArgs("user-1", "2026-08-25").
		WillReturnRows(pgxmock.NewRows([]string{"query", "response", "had_photo", "photo_ref", "created_at"}).
			AddRow("first", "one", false, "", at).
			AddRow("second", "two", true, "photo_x", at.Add(time.Minute)))

	turns, err := store.TurnsForDay(context.Background(), "user-1", "2026-08-25")
	if err != nil {
		t.Fatalf("TurnsForDay: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("got %d turns, want 2", len(turns))
	}
	if turns[0].Query != "first" || turns[1].PhotoRef != "photo_x" {
		t.Errorf("unexpected turns: %+v", turns)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSettingsStore_GetDefaultsForUnknownUser(t *testing.T) {
	mock := newMock(t)
	store := &SettingsStore{db: mock}

	mock.ExpectQuery(`SELECT theme, chat_history_enabled, timezone`).
		WithArgs("ghost").
		WillReturnRows(pgxmock.NewRows([]string{"theme", "chat_history_enabled", "timezone"}))

	got, err := store.Get(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != settings.Default() {
		t.Errorf("Get unknown user = %+v, want defaults %+v", got, settings.Default())
	}
}

func TestSettingsStore_UpdateUpserts(t *testing.T) {
	mock := newMock(t)
	store := &SettingsStore{db: mock}

	mock.ExpectQuery(`SELECT theme, chat_history_enabled, timezone`).
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{"theme", "chat_history_enabled", "timezone"}).
			AddRow("dark", true, ""))

	mock.ExpectExec(`INSERT INTO user_settings`).
		WithArgs("user-1", "light", true, "Europe/Berlin").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	theme := "light"
	tz := "Europe/Berlin"
	got, err := store.Update(context.Background(), "user-1", settings.Patch{Theme: &theme, Timezone: &tz})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Theme != "light" || got.Timezone != "Europe/Berlin" || !got.ChatHistoryEnabled {
		t.Errorf("Update result = %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
