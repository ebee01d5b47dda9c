package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ignite/dispatch/internal/domain"
	"github.com/ignite/dispatch/internal/queue"
)

var emailTestColumns = []string{
	"id", "team_id", "api_key_id", "domain_id", "campaign_id", "contact_id", "template_id",
	"to", "from", "cc", "bcc", "reply_to", "subject", "text", "html",
	"variables", "attachments", "status",
	"provider_message_id", "scheduled_at", "opened_at", "clicked_at",
	"created_at", "updated_at",
}

func queuedEmailRow(id string) []driver.Value {
	now := time.Now()
	return []driver.Value{
		id, int64(1), nil, int64(7), nil, nil, nil,
		[]byte(`{user@example.com}`), "no-reply@example.com", nil, nil, nil,
		"Welcome", "hi", "<p>hi</p>",
		[]byte(`{}`), []byte(`[]`), "QUEUED",
		"", nil, nil, nil,
		now, now,
	}
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestEmailRepo_Claim(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEmailRepo(db)

	rows := sqlmock.NewRows(emailTestColumns).
		AddRow(queuedEmailRow("em-1")...).
		AddRow(queuedEmailRow("em-2")...)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM emails").
		WithArgs(10).
		WillReturnRows(rows)
	mock.ExpectExec("UPDATE emails SET status = 'SENDING'").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	claimed, err := repo.Claim(context.Background(), 10)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("Claim() returned %d emails, want 2", len(claimed))
	}
	for _, e := range claimed {
		if e.Status != domain.StatusSending {
			t.Errorf("claimed email %s status = %s, want SENDING", e.ID, e.Status)
		}
	}
	if claimed[0].To[0] != "user@example.com" {
		t.Errorf("claimed To = %v", claimed[0].To)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %s", err)
	}
}

func TestEmailRepo_ClaimEmpty(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEmailRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM emails").
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows(emailTestColumns))
	mock.ExpectCommit()

	claimed, err := repo.Claim(context.Background(), 10)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("Claim() returned %d emails, want 0", len(claimed))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %s", err)
	}
}

func TestEmailRepo_Transition(t *testing.T) {
	t.Run("legal move updates the row", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewEmailRepo(db)

		mock.ExpectExec("UPDATE emails SET status").
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := repo.Transition(context.Background(), "em-1", domain.StatusDelivered)
		if err != nil {
			t.Fatalf("Transition() error = %v", err)
		}
		if !ok {
			t.Error("Transition() = false, want true")
		}
	})

	t.Run("guarded move touches no row", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewEmailRepo(db)

		mock.ExpectExec("UPDATE emails SET status").
			WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := repo.Transition(context.Background(), "em-1", domain.StatusDelivered)
		if err != nil {
			t.Fatalf("Transition() error = %v", err)
		}
		if ok {
			t.Error("Transition() = true for a row the guard rejected")
		}
	})
}

func TestEmailRepo_MarkSent(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEmailRepo(db)

	mock.ExpectExec("UPDATE emails").
		WithArgs("ses-msg-1", "em-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkSent(context.Background(), "em-1", "ses-msg-1"); err != nil {
		t.Fatalf("MarkSent() error = %v", err)
	}

	mock.ExpectExec("UPDATE emails").
		WithArgs("ses-msg-2", "em-2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.MarkSent(context.Background(), "em-2", "ses-msg-2"); err != queue.ErrNotFound {
		t.Fatalf("MarkSent() on non-SENDING row error = %v, want ErrNotFound", err)
	}
}

func TestEmailRepo_Cancel(t *testing.T) {
	t.Run("cancellable", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewEmailRepo(db)

		mock.ExpectExec("UPDATE emails SET status = 'CANCELLED'").
			WithArgs("em-1", int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := repo.Cancel(context.Background(), 1, "em-1")
		if err != nil {
			t.Fatalf("Cancel() error = %v", err)
		}
		if !ok {
			t.Error("Cancel() = false, want true")
		}
	})

	t.Run("already sent", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewEmailRepo(db)

		mock.ExpectExec("UPDATE emails SET status = 'CANCELLED'").
			WithArgs("em-1", int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("em-1", int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		ok, err := repo.Cancel(context.Background(), 1, "em-1")
		if err != nil {
			t.Fatalf("Cancel() error = %v", err)
		}
		if ok {
			t.Error("Cancel() = true for an email past the queue")
		}
	})

	t.Run("not found", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewEmailRepo(db)

		mock.ExpectExec("UPDATE emails SET status = 'CANCELLED'").
			WithArgs("missing", int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("missing", int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		_, err := repo.Cancel(context.Background(), 1, "missing")
		if err != queue.ErrNotFound {
			t.Fatalf("Cancel() error = %v, want ErrNotFound", err)
		}
	})
}

func TestEmailRepo_RecordEvent(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEmailRepo(db)
	ev := &domain.EmailEvent{ID: "ev-1", EmailID: "em-1", Status: domain.StatusDelivered, CreatedAt: time.Now()}

	mock.ExpectExec("INSERT INTO email_events").
		WillReturnResult(sqlmock.NewResult(0, 1))

	inserted, err := repo.RecordEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("RecordEvent() error = %v", err)
	}
	if !inserted {
		t.Error("RecordEvent() = false on first insert")
	}

	// Duplicate (email_id, status) pairs fall into ON CONFLICT DO NOTHING.
	mock.ExpectExec("INSERT INTO email_events").
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err = repo.RecordEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("RecordEvent() duplicate error = %v", err)
	}
	if inserted {
		t.Error("RecordEvent() = true on duplicate insert")
	}
}

func TestEmailRepo_SetOpenedAt(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEmailRepo(db)
	at := time.Now()

	mock.ExpectExec("UPDATE emails SET opened_at").
		WithArgs(at, "em-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	first, err := repo.SetOpenedAt(context.Background(), "em-1", at)
	if err != nil {
		t.Fatalf("SetOpenedAt() error = %v", err)
	}
	if !first {
		t.Error("SetOpenedAt() = false on first open")
	}

	mock.ExpectExec("UPDATE emails SET opened_at").
		WithArgs(at, "em-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	first, err = repo.SetOpenedAt(context.Background(), "em-1", at)
	if err != nil {
		t.Fatalf("SetOpenedAt() error = %v", err)
	}
	if first {
		t.Error("SetOpenedAt() = true on repeat open")
	}
}

func TestEmailRepo_Get(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEmailRepo(db)

	mock.ExpectQuery("SELECT (.+) FROM emails WHERE id").
		WithArgs("em-1", int64(1)).
		WillReturnRows(sqlmock.NewRows(emailTestColumns).AddRow(queuedEmailRow("em-1")...))

	e, err := repo.Get(context.Background(), 1, "em-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if e.ID != "em-1" || e.Subject != "Welcome" {
		t.Errorf("Get() = %+v", e)
	}

	mock.ExpectQuery("SELECT (.+) FROM emails WHERE id").
		WithArgs("missing", int64(1)).
		WillReturnError(sql.ErrNoRows)

	if _, err := repo.Get(context.Background(), 1, "missing"); err != queue.ErrNotFound {
		t.Fatalf("Get() missing error = %v, want ErrNotFound", err)
	}
}
