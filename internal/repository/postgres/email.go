// Package postgres implements the repository contracts against PostgreSQL
// through database/sql and lib/pq. The emails table doubles as the send
// queue: claiming uses FOR UPDATE SKIP LOCKED so that any number of worker
// processes share it without double-sends.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/dispatch/internal/domain"
	"github.com/ignite/dispatch/internal/queue"
)

// EmailRepo implements queue.Repository and the webhook processor's email
// store against PostgreSQL.
type EmailRepo struct{ db *sql.DB }

// NewEmailRepo creates a Postgres-backed email repository.
func NewEmailRepo(db *sql.DB) *EmailRepo { return &EmailRepo{db: db} }

const emailColumns = `
	id, team_id, api_key_id, domain_id, campaign_id, contact_id, template_id,
	"to", "from", cc, bcc, reply_to, subject, COALESCE(text,''), COALESCE(html,''),
	COALESCE(variables,'{}'), COALESCE(attachments,'[]'), status,
	COALESCE(provider_message_id,''), scheduled_at, opened_at, clicked_at,
	created_at, updated_at`

func (r *EmailRepo) Create(ctx context.Context, e *domain.Email) error {
	variables, err := json.Marshal(e.Variables)
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}
	attachments, err := json.Marshal(e.Attachments)
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO emails
			(id, team_id, api_key_id, domain_id, campaign_id, contact_id, template_id,
			 "to", "from", cc, bcc, reply_to, subject, text, html,
			 variables, attachments, status, scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, NOW(), NOW())
	`, e.ID, e.TeamID, e.APIKeyID, e.DomainID, e.CampaignID, e.ContactID, e.TemplateID,
		pq.Array(e.To), e.From, pq.Array(e.CC), pq.Array(e.BCC), pq.Array(e.ReplyTo),
		e.Subject, e.Text, e.HTML, variables, attachments, e.Status, e.ScheduledAt)
	if err != nil {
		return fmt.Errorf("create email: %w", err)
	}
	return nil
}

func scanEmail(scan func(...interface{}) error) (*domain.Email, error) {
	e := &domain.Email{}
	var (
		variables, attachments []byte
		to, cc, bcc, replyTo   pq.StringArray
	)
	err := scan(
		&e.ID, &e.TeamID, &e.APIKeyID, &e.DomainID, &e.CampaignID, &e.ContactID, &e.TemplateID,
		&to, &e.From, &cc, &bcc, &replyTo, &e.Subject, &e.Text, &e.HTML,
		&variables, &attachments, &e.Status,
		&e.ProviderMessageID, &e.ScheduledAt, &e.OpenedAt, &e.ClickedAt,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.To, e.CC, e.BCC, e.ReplyTo = to, cc, bcc, replyTo
	if len(variables) > 0 && string(variables) != "{}" {
		if err := json.Unmarshal(variables, &e.Variables); err != nil {
			return nil, fmt.Errorf("unmarshal variables: %w", err)
		}
	}
	if len(attachments) > 0 && string(attachments) != "[]" {
		if err := json.Unmarshal(attachments, &e.Attachments); err != nil {
			return nil, fmt.Errorf("unmarshal attachments: %w", err)
		}
	}
	return e, nil
}

func (r *EmailRepo) Get(ctx context.Context, teamID int64, id string) (*domain.Email, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+emailColumns+` FROM emails WHERE id = $1 AND team_id = $2`, id, teamID)
	e, err := scanEmail(row.Scan)
	if err == sql.ErrNoRows {
		return nil, queue.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get email: %w", err)
	}
	return e, nil
}

// ByID resolves an email without team scoping; webhook events carry no
// team context of their own.
func (r *EmailRepo) ByID(ctx context.Context, id string) (*domain.Email, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+emailColumns+` FROM emails WHERE id = $1`, id)
	e, err := scanEmail(row.Scan)
	if err == sql.ErrNoRows {
		return nil, queue.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get email by id: %w", err)
	}
	return e, nil
}

func (r *EmailRepo) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*domain.Email, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+emailColumns+` FROM emails WHERE provider_message_id = $1`, providerMessageID)
	e, err := scanEmail(row.Scan)
	if err == sql.ErrNoRows {
		return nil, queue.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get email by provider id: %w", err)
	}
	return e, nil
}

// ByProviderMessageID aliases GetByProviderMessageID for the webhook store.
func (r *EmailRepo) ByProviderMessageID(ctx context.Context, providerMessageID string) (*domain.Email, error) {
	return r.GetByProviderMessageID(ctx, providerMessageID)
}

func (r *EmailRepo) Events(ctx context.Context, emailID string) ([]domain.EmailEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, email_id, status, COALESCE(data,''), created_at
		FROM email_events
		WHERE email_id = $1
		ORDER BY created_at ASC
	`, emailID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []domain.EmailEvent
	for rows.Next() {
		var ev domain.EmailEvent
		if err := rows.Scan(&ev.ID, &ev.EmailID, &ev.Status, &ev.Data, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Claim moves due emails to SENDING inside one transaction. SKIP LOCKED
// keeps concurrent claimers from blocking on or double-claiming rows.
func (r *EmailRepo) Claim(ctx context.Context, limit int) ([]*domain.Email, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+emailColumns+`
		FROM emails
		WHERE (status = 'QUEUED' OR status = 'SCHEDULED')
		  AND (scheduled_at IS NULL OR scheduled_at <= NOW())
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("select due emails: %w", err)
	}

	var claimed []*domain.Email
	for rows.Next() {
		e, err := scanEmail(rows.Scan)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan due email: %w", err)
		}
		claimed = append(claimed, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(claimed) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]string, len(claimed))
	for i, e := range claimed {
		ids[i] = e.ID
		e.Status = domain.StatusSending
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE emails SET status = 'SENDING', updated_at = NOW()
		WHERE id = ANY($1)
	`, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("mark sending: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return claimed, nil
}

// Transition is the state machine guard in SQL: the row only moves when
// its current status is a legal predecessor of next. A rejected update is
// (false, nil), never an error.
func (r *EmailRepo) Transition(ctx context.Context, id string, next domain.EmailStatus) (bool, error) {
	preds := domain.LegalPredecessors(next)
	from := make([]string, 0, len(preds)+1)
	for _, p := range preds {
		from = append(from, string(p))
	}
	if domain.CanTransition(next, next) {
		from = append(from, string(next))
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE emails SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)
	`, next, id, pq.Array(from))
	if err != nil {
		return false, fmt.Errorf("transition email: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *EmailRepo) MarkSent(ctx context.Context, id, providerMessageID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE emails
		SET status = 'SENT', provider_message_id = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'SENDING'
	`, providerMessageID, id)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return queue.ErrNotFound
	}
	return nil
}

func (r *EmailRepo) Requeue(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE emails
		SET status = 'QUEUED', scheduled_at = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'SENDING'
	`, at, id)
	if err != nil {
		return fmt.Errorf("requeue email: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return queue.ErrNotFound
	}
	return nil
}

// ReleaseStuck requeues emails that have sat in SENDING longer than
// olderThan. A worker that dies between claim and provider send leaves
// such rows behind; the janitor sweeps them back to QUEUED.
func (r *EmailRepo) ReleaseStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE emails
		SET status = 'QUEUED', updated_at = NOW()
		WHERE status = 'SENDING' AND updated_at < NOW() - $1::interval
	`, fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("release stuck emails: %w", err)
	}
	return res.RowsAffected()
}

// Cancel distinguishes "not cancellable" from "not found" with a second
// existence probe so the API can answer 409 versus 404.
func (r *EmailRepo) Cancel(ctx context.Context, teamID int64, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE emails SET status = 'CANCELLED', updated_at = NOW()
		WHERE id = $1 AND team_id = $2 AND status IN ('QUEUED','SCHEDULED')
	`, id, teamID)
	if err != nil {
		return false, fmt.Errorf("cancel email: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		return true, nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM emails WHERE id = $1 AND team_id = $2)`,
		id, teamID).Scan(&exists); err != nil {
		return false, fmt.Errorf("probe email: %w", err)
	}
	if !exists {
		return false, queue.ErrNotFound
	}
	return false, nil
}

// RecordEvent relies on the (email_id, status) unique index: a duplicate
// insert is dropped by ON CONFLICT and reported as (false, nil).
func (r *EmailRepo) RecordEvent(ctx context.Context, ev *domain.EmailEvent) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO email_events (id, email_id, status, data, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email_id, status) DO NOTHING
	`, ev.ID, ev.EmailID, ev.Status, nullIfEmpty(ev.Data), ev.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("record event: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *EmailRepo) SetOpenedAt(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE emails SET opened_at = $1, updated_at = NOW()
		WHERE id = $2 AND opened_at IS NULL
	`, at, id)
	if err != nil {
		return false, fmt.Errorf("set opened_at: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *EmailRepo) SetClickedAt(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE emails SET clicked_at = $1, updated_at = NOW()
		WHERE id = $2 AND clicked_at IS NULL
	`, at, id)
	if err != nil {
		return false, fmt.Errorf("set clicked_at: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func nullIfEmpty(s string) interface{} {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
