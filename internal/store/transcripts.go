package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/marketdesk/marketdesk/internal/errs"
)

// TranscriptsRepo persists earnings-call transcripts and their
// derivatives. Transcripts are immutable: Upsert refuses to overwrite an
// existing row unless force is set.
type TranscriptsRepo struct {
	g *Gateway
}

// Get returns the transcript for (ticker, quarter, fiscalYear).
func (r *TranscriptsRepo) Get(ctx context.Context, ticker, quarter string, fiscalYear int) (*Transcript, error) {
	ctx, cancel := r.g.withTimeout(ctx)
	defer cancel()

	var t Transcript
	err := r.g.db.GetContext(ctx, &t, r.g.rebind(
		`SELECT * FROM mcp_transcripts WHERE ticker = ? AND quarter = ? AND fiscal_year = ?`),
		ticker, quarter, fiscalYear)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Newf(errs.KindNotFound, "transcript %s %s FY%d not stored", ticker, quarter, fiscalYear)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Upsert stores a transcript. Existing rows are left untouched unless
// force is true; the stored text is the contract of record.
func (r *TranscriptsRepo) Upsert(ctx context.Context, t *Transcript, force bool) error {
	ctx, cancel := r.g.withTimeout(ctx)
	defer cancel()

	existing, err := r.Get(ctx, t.Ticker, t.Quarter, t.FiscalYear)
	if err != nil && !errs.IsKind(err, errs.KindNotFound) {
		return err
	}
	if existing != nil && !force {
		return errs.Newf(errs.KindInvalidInput,
			"transcript %s %s FY%d already stored; pass force to replace", t.Ticker, t.Quarter, t.FiscalYear)
	}

	now := r.g.now()
	if existing == nil {
		const insert = `
			INSERT INTO mcp_transcripts
				(ticker, quarter, fiscal_year, transcript_text, source_tag, source_url, word_count, fetched_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		args := []interface{}{
			t.Ticker, t.Quarter, t.FiscalYear, t.Text, t.SourceTag, t.SourceURL, t.WordCount, t.FetchedAt.UTC(), now, now,
		}

		// lib/pq does not implement LastInsertId; RETURNING is the
		// supported way to learn the new id on postgres.
		if r.g.driver == "postgres" {
			err := r.g.db.QueryRowxContext(ctx, r.g.rebind(insert+` RETURNING id`), args...).Scan(&t.ID)
			if err != nil {
				if isUniqueViolation(err) {
					// Raced with another writer; the stored row wins.
					return nil
				}
				return err
			}
			return nil
		}

		res, err := r.g.db.ExecContext(ctx, r.g.rebind(insert), args...)
		if err != nil {
			if isUniqueViolation(err) {
				// Raced with another writer; the stored row wins.
				return nil
			}
			return err
		}
		if id, err := res.LastInsertId(); err == nil {
			t.ID = id
		}
		return nil
	}

	_, err = r.g.db.ExecContext(ctx, r.g.rebind(`
		UPDATE mcp_transcripts SET
			transcript_text = ?, source_tag = ?, source_url = ?, word_count = ?, fetched_at = ?, updated_at = ?
		WHERE ticker = ? AND quarter = ? AND fiscal_year = ?`),
		t.Text, t.SourceTag, t.SourceURL, t.WordCount, t.FetchedAt.UTC(), now,
		t.Ticker, t.Quarter, t.FiscalYear)
	if err == nil {
		t.ID = existing.ID
	}
	return err
}

// ListByTicker returns all stored transcripts for a ticker, newest first.
func (r *TranscriptsRepo) ListByTicker(ctx context.Context, ticker string) ([]Transcript, error) {
	ctx, cancel := r.g.withTimeout(ctx)
	defer cancel()

	var out []Transcript
	err := r.g.db.SelectContext(ctx, &out, r.g.rebind(
		`SELECT * FROM mcp_transcripts WHERE ticker = ? ORDER BY fiscal_year DESC, quarter DESC`), ticker)
	return out, err
}

// GetDerivative returns the stored derivative for (transcriptID, kind, mode).
func (r *TranscriptsRepo) GetDerivative(ctx context.Context, transcriptID int64, kind, mode string) (*TranscriptDerivative, error) {
	ctx, cancel := r.g.withTimeout(ctx)
	defer cancel()

	var d TranscriptDerivative
	err := r.g.db.GetContext(ctx, &d, r.g.rebind(
		`SELECT * FROM mcp_transcript_derivatives WHERE transcript_id = ? AND kind = ? AND mode = ?`),
		transcriptID, kind, mode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Newf(errs.KindNotFound, "derivative %s/%s for transcript %d not stored", kind, mode, transcriptID)
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// UpsertDerivative stores a derivative, idempotent on (transcript, kind, mode).
// Derivatives are rebuildable, so overwrite is always allowed.
func (r *TranscriptsRepo) UpsertDerivative(ctx context.Context, d *TranscriptDerivative) error {
	ctx, cancel := r.g.withTimeout(ctx)
	defer cancel()

	now := r.g.now()
	_, err := r.g.db.ExecContext(ctx, r.g.rebind(`
		INSERT INTO mcp_transcript_derivatives (transcript_id, kind, mode, payload, model_tag, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (transcript_id, kind, mode) DO UPDATE SET
			payload = excluded.payload,
			model_tag = excluded.model_tag,
			updated_at = excluded.updated_at`),
		d.TranscriptID, d.Kind, d.Mode, string(d.Payload), d.ModelTag, now, now)
	return err
}

// DeleteDerivatives drops every derivative of a transcript. Used when a
// forced refresh replaces the base text.
func (r *TranscriptsRepo) DeleteDerivatives(ctx context.Context, transcriptID int64) error {
	ctx, cancel := r.g.withTimeout(ctx)
	defer cancel()

	_, err := r.g.db.ExecContext(ctx, r.g.rebind(
		`DELETE FROM mcp_transcript_derivatives WHERE transcript_id = ?`), transcriptID)
	return err
}
