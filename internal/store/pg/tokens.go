package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"crewdesk.io/internal/qrtoken"
)

// TokenStore implements qrtoken.Service on Postgres. Rotation runs in a
// serializable transaction so concurrent issuers cannot leave two active
// tokens behind.
type TokenStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ qrtoken.Service = (*TokenStore)(nil)

const tokenColumns = `value, sequence_number, valid_from, valid_to, status, usage_count, coalesce(created_by, ''), created_at`

// pruneSQL keeps only the most recent tokens by creation order, matching
// the in-memory issuer's retention rule.
const pruneSQL = `
	delete from qr_tokens
	where value not in (
		select value from qr_tokens
		order by created_at desc, sequence_number desc
		limit 10
	)`

func (s *TokenStore) Generate(ctx context.Context, validity time.Duration, createdBy string) (qrtoken.Token, error) {
	if validity <= 0 {
		validity = qrtoken.DefaultValidity
	}
	value, err := qrtoken.NewTokenValue()
	if err != nil {
		return qrtoken.Token{}, err
	}
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return qrtoken.Token{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// Highest existing sequence, read back as a typed integer. Rows without
	// one contribute nothing to the maximum.
	var maxSeq int64
	if err := tx.QueryRowContext(ctx,
		`select coalesce(max(sequence_number), 0) from qr_tokens`,
	).Scan(&maxSeq); err != nil {
		return qrtoken.Token{}, err
	}

	tok := qrtoken.Token{
		Value:          value,
		SequenceNumber: maxSeq + 1,
		ValidFrom:      now,
		ValidTo:        now.Add(validity),
		Status:         qrtoken.StatusActive,
		CreatedBy:      createdBy,
		CreatedAt:      now,
	}
	if _, err := tx.ExecContext(ctx, `
		insert into qr_tokens(value, sequence_number, valid_from, valid_to, status, usage_count, created_by, created_at)
		values ($1, $2, $3, $4, $5, 0, nullif($6, ''), $7)
	`, tok.Value, tok.SequenceNumber, tok.ValidFrom, tok.ValidTo, string(tok.Status), createdBy, tok.CreatedAt); err != nil {
		return qrtoken.Token{}, err
	}

	// Rotation pre-empts every other active token.
	if _, err := tx.ExecContext(ctx, `
		update qr_tokens set status = 'expired'
		where status = 'active' and value <> $1
	`, tok.Value); err != nil {
		return qrtoken.Token{}, err
	}

	if _, err := tx.ExecContext(ctx, pruneSQL); err != nil {
		return qrtoken.Token{}, err
	}

	if err := tx.Commit(); err != nil {
		return qrtoken.Token{}, err
	}
	return tok, nil
}

func (s *TokenStore) Current(ctx context.Context) (qrtoken.Token, error) {
	tok, err := s.scanOne(ctx, `
		select `+tokenColumns+` from qr_tokens
		where status = 'active'
		order by created_at desc
		limit 1
	`)
	if err != nil {
		return qrtoken.Token{}, err
	}
	now := s.now().UTC()
	if !now.Before(tok.ValidTo) {
		// Window elapsed between rotations; retire it on read.
		if _, err := s.db.ExecContext(ctx,
			`update qr_tokens set status = 'expired' where value = $1`, tok.Value,
		); err != nil {
			return qrtoken.Token{}, err
		}
		return qrtoken.Token{}, qrtoken.ErrNotFound
	}
	return tok, nil
}

func (s *TokenStore) Validate(ctx context.Context, value string) (qrtoken.Token, error) {
	tok, err := s.scanOne(ctx, `
		select `+tokenColumns+` from qr_tokens where value = $1
	`, value)
	if err != nil {
		return qrtoken.Token{}, err
	}
	if !tok.Usable(s.now().UTC()) {
		return tok, qrtoken.ErrExpired
	}
	return tok, nil
}

func (s *TokenStore) MarkUsed(ctx context.Context, value string) error {
	res, err := s.db.ExecContext(ctx,
		`update qr_tokens set usage_count = usage_count + 1 where value = $1`, value)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return qrtoken.ErrNotFound
	}
	return nil
}

func (s *TokenStore) CleanupExpired(ctx context.Context) (int, error) {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		update qr_tokens set status = 'expired'
		where status = 'active' and valid_to < $1
	`, now)
	if err != nil {
		return 0, err
	}
	expired, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if _, err := s.db.ExecContext(ctx, pruneSQL); err != nil {
		return int(expired), err
	}
	return int(expired), nil
}

func (s *TokenStore) scanOne(ctx context.Context, query string, args ...any) (qrtoken.Token, error) {
	var tok qrtoken.Token
	var status string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&tok.Value, &tok.SequenceNumber, &tok.ValidFrom, &tok.ValidTo,
		&status, &tok.UsageCount, &tok.CreatedBy, &tok.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return qrtoken.Token{}, qrtoken.ErrNotFound
	}
	if err != nil {
		return qrtoken.Token{}, err
	}
	tok.Status = qrtoken.Status(status)
	return tok, nil
}
