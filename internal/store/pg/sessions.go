package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/session"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/tenant"
)

// Sessions is the session.Repository. Rotation is a conditional update of
// the parent plus the child insert in one transaction; a unique index on
// (chain_id, generation) backs it up.
type Sessions struct {
	db *sql.DB
}

var _ session.Repository = (*Sessions)(nil)

const sessionColumns = `id, chain_id, parent_id, replaced_by, generation, user_id, tenant_id, device_id,
	token_hash, issued_at, expires_at, replaced_at, revoked_at, revoke_reason, requested_by`

const insertSession = `
	insert into refresh_sessions (id, chain_id, parent_id, generation, user_id, tenant_id, device_id,
		token_hash, issued_at, expires_at)
	values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

func insertArgs(s session.Session) []any {
	return []any{
		s.ID, s.ChainID, nullIfEmpty(s.ParentID), s.Generation, s.UserID, s.TenantID.String(), s.DeviceID,
		s.TokenHash, s.IssuedAt.UTC(), s.ExpiresAt.UTC(),
	}
}

func (r *Sessions) Create(ctx context.Context, s session.Session) error {
	if r.db == nil {
		return errNoDB
	}
	if _, err := r.db.ExecContext(ctx, insertSession, insertArgs(s)...); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("session %s: duplicate", s.ID)
		}
		return err
	}
	return nil
}

func (r *Sessions) ByID(ctx context.Context, id string) (session.Session, error) {
	return r.one(ctx, `select `+sessionColumns+` from refresh_sessions where id = $1`, id)
}

func (r *Sessions) ByHash(ctx context.Context, tokenHash string) (session.Session, error) {
	return r.one(ctx, `select `+sessionColumns+` from refresh_sessions where token_hash = $1`, tokenHash)
}

func (r *Sessions) one(ctx context.Context, query, arg string) (session.Session, error) {
	if r.db == nil {
		return session.Session{}, errNoDB
	}
	s, err := scanSession(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, session.ErrNotFound
	}
	return s, err
}

func (r *Sessions) Replace(ctx context.Context, parentID string, child session.Session, at time.Time) error {
	if r.db == nil {
		return errNoDB
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update refresh_sessions
		set replaced_by = $2, replaced_at = $3
		where id = $1 and replaced_by is null and revoked_at is null and expires_at > $3
	`, parentID, child.ID, at.UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return session.ErrConflict
	}

	if _, err := tx.ExecContext(ctx, insertSession, insertArgs(child)...); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return session.ErrConflict
			case pgErrForeignKeyViolation:
				return session.ErrNotFound
			}
		}
		return err
	}
	return tx.Commit()
}

func (r *Sessions) RevokeChain(ctx context.Context, chainID string, fromGeneration int, rev session.Revocation, at time.Time) (int, error) {
	if r.db == nil {
		return 0, errNoDB
	}
	res, err := r.db.ExecContext(ctx, `
		update refresh_sessions
		set revoked_at = $3, revoke_reason = $4, requested_by = $5
		where chain_id = $1 and generation >= $2 and revoked_at is null
	`, chainID, fromGeneration, at.UTC(), rev.Reason, nullIfEmpty(rev.RequestedBy))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *Sessions) Chain(ctx context.Context, chainID string) ([]session.Session, error) {
	if r.db == nil {
		return nil, errNoDB
	}
	rows, err := r.db.QueryContext(ctx, `
		select `+sessionColumns+` from refresh_sessions
		where chain_id = $1
		order by generation asc
	`, chainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, session.ErrNotFound
	}
	return out, nil
}

func (r *Sessions) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	if r.db == nil {
		return 0, errNoDB
	}
	res, err := r.db.ExecContext(ctx, `
		delete from refresh_sessions
		where chain_id in (
			select chain_id from refresh_sessions
			group by chain_id
			having max(expires_at) < $1
		)
	`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (session.Session, error) {
	var (
		s                     session.Session
		tenantID              string
		parent, replacedBy    sql.NullString
		reason, requestedBy   sql.NullString
		replacedAt, revokedAt sql.NullTime
	)
	err := row.Scan(&s.ID, &s.ChainID, &parent, &replacedBy, &s.Generation, &s.UserID, &tenantID, &s.DeviceID,
		&s.TokenHash, &s.IssuedAt, &s.ExpiresAt, &replacedAt, &revokedAt, &reason, &requestedBy)
	if err != nil {
		return session.Session{}, err
	}
	s.TenantID = tenant.ID(tenantID)
	s.ParentID = parent.String
	s.ReplacedBy = replacedBy.String
	s.RevokeReason = reason.String
	s.RequestedBy = requestedBy.String
	s.IssuedAt = s.IssuedAt.UTC()
	s.ExpiresAt = s.ExpiresAt.UTC()
	s.ReplacedAt = timePtr(replacedAt)
	s.RevokedAt = timePtr(revokedAt)
	return s, nil
}
