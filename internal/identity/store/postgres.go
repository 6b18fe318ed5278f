package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"custodia/internal/identity/models"
	"custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
	txcontext "custodia/pkg/platform/tx"
)

// Postgres persists identity records in PostgreSQL. Id allocation locks the
// singleton counter row so ids stay dense under concurrent registration, and
// Execute locks the target row (SELECT ... FOR UPDATE) across validate and
// mutate.
type Postgres struct {
	db            *sql.DB
	maxIdentities int
}

// NewPostgres wraps an open database handle. The schema is managed by the
// embedded goose migrations (internal/platform/postgres).
func NewPostgres(db *sql.DB, maxIdentities int) *Postgres {
	return &Postgres{db: db, maxIdentities: maxIdentities}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) q(ctx context.Context) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// inTx runs fn inside the ambient transaction when one is threaded through
// the context, otherwise in a transaction of its own.
func (s *Postgres) inTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if tx, ok := txcontext.From(ctx); ok {
		return fn(ctx, tx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const identityColumns = `id, identity_hash, public_key, name, biometric_hash, owner, status,
	recovery_contacts, recovery_threshold, recovery_state, approvals, created_at, updated_at`

// Register allocates the next dense id under the counter row lock and inserts
// the record. The counter increment and the insert commit together or not at
// all.
func (s *Postgres) Register(ctx context.Context, identity *models.Identity) (domain.IdentityID, error) {
	var id domain.IdentityID
	err := s.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var next uint64
		row := tx.QueryRowContext(ctx, `SELECT next_id FROM identity_counters WHERE id = 1 FOR UPDATE`)
		if err := row.Scan(&next); err != nil {
			return fmt.Errorf("lock id counter: %w", err)
		}
		if int(next) >= s.maxIdentities {
			return sentinel.ErrCapacity
		}

		contacts, approvals, err := marshalPrincipalSets(identity)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO identities (`+identityColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`,
			next,
			identity.IdentityHash,
			identity.PublicKey,
			identity.Name,
			identity.BiometricHash,
			identity.Owner.String(),
			identity.Status,
			contacts,
			identity.RecoveryThreshold,
			string(identity.RecoveryState),
			approvals,
			identity.CreatedAt,
			identity.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return sentinel.ErrAlreadyUsed
			}
			return fmt.Errorf("insert identity: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE identity_counters SET next_id = $1 WHERE id = 1`, next+1); err != nil {
			return fmt.Errorf("advance id counter: %w", err)
		}

		id = domain.IdentityID(next)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Postgres) FindByID(ctx context.Context, id domain.IdentityID) (*models.Identity, error) {
	row := s.q(ctx).QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, uint64(id))
	return scanIdentity(row)
}

func (s *Postgres) FindByHash(ctx context.Context, hash []byte) (*models.Identity, error) {
	row := s.q(ctx).QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE identity_hash = $1`, hash)
	return scanIdentity(row)
}

func (s *Postgres) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.q(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM identities`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return n, nil
}

// Execute locks the record row, runs validate and mutate against the loaded
// record, and writes back the mutable columns. A validation failure rolls the
// transaction back with the record untouched.
func (s *Postgres) Execute(ctx context.Context, id domain.IdentityID, validate func(*models.Identity) error, mutate func(*models.Identity)) (*models.Identity, error) {
	var updated *models.Identity
	err := s.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1 FOR UPDATE`, uint64(id))
		record, err := scanIdentity(row)
		if err != nil {
			return err
		}

		if err := validate(record); err != nil {
			return err
		}
		mutate(record)

		_, approvals, err := marshalPrincipalSets(record)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE identities
			SET public_key = $2, name = $3, owner = $4, status = $5,
				recovery_state = $6, approvals = $7, updated_at = $8
			WHERE id = $1
		`,
			uint64(record.ID),
			record.PublicKey,
			record.Name,
			record.Owner.String(),
			record.Status,
			string(record.RecoveryState),
			approvals,
			record.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update identity: %w", err)
		}

		updated = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RecordUpdate overwrites the latest-update slot for the identity.
func (s *Postgres) RecordUpdate(ctx context.Context, entry models.UpdateLog) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO identity_update_log (identity_id, update_name, update_timestamp, updater)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (identity_id) DO UPDATE
		SET update_name = EXCLUDED.update_name,
			update_timestamp = EXCLUDED.update_timestamp,
			updater = EXCLUDED.updater
	`, uint64(entry.IdentityID), entry.UpdateName, entry.UpdateTimestamp, entry.Updater.String())
	if err != nil {
		return fmt.Errorf("record update log: %w", err)
	}
	return nil
}

func (s *Postgres) FindUpdateLog(ctx context.Context, id domain.IdentityID) (models.UpdateLog, error) {
	var (
		entry   models.UpdateLog
		rawID   uint64
		updater string
	)
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT identity_id, update_name, update_timestamp, updater
		FROM identity_update_log WHERE identity_id = $1
	`, uint64(id))
	if err := row.Scan(&rawID, &entry.UpdateName, &entry.UpdateTimestamp, &updater); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.UpdateLog{}, sentinel.ErrNotFound
		}
		return models.UpdateLog{}, fmt.Errorf("find update log: %w", err)
	}
	entry.IdentityID = domain.IdentityID(rawID)
	entry.Updater = domain.Principal(updater)
	return entry, nil
}

// ConfigureAuthority claims the write-once authority slot.
func (s *Postgres) ConfigureAuthority(ctx context.Context, authority domain.Principal) error {
	res, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO registry_authority (id, authority, configured_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO NOTHING
	`, authority.String())
	if err != nil {
		return fmt.Errorf("configure authority: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("configure authority: %w", err)
	}
	if n == 0 {
		return sentinel.ErrAlreadyUsed
	}
	return nil
}

func (s *Postgres) Authority(ctx context.Context) (domain.Principal, error) {
	var authority string
	row := s.q(ctx).QueryRowContext(ctx, `SELECT authority FROM registry_authority WHERE id = 1`)
	if err := row.Scan(&authority); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", sentinel.ErrNotFound
		}
		return "", fmt.Errorf("read authority: %w", err)
	}
	return domain.Principal(authority), nil
}

func marshalPrincipalSets(identity *models.Identity) (contacts, approvals []byte, err error) {
	contacts, err = json.Marshal(identity.RecoveryContacts)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal recovery contacts: %w", err)
	}
	if identity.Approvals == nil {
		approvals = []byte(`[]`)
	} else {
		approvals, err = json.Marshal(identity.Approvals)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal approvals: %w", err)
		}
	}
	return contacts, approvals, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*models.Identity, error) {
	var (
		record    models.Identity
		rawID     uint64
		owner     string
		state     string
		contacts  []byte
		approvals []byte
	)
	err := row.Scan(
		&rawID,
		&record.IdentityHash,
		&record.PublicKey,
		&record.Name,
		&record.BiometricHash,
		&owner,
		&record.Status,
		&contacts,
		&record.RecoveryThreshold,
		&state,
		&approvals,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan identity: %w", err)
	}

	record.ID = domain.IdentityID(rawID)
	record.Owner = domain.Principal(owner)
	record.RecoveryState = models.RecoveryState(state)
	if err := json.Unmarshal(contacts, &record.RecoveryContacts); err != nil {
		return nil, fmt.Errorf("unmarshal recovery contacts: %w", err)
	}
	if err := json.Unmarshal(approvals, &record.Approvals); err != nil {
		return nil, fmt.Errorf("unmarshal approvals: %w", err)
	}
	if len(record.Approvals) == 0 {
		record.Approvals = nil
	}
	return &record, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
