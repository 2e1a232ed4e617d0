package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// Crypto is the subset of the crypto service the audit store needs.
type Crypto interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
	EncryptDeterministic(plaintext []byte, context string) ([]byte, error)
}

// emailKeyContext scopes the deterministic email ciphertexts to this table.
const emailKeyContext = "auth_audit_email"

// AuditStore writes the authentication trail. Emails and client IPs are
// encrypted before they reach the database.
type AuditStore struct {
	db     Database
	crypto Crypto
}

// NewAuditStore creates an AuditStore.
func NewAuditStore(db Database, crypto Crypto) *AuditStore {
	return &AuditStore{db: db, crypto: crypto}
}

// RecordEvent inserts one audit row. Empty email/ip are stored as NULL.
func (a *AuditStore) RecordEvent(ctx context.Context, event, appID, email, ip string) error {
	var emailEnc, emailKey, ipEnc []byte
	var err error

	if email != "" {
		emailEnc, err = a.crypto.Encrypt([]byte(email))
		if err != nil {
			return fmt.Errorf("encrypting email for audit: %w", err)
		}
		emailKey, err = a.emailKey(email)
		if err != nil {
			return fmt.Errorf("deriving email key for audit: %w", err)
		}
	}
	if ip != "" {
		ipEnc, err = a.crypto.Encrypt([]byte(ip))
		if err != nil {
			return fmt.Errorf("encrypting ip for audit: %w", err)
		}
	}

	_, err = a.db.Exec(ctx, `
		INSERT INTO auth_audit (event, app_id, email_encrypted, email_key, ip_encrypted)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5)`,
		event, appID, emailEnc, emailKey, ipEnc)
	if err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}
	return nil
}

// emailKey derives the deterministic lookup ciphertext for an email. The
// address is lowercased first so lookups are case-insensitive.
func (a *AuditStore) emailKey(email string) ([]byte, error) {
	return a.crypto.EncryptDeterministic([]byte(strings.ToLower(email)), emailKeyContext)
}

// Event is one decrypted audit row, as surfaced to operators.
type Event struct {
	Event     string
	AppID     string
	Email     string
	IP        string
	CreatedAt time.Time
}

// EventsForEmail returns the newest audit rows recorded for an email address,
// decrypted. Used by the operator audit lookup, which is also the subject
// access path for the stored trail.
func (a *AuditStore) EventsForEmail(ctx context.Context, email string, limit int) ([]Event, error) {
	emailKey, err := a.emailKey(email)
	if err != nil {
		return nil, fmt.Errorf("deriving email key for lookup: %w", err)
	}

	rows, err := a.db.Query(ctx, `
		SELECT event, COALESCE(app_id, ''), email_encrypted, ip_encrypted, created_at
		FROM auth_audit
		WHERE email_key = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		emailKey, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit rows: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var emailEnc, ipEnc []byte
		if err := rows.Scan(&ev.Event, &ev.AppID, &emailEnc, &ipEnc, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		if len(emailEnc) > 0 {
			plain, err := a.crypto.Decrypt(emailEnc)
			if err != nil {
				return nil, fmt.Errorf("decrypting audit email: %w", err)
			}
			ev.Email = string(plain)
		}
		if len(ipEnc) > 0 {
			plain, err := a.crypto.Decrypt(ipEnc)
			if err != nil {
				return nil, fmt.Errorf("decrypting audit ip: %w", err)
			}
			ev.IP = string(plain)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading audit rows: %w", err)
	}
	return events, nil
}

// PruneOlderThan deletes audit rows past the retention window and returns the
// number removed.
func (a *AuditStore) PruneOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := a.db.Exec(ctx,
		`DELETE FROM auth_audit WHERE created_at < NOW() - $1::interval`,
		fmt.Sprintf("%d seconds", int64(retention.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("pruning audit rows: %w", err)
	}
	return tag.RowsAffected(), nil
}

// TouchClientApp upserts the row for an app whose token just validated.
func (a *AuditStore) TouchClientApp(ctx context.Context, appID string) error {
	_, err := a.db.Exec(ctx, `
		INSERT INTO client_apps (app_id, login_count, last_seen)
		VALUES ($1, 1, NOW())
		ON CONFLICT (app_id) DO UPDATE
		SET login_count = client_apps.login_count + 1, last_seen = NOW()`,
		appID)
	if err != nil {
		return fmt.Errorf("touching client app %s: %w", appID, err)
	}
	return nil
}

// ClientAppDisabled reports whether an operator flagged the app inactive.
// Apps with no row yet are considered enabled; key-file presence is the
// primary gate.
func (a *AuditStore) ClientAppDisabled(ctx context.Context, appID string) (bool, error) {
	var active bool
	err := a.db.QueryRow(ctx,
		`SELECT active FROM client_apps WHERE app_id = $1`, appID).Scan(&active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("checking client app %s: %w", appID, err)
	}
	return !active, nil
}
