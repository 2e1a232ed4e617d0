package database

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Mock Database implementation for testing
type mockDatabase struct {
	queryRowFunc func(ctx context.Context, sql string, args ...interface{}) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	execFunc     func(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type mockRow struct {
	scanFunc func(dest ...interface{}) error
}

func (m mockRow) Scan(dest ...interface{}) error {
	if m.scanFunc != nil {
		return m.scanFunc(dest...)
	}
	return nil
}

func (m *mockDatabase) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return mockRow{}
}

func (m *mockDatabase) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return nil, errors.New("not implemented")
}

func (m *mockDatabase) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

func (m *mockDatabase) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, errors.New("not implemented")
}

// Mock crypto implementation for testing. Encryption prepends a marker so
// assertions can read the "ciphertext"; decryption strips it back off.
type mockCrypto struct {
	encryptFunc func(plaintext []byte) ([]byte, error)
	decryptFunc func(ciphertext []byte) ([]byte, error)
}

func (m *mockCrypto) Encrypt(plaintext []byte) ([]byte, error) {
	if m.encryptFunc != nil {
		return m.encryptFunc(plaintext)
	}
	return append([]byte("enc:"), plaintext...), nil
}

func (m *mockCrypto) Decrypt(ciphertext []byte) ([]byte, error) {
	if m.decryptFunc != nil {
		return m.decryptFunc(ciphertext)
	}
	return []byte(strings.TrimPrefix(string(ciphertext), "enc:")), nil
}

func (m *mockCrypto) EncryptDeterministic(plaintext []byte, context string) ([]byte, error) {
	return []byte("det:" + context + ":" + string(plaintext)), nil
}

func TestRecordEventEncryptsEmailAndIP(t *testing.T) {
	var gotSQL string
	var gotArgs []interface{}
	db := &mockDatabase{
		execFunc: func(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
			gotSQL = sql
			gotArgs = args
			return pgconn.NewCommandTag("INSERT 0 1"), nil
		},
	}
	store := NewAuditStore(db, &mockCrypto{})

	err := store.RecordEvent(context.Background(), "login_requested", "testapp", "user@example.com", "203.0.113.9")
	if err != nil {
		t.Fatalf("RecordEvent failed: %v", err)
	}

	if !strings.Contains(gotSQL, "INSERT INTO auth_audit") {
		t.Errorf("Unexpected SQL: %s", gotSQL)
	}
	if len(gotArgs) != 5 {
		t.Fatalf("Got %d args, want 5", len(gotArgs))
	}
	if gotArgs[0] != "login_requested" || gotArgs[1] != "testapp" {
		t.Errorf("Event/app args wrong: %v", gotArgs[:2])
	}
	if string(gotArgs[2].([]byte)) != "enc:user@example.com" {
		t.Error("Email should be stored encrypted")
	}
	if string(gotArgs[3].([]byte)) != "det:auth_audit_email:user@example.com" {
		t.Error("Deterministic email key should be stored for correlation")
	}
	if string(gotArgs[4].([]byte)) != "enc:203.0.113.9" {
		t.Error("Client IP should be stored encrypted")
	}
}

func TestRecordEventEmptyFieldsStayNil(t *testing.T) {
	var gotArgs []interface{}
	db := &mockDatabase{
		execFunc: func(_ context.Context, _ string, args ...interface{}) (pgconn.CommandTag, error) {
			gotArgs = args
			return pgconn.NewCommandTag("INSERT 0 1"), nil
		},
	}
	store := NewAuditStore(db, &mockCrypto{})

	if err := store.RecordEvent(context.Background(), "token_rejected", "", "", ""); err != nil {
		t.Fatalf("RecordEvent failed: %v", err)
	}
	if gotArgs[2] != nil && len(gotArgs[2].([]byte)) != 0 {
		t.Error("Empty email should not be encrypted")
	}
	if gotArgs[4] != nil && len(gotArgs[4].([]byte)) != 0 {
		t.Error("Empty IP should not be encrypted")
	}
}

func TestRecordEventEncryptFailure(t *testing.T) {
	db := &mockDatabase{}
	store := NewAuditStore(db, &mockCrypto{
		encryptFunc: func([]byte) ([]byte, error) { return nil, errors.New("key unavailable") },
	})

	err := store.RecordEvent(context.Background(), "login_requested", "testapp", "user@example.com", "")
	if err == nil {
		t.Error("Expected error when encryption fails")
	}
}

func TestPruneOlderThanReturnsRowCount(t *testing.T) {
	var gotArgs []interface{}
	db := &mockDatabase{
		execFunc: func(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
			if !strings.Contains(sql, "DELETE FROM auth_audit") {
				t.Errorf("Unexpected SQL: %s", sql)
			}
			gotArgs = args
			return pgconn.NewCommandTag("DELETE 42"), nil
		},
	}
	store := NewAuditStore(db, &mockCrypto{})

	removed, err := store.PruneOlderThan(context.Background(), 30*24*time.Hour)
	if err != nil {
		t.Fatalf("PruneOlderThan failed: %v", err)
	}
	if removed != 42 {
		t.Errorf("Removed = %d, want 42", removed)
	}
	if gotArgs[0] != "2592000 seconds" {
		t.Errorf("Interval arg = %v, want \"2592000 seconds\"", gotArgs[0])
	}
}

func TestClientAppDisabled(t *testing.T) {
	tests := []struct {
		name         string
		scanErr      error
		active       bool
		wantDisabled bool
		wantErr      bool
	}{
		{"active app", nil, true, false, false},
		{"disabled app", nil, false, true, false},
		{"no row means enabled", pgx.ErrNoRows, false, false, false},
		{"query failure", errors.New("connection refused"), false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &mockDatabase{
				queryRowFunc: func(_ context.Context, _ string, _ ...interface{}) pgx.Row {
					return mockRow{scanFunc: func(dest ...interface{}) error {
						if tt.scanErr != nil {
							return tt.scanErr
						}
						*(dest[0].(*bool)) = tt.active
						return nil
					}}
				},
			}
			store := NewAuditStore(db, &mockCrypto{})

			disabled, err := store.ClientAppDisabled(context.Background(), "testapp")
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ClientAppDisabled failed: %v", err)
			}
			if disabled != tt.wantDisabled {
				t.Errorf("Disabled = %v, want %v", disabled, tt.wantDisabled)
			}
		})
	}
}

// fakeRows feeds canned audit rows through the pgx.Rows interface.
type fakeRows struct {
	rows [][]interface{}
	idx  int
}

func (r *fakeRows) Next() bool {
	r.idx++
	return r.idx <= len(r.rows)
}

func (r *fakeRows) Scan(dest ...interface{}) error {
	row := r.rows[r.idx-1]
	*(dest[0].(*string)) = row[0].(string)
	*(dest[1].(*string)) = row[1].(string)
	*(dest[2].(*[]byte)) = row[2].([]byte)
	*(dest[3].(*[]byte)) = row[3].([]byte)
	*(dest[4].(*time.Time)) = row[4].(time.Time)
	return nil
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]interface{}, error)               { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func TestEventsForEmailDecryptsRows(t *testing.T) {
	now := time.Now()
	var gotArgs []interface{}
	db := &mockDatabase{
		queryFunc: func(_ context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
			if !strings.Contains(sql, "WHERE email_key = $1") {
				t.Errorf("Lookup should filter on the deterministic email key: %s", sql)
			}
			gotArgs = args
			return &fakeRows{rows: [][]interface{}{
				{"authenticated", "testapp", []byte("enc:user@example.com"), []byte("enc:203.0.113.9"), now},
				{"login_requested", "testapp", []byte("enc:user@example.com"), []byte(nil), now.Add(-time.Minute)},
			}}, nil
		},
	}
	store := NewAuditStore(db, &mockCrypto{})

	// Mixed case: the lookup key is derived from the lowercased address.
	events, err := store.EventsForEmail(context.Background(), "User@Example.com", 50)
	if err != nil {
		t.Fatalf("EventsForEmail failed: %v", err)
	}

	if string(gotArgs[0].([]byte)) != "det:auth_audit_email:user@example.com" {
		t.Errorf("Lookup key = %s, want the lowercased deterministic key", gotArgs[0])
	}
	if gotArgs[1] != 50 {
		t.Errorf("Limit arg = %v, want 50", gotArgs[1])
	}

	if len(events) != 2 {
		t.Fatalf("Got %d events, want 2", len(events))
	}
	if events[0].Event != "authenticated" || events[0].Email != "user@example.com" || events[0].IP != "203.0.113.9" {
		t.Errorf("First event not decrypted as expected: %+v", events[0])
	}
	if events[1].IP != "" {
		t.Errorf("Missing IP should stay empty, got %q", events[1].IP)
	}
}

func TestEventsForEmailDecryptFailure(t *testing.T) {
	db := &mockDatabase{
		queryFunc: func(_ context.Context, _ string, _ ...interface{}) (pgx.Rows, error) {
			return &fakeRows{rows: [][]interface{}{
				{"authenticated", "", []byte("garbage"), []byte(nil), time.Now()},
			}}, nil
		},
	}
	store := NewAuditStore(db, &mockCrypto{
		decryptFunc: func([]byte) ([]byte, error) { return nil, errors.New("bad ciphertext") },
	})

	if _, err := store.EventsForEmail(context.Background(), "user@example.com", 10); err == nil {
		t.Error("Expected error when a row cannot be decrypted")
	}
}

func TestTouchClientAppUpserts(t *testing.T) {
	var gotSQL string
	db := &mockDatabase{
		execFunc: func(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
			gotSQL = sql
			if args[0] != "testapp" {
				t.Errorf("App arg = %v, want testapp", args[0])
			}
			return pgconn.NewCommandTag("INSERT 0 1"), nil
		},
	}
	store := NewAuditStore(db, &mockCrypto{})

	if err := store.TouchClientApp(context.Background(), "testapp"); err != nil {
		t.Fatalf("TouchClientApp failed: %v", err)
	}
	if !strings.Contains(gotSQL, "ON CONFLICT (app_id) DO UPDATE") {
		t.Error("Touch should upsert so first-seen apps get a row")
	}
}
