package database

// Schema is applied on startup. Statements are idempotent so every boot can
// run the full script.
const Schema = `
CREATE EXTENSION IF NOT EXISTS "uuid-ossp";

-- Client applications seen by the gateway. Rows are upserted when an app's
-- token first validates; operators can flip active to cut an app off without
-- touching its key file.
CREATE TABLE IF NOT EXISTS client_apps (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    app_id TEXT UNIQUE NOT NULL,
    active BOOLEAN DEFAULT true,
    login_count BIGINT DEFAULT 0,
    first_seen TIMESTAMPTZ DEFAULT NOW(),
    last_seen TIMESTAMPTZ DEFAULT NOW()
);

-- Authentication audit trail. Emails and client addresses are stored
-- encrypted; email_key is a deterministic ciphertext of the lowercased email
-- so equality lookups work without decryption and without exposing a bare
-- hash of the address.
CREATE TABLE IF NOT EXISTS auth_audit (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    event TEXT NOT NULL,
    app_id TEXT,
    email_encrypted BYTEA,
    email_key BYTEA,
    ip_encrypted BYTEA,
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_auth_audit_created ON auth_audit(created_at);
CREATE INDEX IF NOT EXISTS idx_auth_audit_email ON auth_audit(email_key);
`
