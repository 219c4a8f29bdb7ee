package postgres

const queryGetEnabledForm = `
SELECT id, form_id, name, enabled
FROM forms
WHERE form_id = $1 AND enabled = true
`

const queryGetFormEndpoints = `
SELECT definition
FROM endpoints
WHERE form_pk = $1
ORDER BY position, created_at
`

const queryListForms = `
SELECT id, form_id, name, enabled
FROM forms
ORDER BY created_at
`

const queryGetSettings = `
SELECT rate_limit_enabled, rate_limit_max, rate_limit_window_seconds,
       retry_max, retry_delay_seconds,
       notify_on_failure, notify_email
FROM settings
ORDER BY updated_at DESC
LIMIT 1
`

// Schema is the full DDL for the relay's configuration tables. Endpoint
// definitions are stored as jsonb in the same shape the HTTP API uses.
const Schema = `
CREATE TABLE IF NOT EXISTS forms (
    id         UUID PRIMARY KEY,
    form_id    TEXT NOT NULL UNIQUE,
    name       TEXT NOT NULL DEFAULT '',
    enabled    BOOLEAN NOT NULL DEFAULT true,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS endpoints (
    id         UUID PRIMARY KEY,
    form_pk    UUID NOT NULL REFERENCES forms(id) ON DELETE CASCADE,
    definition JSONB NOT NULL,
    position   INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS endpoints_form_pk_idx ON endpoints(form_pk);

CREATE TABLE IF NOT EXISTS settings (
    id                        UUID PRIMARY KEY,
    rate_limit_enabled        BOOLEAN NOT NULL DEFAULT true,
    rate_limit_max            INTEGER NOT NULL DEFAULT 5,
    rate_limit_window_seconds INTEGER NOT NULL DEFAULT 3600,
    retry_max                 INTEGER NOT NULL DEFAULT 3,
    retry_delay_seconds       INTEGER NOT NULL DEFAULT 900,
    notify_on_failure         BOOLEAN NOT NULL DEFAULT false,
    notify_email              TEXT NOT NULL DEFAULT '',
    updated_at                TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
