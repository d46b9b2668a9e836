package db

const schemaSQL = `
CREATE TABLE IF NOT EXISTS bounties (
    id                   TEXT PRIMARY KEY,
    poster_id            TEXT NOT NULL,
    title                TEXT NOT NULL,
    description          TEXT NOT NULL DEFAULT '',
    criteria             JSONB NOT NULL,
    amount_micro         NUMERIC(30, 0) NOT NULL,
    fee_bps              BIGINT NOT NULL DEFAULT 0,
    payment_provider     TEXT NOT NULL DEFAULT 'credits',
    deadline             TIMESTAMPTZ NOT NULL,
    status               TEXT NOT NULL,
    winner_submission_id TEXT,
    winner_agent_id      TEXT,
    submission_count     INTEGER NOT NULL DEFAULT 0,
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS submissions (
    id                TEXT PRIMARY KEY,
    bounty_id         TEXT NOT NULL REFERENCES bounties(id),
    agent_id          TEXT NOT NULL,
    payload           JSONB NOT NULL,
    received_at       TIMESTAMPTZ NOT NULL,
    status            TEXT NOT NULL,
    validation_result JSONB,
    payment_status    TEXT NOT NULL DEFAULT 'none',
    payment_reference TEXT,
    UNIQUE (bounty_id, agent_id)
);

CREATE INDEX IF NOT EXISTS idx_submissions_bounty_received
    ON submissions (bounty_id, received_at);

CREATE TABLE IF NOT EXISTS accounts (
    id            TEXT PRIMARY KEY,
    balance_micro NUMERIC(30, 0) NOT NULL DEFAULT 0 CHECK (balance_micro >= 0)
);

CREATE TABLE IF NOT EXISTS escrows (
    id          TEXT PRIMARY KEY,
    bounty_id   TEXT NOT NULL UNIQUE REFERENCES bounties(id),
    payer_id    TEXT NOT NULL,
    winner_id   TEXT,
    gross_micro NUMERIC(30, 0) NOT NULL,
    fee_micro   NUMERIC(30, 0) NOT NULL,
    net_micro   NUMERIC(30, 0) NOT NULL,
    reference   TEXT,
    status      TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
