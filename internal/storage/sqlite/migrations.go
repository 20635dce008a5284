package sqlite

import "database/sql"

// schema creates the ledger tables. Uniqueness, status enums and foreign keys
// are enforced here as well as in the engine so a bug above the store cannot
// commit a broken ledger.
// IMPORTANT: tables are ordered parent-first for the foreign keys.
const schema = `
CREATE TABLE IF NOT EXISTS groups (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    contribution_amount INTEGER NOT NULL CHECK (contribution_amount > 0),
    cadence TEXT NOT NULL CHECK (cadence IN ('weekly', 'biweekly', 'monthly')),
    capacity INTEGER NOT NULL CHECK (capacity >= 2),
    deposit_amount INTEGER NOT NULL DEFAULT 0 CHECK (deposit_amount >= 0),
    platform_fee_bps INTEGER NOT NULL DEFAULT 0 CHECK (platform_fee_bps >= 0 AND platform_fee_bps < 10000),
    penalty_type TEXT NOT NULL CHECK (penalty_type IN ('flat', 'percentage')),
    penalty_value INTEGER NOT NULL CHECK (penalty_value >= 0),
    grace_period_ms INTEGER NOT NULL CHECK (grace_period_ms >= 0),
    penalty_window_ms INTEGER NOT NULL CHECK (penalty_window_ms > 0),
    status TEXT NOT NULL CHECK (status IN ('forming', 'active', 'paused', 'completed', 'cancelled')),
    created_by TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    activated_at INTEGER,
    completed_at INTEGER
);

CREATE TABLE IF NOT EXISTS members (
    id TEXT PRIMARY KEY,
    group_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    display_name TEXT NOT NULL DEFAULT '',
    payout_destination TEXT NOT NULL DEFAULT '',
    position INTEGER NOT NULL DEFAULT 0 CHECK (position >= 0),
    status TEXT NOT NULL CHECK (status IN ('pending', 'active', 'suspended', 'removed')),
    joined_at INTEGER NOT NULL,
    qualified_at INTEGER,
    qualify_order INTEGER NOT NULL DEFAULT 0,
    UNIQUE (group_id, user_id),
    FOREIGN KEY (group_id) REFERENCES groups(id) ON DELETE CASCADE
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_members_position
    ON members(group_id, position) WHERE position > 0;

CREATE TABLE IF NOT EXISTS cycles (
    id TEXT PRIMARY KEY,
    group_id TEXT NOT NULL,
    sequence INTEGER NOT NULL CHECK (sequence >= 1),
    due_date INTEGER NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('open', 'collecting', 'ready', 'paid', 'closed')),
    created_at INTEGER NOT NULL,
    closed_at INTEGER,
    UNIQUE (group_id, sequence),
    FOREIGN KEY (group_id) REFERENCES groups(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS contributions (
    id TEXT PRIMARY KEY,
    cycle_id TEXT NOT NULL,
    group_id TEXT NOT NULL,
    member_id TEXT NOT NULL,
    amount INTEGER NOT NULL CHECK (amount > 0),
    status TEXT NOT NULL CHECK (status IN ('pending', 'paid', 'overdue', 'waived')),
    due_date INTEGER NOT NULL,
    paid_at INTEGER,
    payment_reference TEXT UNIQUE,
    UNIQUE (cycle_id, member_id),
    FOREIGN KEY (cycle_id) REFERENCES cycles(id) ON DELETE CASCADE,
    FOREIGN KEY (member_id) REFERENCES members(id)
);

CREATE TABLE IF NOT EXISTS penalties (
    id TEXT PRIMARY KEY,
    contribution_id TEXT NOT NULL,
    group_id TEXT NOT NULL,
    member_id TEXT NOT NULL,
    type TEXT NOT NULL CHECK (type IN ('flat', 'percentage')),
    amount INTEGER NOT NULL CHECK (amount >= 0),
    overdue_window INTEGER NOT NULL CHECK (overdue_window >= 0),
    status TEXT NOT NULL CHECK (status IN ('applied', 'paid', 'waived')),
    payment_reference TEXT UNIQUE,
    created_at INTEGER NOT NULL,
    UNIQUE (contribution_id, overdue_window),
    FOREIGN KEY (contribution_id) REFERENCES contributions(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS payouts (
    id TEXT PRIMARY KEY,
    cycle_id TEXT NOT NULL UNIQUE,
    group_id TEXT NOT NULL,
    member_id TEXT NOT NULL,
    gross INTEGER NOT NULL CHECK (gross >= 0),
    fee INTEGER NOT NULL CHECK (fee >= 0),
    amount INTEGER NOT NULL CHECK (amount >= 0),
    destination TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL CHECK (status IN ('pending', 'processing', 'completed', 'failed')),
    attempts INTEGER NOT NULL DEFAULT 0,
    transfer_seq INTEGER NOT NULL DEFAULT 1 CHECK (transfer_seq >= 1),
    transfer_id TEXT NOT NULL DEFAULT '',
    failure_reason TEXT NOT NULL DEFAULT '',
    next_attempt_at INTEGER,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    completed_at INTEGER,
    FOREIGN KEY (cycle_id) REFERENCES cycles(id) ON DELETE CASCADE,
    FOREIGN KEY (member_id) REFERENCES members(id)
);

CREATE TABLE IF NOT EXISTS gateway_callbacks (
    reference TEXT PRIMARY KEY,
    payout_id TEXT NOT NULL,
    status TEXT NOT NULL,
    received_at INTEGER NOT NULL,
    FOREIGN KEY (payout_id) REFERENCES payouts(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    group_id TEXT NOT NULL,
    cycle_id TEXT NOT NULL DEFAULT '',
    member_id TEXT NOT NULL DEFAULT '',
    kind TEXT NOT NULL CHECK (kind IN ('deposit', 'contribution', 'penalty', 'payout', 'fee')),
    source_id TEXT NOT NULL,
    amount INTEGER NOT NULL CHECK (amount >= 0),
    direction TEXT NOT NULL CHECK (direction IN ('in', 'out')),
    status TEXT NOT NULL CHECK (status IN ('pending', 'completed', 'failed')),
    reference TEXT NOT NULL UNIQUE,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    FOREIGN KEY (group_id) REFERENCES groups(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_members_group_id ON members(group_id);
CREATE INDEX IF NOT EXISTS idx_cycles_group_id ON cycles(group_id);
CREATE INDEX IF NOT EXISTS idx_contributions_cycle_id ON contributions(cycle_id);
CREATE INDEX IF NOT EXISTS idx_contributions_status_due ON contributions(status, due_date);
CREATE INDEX IF NOT EXISTS idx_penalties_group_id ON penalties(group_id);
CREATE INDEX IF NOT EXISTS idx_payouts_status ON payouts(status, next_attempt_at);
CREATE INDEX IF NOT EXISTS idx_transactions_group_id ON transactions(group_id);
CREATE INDEX IF NOT EXISTS idx_transactions_source ON transactions(kind, source_id);
`

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
