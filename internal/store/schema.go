package store

// Schema notes:
//   - money columns are decimal strings (TEXT); floats never hold balances
//   - timestamps are unix seconds (INTEGER)
//   - the partial unique index on market_listings enforces "at most one
//     non-sold listing per instance"
//   - trade_items replaces the original's JSON-in-a-column item lists
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	username        TEXT    NOT NULL UNIQUE,
	password_digest TEXT    NOT NULL,
	balance         TEXT    NOT NULL,
	created_at      INTEGER NOT NULL,
	last_login      INTEGER NOT NULL DEFAULT 0,
	banned          INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS skin_definitions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT    NOT NULL,
	rarity     INTEGER NOT NULL,
	base_price TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS case_definitions (
	id    INTEGER PRIMARY KEY AUTOINCREMENT,
	name  TEXT    NOT NULL,
	price TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS case_contents (
	case_id       INTEGER NOT NULL REFERENCES case_definitions(id),
	definition_id INTEGER NOT NULL REFERENCES skin_definitions(id),
	PRIMARY KEY (case_id, definition_id)
);

CREATE TABLE IF NOT EXISTS skin_instances (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	definition_id INTEGER NOT NULL REFERENCES skin_definitions(id),
	rarity        INTEGER NOT NULL,
	wear          REAL    NOT NULL,
	pattern_seed  INTEGER NOT NULL,
	stattrak      INTEGER NOT NULL,
	owner_id      INTEGER NOT NULL REFERENCES users(id),
	acquired_at   INTEGER NOT NULL,
	tradable      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_instances_owner ON skin_instances(owner_id);

CREATE TABLE IF NOT EXISTS inventory (
	user_id     INTEGER NOT NULL REFERENCES users(id),
	instance_id INTEGER NOT NULL UNIQUE REFERENCES skin_instances(id),
	PRIMARY KEY (user_id, instance_id)
);
CREATE INDEX IF NOT EXISTS idx_inventory_user ON inventory(user_id);

CREATE TABLE IF NOT EXISTS market_listings (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	seller_id   INTEGER NOT NULL REFERENCES users(id),
	instance_id INTEGER NOT NULL REFERENCES skin_instances(id),
	price       TEXT    NOT NULL,
	listed_at   INTEGER NOT NULL,
	sold        INTEGER NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_listing_active ON market_listings(instance_id) WHERE sold = 0;
CREATE INDEX IF NOT EXISTS idx_listing_seller ON market_listings(seller_id, sold);

CREATE TABLE IF NOT EXISTS trades (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	from_user      INTEGER NOT NULL REFERENCES users(id),
	to_user        INTEGER NOT NULL REFERENCES users(id),
	offered_cash   TEXT    NOT NULL,
	requested_cash TEXT    NOT NULL,
	status         TEXT    NOT NULL,
	created_at     INTEGER NOT NULL,
	expires_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status);
CREATE INDEX IF NOT EXISTS idx_trades_from ON trades(from_user);
CREATE INDEX IF NOT EXISTS idx_trades_to ON trades(to_user);

CREATE TABLE IF NOT EXISTS trade_items (
	trade_id    INTEGER NOT NULL REFERENCES trades(id),
	side        INTEGER NOT NULL, -- 0 offered, 1 requested
	instance_id INTEGER NOT NULL REFERENCES skin_instances(id)
);
CREATE INDEX IF NOT EXISTS idx_trade_items ON trade_items(trade_id);

CREATE TABLE IF NOT EXISTS sessions (
	token         TEXT    PRIMARY KEY,
	user_id       INTEGER NOT NULL REFERENCES users(id),
	login_time    INTEGER NOT NULL,
	last_activity INTEGER NOT NULL,
	active        INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);

CREATE TABLE IF NOT EXISTS transaction_logs (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id   INTEGER NOT NULL REFERENCES users(id),
	kind      TEXT    NOT NULL,
	amount    TEXT    NOT NULL,
	ref_id    INTEGER NOT NULL DEFAULT 0,
	logged_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_txlog_user ON transaction_logs(user_id);

CREATE TABLE IF NOT EXISTS reports (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	reporter_id INTEGER NOT NULL REFERENCES users(id),
	reported_id INTEGER NOT NULL REFERENCES users(id),
	reason      TEXT    NOT NULL,
	open        INTEGER NOT NULL DEFAULT 1,
	filed_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reports_reported ON reports(reported_id, open);

CREATE TABLE IF NOT EXISTS wear_multipliers (
	band       TEXT PRIMARY KEY,
	low        REAL NOT NULL,
	high       REAL NOT NULL,
	multiplier TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS rarity_multipliers (
	rarity     INTEGER PRIMARY KEY,
	multiplier TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS price_history (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	definition_id INTEGER NOT NULL REFERENCES skin_definitions(id),
	side          INTEGER NOT NULL, -- 0 buy, 1 sell
	price         TEXT    NOT NULL,
	recorded_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_price_history_def ON price_history(definition_id);

CREATE TABLE IF NOT EXISTS quests (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id   INTEGER NOT NULL REFERENCES users(id),
	type      TEXT    NOT NULL,
	progress  TEXT    NOT NULL,
	target    TEXT    NOT NULL,
	completed INTEGER NOT NULL DEFAULT 0,
	claimed   INTEGER NOT NULL DEFAULT 0,
	UNIQUE (user_id, type)
);

CREATE TABLE IF NOT EXISTS achievements (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id  INTEGER NOT NULL REFERENCES users(id),
	type     TEXT    NOT NULL,
	unlocked INTEGER NOT NULL DEFAULT 0,
	claimed  INTEGER NOT NULL DEFAULT 0,
	UNIQUE (user_id, type)
);

CREATE TABLE IF NOT EXISTS login_streaks (
	user_id          INTEGER PRIMARY KEY REFERENCES users(id),
	streak           INTEGER NOT NULL,
	last_login_date  TEXT    NOT NULL,
	last_reward_date TEXT    NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS chat_messages (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL DEFAULT 0,
	text    TEXT    NOT NULL,
	sent_at INTEGER NOT NULL
);
`

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	if err := s.seedMultipliers(); err != nil {
		return err
	}
	return s.seedCatalog()
}
