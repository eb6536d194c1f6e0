package positions

const schema = `
CREATE TABLE IF NOT EXISTS positions (
	id TEXT PRIMARY KEY,
	subscriber_id TEXT NOT NULL,
	pair TEXT NOT NULL,
	direction TEXT NOT NULL,
	entry_price TEXT NOT NULL,
	stop_loss TEXT NOT NULL,
	take_profit TEXT NOT NULL,
	position_size TEXT NOT NULL,
	opened_at TEXT NOT NULL,
	status TEXT NOT NULL,
	closed_at TEXT,
	exit_price TEXT,
	realized_pnl_pips TEXT
);
CREATE INDEX IF NOT EXISTS idx_positions_status ON positions (status);
CREATE INDEX IF NOT EXISTS idx_positions_subscriber ON positions (subscriber_id, status);

CREATE TABLE IF NOT EXISTS position_monitoring (
	position_id TEXT NOT NULL,
	ts TEXT NOT NULL,
	current_price TEXT NOT NULL,
	unrealized_pnl_pips TEXT NOT NULL,
	trend_direction TEXT NOT NULL,
	reversal_probability REAL NOT NULL,
	recommendation TEXT NOT NULL,
	notification_level INTEGER NOT NULL,
	notification_sent INTEGER NOT NULL,
	PRIMARY KEY (position_id, ts)
);
CREATE INDEX IF NOT EXISTS idx_position_monitoring_level ON position_monitoring (position_id, notification_level, ts DESC);
`
