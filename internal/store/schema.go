package store

const schema = `
CREATE TABLE IF NOT EXISTS signals (
	id TEXT PRIMARY KEY,
	pair TEXT NOT NULL,
	timeframe TEXT NOT NULL,
	generated_at TEXT NOT NULL,
	action TEXT NOT NULL,
	confidence REAL NOT NULL,
	strength TEXT NOT NULL,
	entry_price TEXT NOT NULL,
	stop_loss TEXT,
	take_profit TEXT,
	risk_reward_ratio TEXT,
	market_condition TEXT NOT NULL,
	source TEXT NOT NULL,
	model_version TEXT,
	factors_json TEXT NOT NULL,
	status TEXT NOT NULL,
	expires_at TEXT NOT NULL,
	triggered_at TEXT,
	triggered_price TEXT,
	actual_outcome TEXT NOT NULL,
	archived INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_signals_pair_tf_gen ON signals(pair, timeframe, generated_at DESC);

CREATE TABLE IF NOT EXISTS signal_changes (
	id TEXT PRIMARY KEY,
	pair TEXT NOT NULL,
	timeframe TEXT NOT NULL,
	old_action TEXT,
	new_action TEXT NOT NULL,
	old_confidence REAL,
	new_confidence REAL NOT NULL,
	strength TEXT NOT NULL,
	market_condition TEXT NOT NULL,
	detected_at TEXT NOT NULL,
	notified_at TEXT,
	notified_subscribers_json TEXT NOT NULL DEFAULT '[]',
	archived INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_changes_pair_tf_det ON signal_changes(pair, timeframe, detected_at DESC);
`
