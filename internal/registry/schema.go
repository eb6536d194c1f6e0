package registry

const schema = `
CREATE TABLE IF NOT EXISTS subscriptions (
	subscriber_id TEXT NOT NULL,
	transport TEXT NOT NULL,
	pair TEXT NOT NULL,
	timeframe TEXT NOT NULL,
	PRIMARY KEY (subscriber_id, transport, pair, timeframe)
);
CREATE INDEX IF NOT EXISTS idx_subscriptions_pair_tf ON subscriptions(pair, timeframe);

CREATE TABLE IF NOT EXISTS subscriber_policies (
	subscriber_id TEXT PRIMARY KEY,
	policy_json TEXT NOT NULL
);
`
