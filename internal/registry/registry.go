// Package registry holds per-subscriber fan-out rows and delivery
// policy. Per §5 it is read-mostly: writers update sqlite then publish a
// new immutable snapshot, so readers (the Delivery Planner) never block
// behind a writer and always see an internally-consistent view.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/aifx/signalcore/internal/database"
	"github.com/aifx/signalcore/internal/domain"
)

// SubscriberEntry pairs a subscriber with its transport and resolved
// policy for one (pair, timeframe) stream — the shape §4.8's
// list_subscribers contract returns.
type SubscriberEntry struct {
	SubscriberID string
	Transport    domain.Transport
	Policy       domain.SubscriberPolicy
}

type streamKey struct {
	pair domain.Pair
	tf   domain.Timeframe
}

// snapshot is the immutable copy-on-write view readers consult.
type snapshot struct {
	byStream map[streamKey][]SubscriberEntry
	policies map[string]domain.SubscriberPolicy
}

// Registry is the Subscription Registry.
type Registry struct {
	db  *database.DB
	log zerolog.Logger

	current atomic.Pointer[snapshot]
}

// New opens the schema and loads the initial snapshot.
func New(ctx context.Context, db *database.DB, log zerolog.Logger) (*Registry, error) {
	if err := db.Migrate(schema); err != nil {
		return nil, fmt.Errorf("registry: migrating schema: %w", err)
	}
	r := &Registry{db: db, log: log.With().Str("component", "subscription_registry").Logger()}
	if err := r.reload(ctx); err != nil {
		return nil, fmt.Errorf("registry: loading initial snapshot: %w", err)
	}
	return r, nil
}

// Subscribe upserts a (subscriber, transport, pair, timeframe) row;
// subscribing the same tuple twice yields a single subscription (§8).
func (r *Registry) Subscribe(ctx context.Context, subscriberID string, transport domain.Transport, pair domain.Pair, tf domain.Timeframe) error {
	_, err := r.db.Conn().ExecContext(ctx, `
		INSERT INTO subscriptions (subscriber_id, transport, pair, timeframe)
		VALUES (?,?,?,?)
		ON CONFLICT (subscriber_id, transport, pair, timeframe) DO NOTHING`,
		subscriberID, string(transport), string(pair), string(tf))
	if err != nil {
		return fmt.Errorf("registry: subscribe: %w", err)
	}
	return r.reload(ctx)
}

// Unsubscribe removes a subscription row; idempotent.
func (r *Registry) Unsubscribe(ctx context.Context, subscriberID string, transport domain.Transport, pair domain.Pair, tf domain.Timeframe) error {
	_, err := r.db.Conn().ExecContext(ctx, `
		DELETE FROM subscriptions WHERE subscriber_id = ? AND transport = ? AND pair = ? AND timeframe = ?`,
		subscriberID, string(transport), string(pair), string(tf))
	if err != nil {
		return fmt.Errorf("registry: unsubscribe: %w", err)
	}
	return r.reload(ctx)
}

// ListSubscribers returns the (subscriber_id, transport, policy) triples
// for (pair, timeframe) from the current snapshot — never blocks behind
// a concurrent writer (§4.8).
func (r *Registry) ListSubscribers(pair domain.Pair, tf domain.Timeframe) []SubscriberEntry {
	snap := r.current.Load()
	entries := snap.byStream[streamKey{pair, tf}]
	out := make([]SubscriberEntry, len(entries))
	copy(out, entries)
	return out
}

// GetPolicy returns a subscriber's policy, or a default policy with no
// timeframes or transports enabled (deny-everything-until-configured) if
// none is set.
func (r *Registry) GetPolicy(subscriberID string) domain.SubscriberPolicy {
	snap := r.current.Load()
	if p, ok := snap.policies[subscriberID]; ok {
		return p
	}
	return defaultPolicy(subscriberID)
}

// UpdatePolicy persists a full replacement policy for subscriberID and
// republishes the snapshot. Callers construct the merged policy (GetPolicy
// + patch fields) before calling; the registry itself does not merge.
func (r *Registry) UpdatePolicy(ctx context.Context, policy domain.SubscriberPolicy) error {
	payload, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("registry: marshaling policy: %w", err)
	}
	_, err = r.db.Conn().ExecContext(ctx, `
		INSERT INTO subscriber_policies (subscriber_id, policy_json) VALUES (?, ?)
		ON CONFLICT (subscriber_id) DO UPDATE SET policy_json = excluded.policy_json`,
		policy.SubscriberID, string(payload))
	if err != nil {
		return fmt.Errorf("registry: update_policy: %w", err)
	}
	return r.reload(ctx)
}

func defaultPolicy(subscriberID string) domain.SubscriberPolicy {
	return domain.SubscriberPolicy{
		SubscriberID:      subscriberID,
		MinConfidence:     0.5,
		CooldownMinutes:   60,
		DailyCap:          20,
		Timezone:          "UTC",
		EnabledTimeframes: map[domain.Timeframe]bool{},
		TransportsEnabled: map[domain.Transport]bool{},
	}
}

// reload rebuilds the snapshot from sqlite and atomically publishes it.
// Called after every write; readers in flight keep using the prior
// snapshot until this swap completes.
func (r *Registry) reload(ctx context.Context) error {
	policies, err := r.loadPolicies(ctx)
	if err != nil {
		return err
	}

	rows, err := r.db.Conn().QueryContext(ctx, `SELECT subscriber_id, transport, pair, timeframe FROM subscriptions`)
	if err != nil {
		return fmt.Errorf("registry: loading subscriptions: %w", err)
	}
	defer rows.Close()

	byStream := make(map[streamKey][]SubscriberEntry)
	for rows.Next() {
		var subscriberID, transport, pair, tf string
		if err := rows.Scan(&subscriberID, &transport, &pair, &tf); err != nil {
			return fmt.Errorf("registry: scanning subscription row: %w", err)
		}
		key := streamKey{domain.Pair(pair), domain.Timeframe(tf)}
		policy, ok := policies[subscriberID]
		if !ok {
			policy = defaultPolicy(subscriberID)
		}
		byStream[key] = append(byStream[key], SubscriberEntry{
			SubscriberID: subscriberID,
			Transport:    domain.Transport(transport),
			Policy:       policy,
		})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("registry: iterating subscriptions: %w", err)
	}

	r.current.Store(&snapshot{byStream: byStream, policies: policies})
	return nil
}

func (r *Registry) loadPolicies(ctx context.Context) (map[string]domain.SubscriberPolicy, error) {
	rows, err := r.db.Conn().QueryContext(ctx, `SELECT subscriber_id, policy_json FROM subscriber_policies`)
	if err != nil {
		return nil, fmt.Errorf("registry: loading policies: %w", err)
	}
	defer rows.Close()

	policies := make(map[string]domain.SubscriberPolicy)
	for rows.Next() {
		var subscriberID, policyJSON string
		if err := rows.Scan(&subscriberID, &policyJSON); err != nil {
			return nil, fmt.Errorf("registry: scanning policy row: %w", err)
		}
		var policy domain.SubscriberPolicy
		if err := json.Unmarshal([]byte(policyJSON), &policy); err != nil {
			return nil, fmt.Errorf("registry: decoding policy for %s: %w", subscriberID, err)
		}
		policies[subscriberID] = policy
	}
	return policies, rows.Err()
}
