// Package planner implements the Delivery Planner: given a SignalChange
// and the latest Signal, it produces the set of (subscriber, transport)
// deliveries that survive every policy filter in §4.9.
package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aifx/signalcore/internal/domain"
	"github.com/aifx/signalcore/internal/registry"
)

// SubscriberLister is the read-mostly fan-out source the planner
// consults; satisfied by *registry.Registry.
type SubscriberLister interface {
	ListSubscribers(pair domain.Pair, tf domain.Timeframe) []registry.SubscriberEntry
}

// CooldownSource answers the §4.9 step 6 cooldown query: the most recent
// change for (pair, timeframe) that successfully notified subscriberID.
type CooldownSource interface {
	LastNotifiedChangeFor(ctx context.Context, pair domain.Pair, tf domain.Timeframe, subscriberID string) (*domain.SignalChange, error)
	CountDeliveriesSince(ctx context.Context, subscriberID string, since time.Time) (int, error)
}

// PlannedDelivery is one (subscriber, transport) delivery surviving every
// filter, ready for the Dispatcher.
type PlannedDelivery struct {
	SubscriberID string
	Transport    domain.Transport
	ChangeID     string
}

// Planner evaluates subscriber policy against a detected change.
type Planner struct {
	log       zerolog.Logger
	lister    SubscriberLister
	cooldowns CooldownSource
}

// New builds a Planner over the registry and store ports.
func New(log zerolog.Logger, lister SubscriberLister, cooldowns CooldownSource) *Planner {
	return &Planner{
		log:       log.With().Str("component", "delivery_planner").Logger(),
		lister:    lister,
		cooldowns: cooldowns,
	}
}

// Plan evaluates every subscriber of (change.Pair, change.Timeframe)
// against the §4.9 filter chain and returns the surviving deliveries.
func (p *Planner) Plan(ctx context.Context, change domain.SignalChange, now time.Time) ([]PlannedDelivery, error) {
	entries := p.lister.ListSubscribers(change.Pair, change.Timeframe)
	deliveries := make([]PlannedDelivery, 0, len(entries))

	for _, entry := range entries {
		ok, err := p.passes(ctx, entry, change, now)
		if err != nil {
			p.log.Error().Err(err).Str("subscriber", entry.SubscriberID).Msg("delivery planner: filter evaluation failed")
			continue
		}
		if !ok {
			continue
		}
		deliveries = append(deliveries, PlannedDelivery{
			SubscriberID: entry.SubscriberID,
			Transport:    entry.Transport,
			ChangeID:     change.ID,
		})
	}

	return deliveries, nil
}

func (p *Planner) passes(ctx context.Context, entry registry.SubscriberEntry, change domain.SignalChange, now time.Time) (bool, error) {
	policy := entry.Policy

	// 1. timeframe filter
	if !policy.EnabledTimeframes[change.Timeframe] {
		return false, nil
	}
	// 2. transport filter
	if !policy.TransportsEnabled[entry.Transport] {
		return false, nil
	}
	// 3. confidence filter
	if change.NewConfidence < policy.MinConfidence {
		return false, nil
	}
	// extra: "strong signals only" filter (SPEC_FULL.md supplement)
	if !policy.AllowsStrength(change.Strength) {
		return false, nil
	}
	// 4. action filter: hold notifications off by default
	if change.NewAction == domain.ActionHold && !policy.NotifyOnHold {
		return false, nil
	}
	// 5. mute window filter
	muted, err := isMuted(policy, now)
	if err != nil {
		return false, fmt.Errorf("evaluating mute window: %w", err)
	}
	if muted {
		return false, nil
	}
	// 6. cooldown filter
	last, err := p.cooldowns.LastNotifiedChangeFor(ctx, change.Pair, change.Timeframe, entry.SubscriberID)
	if err != nil {
		return false, fmt.Errorf("querying cooldown: %w", err)
	}
	if last != nil && last.NotifiedAt != nil {
		elapsed := now.Sub(*last.NotifiedAt)
		if elapsed < time.Duration(policy.CooldownMinutes)*time.Minute {
			return false, nil
		}
	}
	// 7. daily cap filter
	midnight, err := domain.LocalMidnight(now, policy.Timezone)
	if err != nil {
		return false, fmt.Errorf("computing local midnight: %w", err)
	}
	count, err := p.cooldowns.CountDeliveriesSince(ctx, entry.SubscriberID, midnight)
	if err != nil {
		return false, fmt.Errorf("counting daily deliveries: %w", err)
	}
	if count >= policy.DailyCap {
		return false, nil
	}

	return true, nil
}

func isMuted(policy domain.SubscriberPolicy, now time.Time) (bool, error) {
	if len(policy.MuteWindows) == 0 {
		return false, nil
	}
	timeOfDay, err := domain.LocalTimeOfDay(now, policy.Timezone)
	if err != nil {
		return false, err
	}
	for _, w := range policy.MuteWindows {
		if w.Contains(timeOfDay) {
			return true, nil
		}
	}
	return false, nil
}
