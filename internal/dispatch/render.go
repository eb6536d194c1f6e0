package dispatch

import "fmt"

// signalEmbed is the rendered message shape pushed to Discord/LINE
// (§6: "rendered embed/message with fields: pair, timeframe, action,
// confidence (percentage, rounded), strength, entry, SL, TP, RR, source
// badge, model_version when present").
type signalEmbed struct {
	Pair            string `json:"pair"`
	Timeframe       string `json:"timeframe"`
	Action          string `json:"action"`
	ConfidencePct   int    `json:"confidence_pct"`
	Strength        string `json:"strength"`
	Entry           string `json:"entry"`
	StopLoss        string `json:"stop_loss,omitempty"`
	TakeProfit      string `json:"take_profit,omitempty"`
	RiskRewardRatio string `json:"risk_reward_ratio,omitempty"`
	SourceBadge     string `json:"source_badge"`
	ModelVersion    string `json:"model_version,omitempty"`
}

func renderEmbed(job Job) signalEmbed {
	sig := job.Signal
	embed := signalEmbed{
		Pair:          string(sig.Pair),
		Timeframe:     string(sig.Timeframe),
		Action:        string(sig.Action),
		ConfidencePct: int(sig.Confidence*100 + 0.5),
		Strength:      string(sig.Strength),
		Entry:         sig.EntryPrice.String(),
		SourceBadge:   string(sig.Source),
	}
	if sig.StopLoss.Valid {
		embed.StopLoss = sig.StopLoss.Decimal.String()
	}
	if sig.TakeProfit.Valid {
		embed.TakeProfit = sig.TakeProfit.Decimal.String()
	}
	if sig.RiskRewardRatio.Valid {
		embed.RiskRewardRatio = fmt.Sprintf("%s:1", sig.RiskRewardRatio.Decimal.String())
	}
	if sig.ModelVersion != nil {
		embed.ModelVersion = *sig.ModelVersion
	}
	return embed
}
