// Package sleep compresses conversation history once it threatens the
// model's context window, and consolidates extracted memories into the
// on-disk journals.
package sleep

import (
	"math"
	"time"

	"github.com/mnemo-agent/mnemod/config"
	"github.com/mnemo-agent/mnemod/conversations"
)

// EstimateTokens is the fixed token heuristic: characters divided by four,
// rounded up. Deterministic and provider-agnostic.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return int(math.Ceil(float64(len(text)) / 4))
}

// ShouldSleep decides whether a conversation is due for compression. All
// three gates must pass: the token gate (running total at or past the
// threshold fraction of the context window, or past the absolute soft
// threshold when configured), the size gate (enough messages to be worth
// compressing), and the cooldown gate (enough wall time since the last
// sleep). A zero token total or a non-positive threshold always means no.
func ShouldSleep(state conversations.State, messageCount, contextWindow int, cfg config.SleepConfig, now time.Time) bool {
	if state.TotalTokens <= 0 || cfg.Threshold <= 0 {
		return false
	}
	if messageCount < cfg.MinMessagesToSleep {
		return false
	}
	if state.SleepAtMS > 0 {
		elapsed := now.UnixMilli() - state.SleepAtMS
		if elapsed < int64(cfg.CooldownMinutes)*60_000 {
			return false
		}
	}

	tokenGate := int(math.Floor(float64(contextWindow) * cfg.Threshold))
	if state.TotalTokens >= tokenGate {
		return true
	}
	return cfg.SoftThresholdTokens > 0 && state.TotalTokens >= cfg.SoftThresholdTokens
}

// Budget is the token allowance compression aims for: the threshold slice of
// the context window minus the floor reserved for the model's reply.
func Budget(contextWindow int, cfg config.SleepConfig) int {
	budget := int(math.Floor(float64(contextWindow) * cfg.Threshold))
	if cfg.ReserveTokensFloor > 0 {
		budget -= cfg.ReserveTokensFloor
	}
	if budget < 1 {
		budget = 1
	}
	return budget
}
