// Package eval implements the deterministic flag resolution and experiment
// assignment logic. The exported functions are pure: identical inputs always
// produce identical outputs, which is what makes assignments sticky without a
// per-user table.
package eval

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/diegoholiveira/jsonlogic/v3"

	"github.com/togglebox/togglebox/pkg/bucket"
	"github.com/togglebox/togglebox/pkg/model"
	"github.com/togglebox/togglebox/pkg/stats"
)

// Resolution reasons.
const (
	ReasonDisabled      = "flag disabled"
	ReasonForceExcluded = "user force-excluded"
	ReasonRuleMatch     = "targeting rule match"
	ReasonRollout       = "rollout applied"
	ReasonRolloutGap    = "rollout gap, default served"
	ReasonDefault       = "default value"

	forceIncludePrefix = "force-included, "
)

// Resolution is the outcome of evaluating a flag for a context.
type Resolution struct {
	ServedValue model.Serve     `json:"servedValue"`
	Value       model.FlagValue `json:"value"`
	Reason      string          `json:"reason"`
}

// EvaluateFlag resolves which of the flag's two values the context receives.
//
// Precedence, first match wins: disabled kill switch, force-exclude (serves
// the default), country/language targeting, JSON Logic rules, percentage
// rollout, default. Force-include does not pick a value by itself; it only
// prefixes the reason and, for experiments, bypasses the eligibility gate.
func EvaluateFlag(flag model.Flag, ctx model.EvaluationContext) Resolution {
	if !flag.Enabled {
		return serve(flag, flag.DefaultValue, ReasonDisabled)
	}

	userID := ctx.ResolvedUserID()

	if flag.Targeting.ForceExcluded(userID) {
		return serve(flag, flag.DefaultValue, ReasonForceExcluded)
	}

	prefix := ""
	if flag.Targeting.ForceIncluded(userID) {
		prefix = forceIncludePrefix
	}

	if rule, ok := flag.Targeting.CountryRuleFor(ctx.Country); ok {
		served := rule.ServeValue
		if ctx.Language != "" {
			for _, lang := range rule.Languages {
				if lang.Language == ctx.Language {
					served = lang.ServeValue
					break
				}
			}
		}
		reason := fmt.Sprintf("matched country/language targeting rule for %s", rule.Country)
		return serve(flag, served, prefix+reason)
	}

	if len(flag.Rules) > 0 {
		if served, ok := applyRules(flag.Rules, ctx); ok {
			return serve(flag, served, prefix+ReasonRuleMatch)
		}
	}

	if flag.RolloutEnabled {
		score := bucket.Score(flag.FlagKey, userID)
		switch {
		case score < flag.RolloutPercentageA:
			return serve(flag, model.ServeA, prefix+ReasonRollout)
		case score < flag.RolloutPercentageA+flag.RolloutPercentageB:
			return serve(flag, model.ServeB, prefix+ReasonRollout)
		default:
			return serve(flag, flag.DefaultValue, prefix+ReasonRolloutGap)
		}
	}

	return serve(flag, flag.DefaultValue, prefix+ReasonDefault)
}

func serve(flag model.Flag, s model.Serve, reason string) Resolution {
	if !s.Valid() {
		s = model.ServeA
	}
	return Resolution{
		ServedValue: s,
		Value:       flag.Value(s),
		Reason:      reason,
	}
}

// applyRules evaluates a JSON Logic document against the context's attribute
// map. A result of "A" or "B" selects that value; anything else (including
// rule errors) falls through to the next resolution step.
func applyRules(rules json.RawMessage, ctx model.EvaluationContext) (model.Serve, bool) {
	data, err := json.Marshal(ctx.AttributeMap())
	if err != nil {
		return "", false
	}

	var result bytes.Buffer
	if err := jsonlogic.Apply(bytes.NewReader(rules), bytes.NewReader(data), &result); err != nil {
		return "", false
	}

	var out string
	if err := json.Unmarshal(bytes.TrimSpace(result.Bytes()), &out); err != nil {
		return "", false
	}

	served := model.Serve(out)
	if !served.Valid() {
		return "", false
	}
	return served, true
}

// FlagEvaluator wraps the pure EvaluateFlag with fire-and-forget stats
// recording.
type FlagEvaluator struct {
	sink stats.Sink
}

func NewFlagEvaluator(sink stats.Sink) *FlagEvaluator {
	if sink == nil {
		sink = stats.Noop{}
	}
	return &FlagEvaluator{sink: sink}
}

// Evaluate resolves the flag and records the evaluation. Recording never
// blocks or fails the call.
func (e *FlagEvaluator) Evaluate(flag model.Flag, ctx model.EvaluationContext) Resolution {
	res := EvaluateFlag(flag, ctx)
	e.sink.TrackFlagEvaluation(flag.FlagKey, res.ServedValue, ctx.ResolvedUserID(), ctx.Country, ctx.Language)
	return res
}
