package client

import (
	"context"

	"github.com/togglebox/togglebox/pkg/eval"
	"github.com/togglebox/togglebox/pkg/model"
)

// EvaluateFlag resolves a flag for the merged context. Fetch errors are
// propagated; callers wanting a safe default should use IsFlagEnabled or the
// typed Flag* helpers.
func (c *Client) EvaluateFlag(ctx context.Context, flagKey string, ectx model.EvaluationContext) (eval.Resolution, error) {
	flag, err := c.flag(ctx, flagKey)
	if err != nil {
		return eval.Resolution{}, err
	}
	return c.evaluator.Evaluate(flag, c.mergeContext(ectx)), nil
}

// IsFlagEnabled evaluates a boolean flag, degrading to defaultValue when the
// flag cannot be fetched or is not boolean.
func (c *Client) IsFlagEnabled(ctx context.Context, flagKey string, ectx model.EvaluationContext, defaultValue bool) bool {
	res, err := c.EvaluateFlag(ctx, flagKey, ectx)
	if err != nil {
		c.log.Debugf("isFlagEnabled(%s) falling back to default: %v", flagKey, err)
		return defaultValue
	}
	if res.Value.Kind != model.KindBool {
		return defaultValue
	}
	return res.Value.Bool
}

// FlagString evaluates a string flag, degrading to defaultValue on error.
func (c *Client) FlagString(ctx context.Context, flagKey string, ectx model.EvaluationContext, defaultValue string) string {
	res, err := c.EvaluateFlag(ctx, flagKey, ectx)
	if err != nil || res.Value.Kind != model.KindString {
		return defaultValue
	}
	return res.Value.Str
}

// FlagNumber evaluates a number flag, degrading to defaultValue on error.
func (c *Client) FlagNumber(ctx context.Context, flagKey string, ectx model.EvaluationContext, defaultValue float64) float64 {
	res, err := c.EvaluateFlag(ctx, flagKey, ectx)
	if err != nil || res.Value.Kind != model.KindNumber {
		return defaultValue
	}
	return res.Value.Num
}

// GetVariant assigns the merged context to an experiment variation. There is
// no sensible default for a variant, so fetch errors are surfaced to the
// caller; a nil assignment with nil error means the user is not in the
// experiment.
func (c *Client) GetVariant(ctx context.Context, experimentKey string, ectx model.EvaluationContext) (*model.VariantAssignment, error) {
	exp, err := c.experiment(ctx, experimentKey)
	if err != nil {
		return nil, err
	}
	return c.assignor.Assign(exp, c.mergeContext(ectx)), nil
}

// GetConfig returns a Tier 1 remote config value.
func (c *Client) GetConfig(ctx context.Context, key string) (model.FlagValue, error) {
	ck := cacheKey{kind: "config", name: key}
	if v, ok := c.cached(ck); ok {
		return v.(model.FlagValue), nil
	}
	value, err := c.fetcher.GetConfig(ctx, c.platform, c.environment, key)
	if err != nil {
		return model.FlagValue{}, err
	}
	c.put(ck, value)
	return value, nil
}

// ConfigString returns a string config value, degrading to defaultValue.
func (c *Client) ConfigString(ctx context.Context, key, defaultValue string) string {
	v, err := c.GetConfig(ctx, key)
	if err != nil || v.Kind != model.KindString {
		return defaultValue
	}
	return v.Str
}

// ConfigNumber returns a number config value, degrading to defaultValue.
func (c *Client) ConfigNumber(ctx context.Context, key string, defaultValue float64) float64 {
	v, err := c.GetConfig(ctx, key)
	if err != nil || v.Kind != model.KindNumber {
		return defaultValue
	}
	return v.Num
}

// ConfigBool returns a boolean config value, degrading to defaultValue.
func (c *Client) ConfigBool(ctx context.Context, key string, defaultValue bool) bool {
	v, err := c.GetConfig(ctx, key)
	if err != nil || v.Kind != model.KindBool {
		return defaultValue
	}
	return v.Bool
}

// TrackConversion records a conversion for the variation the context is
// assigned to. Fire-and-forget: all errors are swallowed after logging, the
// caller is never failed by stats recording.
func (c *Client) TrackConversion(ctx context.Context, experimentKey string, ectx model.EvaluationContext, metricID string, value *float64) {
	exp, err := c.experiment(ctx, experimentKey)
	if err != nil {
		c.log.Debugf("trackConversion(%s) dropped: %v", experimentKey, err)
		return
	}

	merged := c.mergeContext(ectx)
	assignment := eval.AssignVariation(exp, merged)
	if assignment == nil {
		// conversions from users outside the experiment carry no signal
		return
	}
	c.sink.TrackConversion(experimentKey, metricID, assignment.VariationKey, merged.ResolvedUserID(), value)
}

// TrackEvent records an arbitrary named event for the merged context.
func (c *Client) TrackEvent(eventName string, ectx model.EvaluationContext, data map[string]interface{}) {
	merged := c.mergeContext(ectx)
	c.sink.TrackEvent(eventName, merged.ResolvedUserID(), data)
}
