package eval

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/togglebox/togglebox/pkg/model"
)

const checkoutExperiment = `{
  "platform": "web",
  "environment": "production",
  "experimentKey": "checkoutFlow",
  "status": "running",
  "variations": [
    {"key": "control", "name": "Current flow", "value": "one-page", "isControl": true},
    {"key": "treatment", "name": "New flow", "value": "two-step", "isControl": false}
  ],
  "controlVariation": "control",
  "trafficAllocation": [
    {"variationKey": "control", "percentage": 60},
    {"variationKey": "treatment", "percentage": 40}
  ],
  "targeting": {}
}`

func mustExperiment(t *testing.T, raw string) model.Experiment {
	t.Helper()
	var exp model.Experiment
	require.NoError(t, json.Unmarshal([]byte(raw), &exp))
	return exp
}

func TestAssignVariation_DraftIneligible(t *testing.T) {
	exp := mustExperiment(t, checkoutExperiment)

	for _, status := range []model.ExperimentStatus{
		model.StatusDraft, model.StatusCompleted, model.StatusArchived,
	} {
		exp.Status = status
		for i := 0; i < 100; i++ {
			assert.Nil(t, AssignVariation(exp, model.NewContext(fmt.Sprintf("user-%d", i))),
				"status %s must not assign", status)
		}
	}
}

func TestAssignVariation_PausedKeepsServing(t *testing.T) {
	exp := mustExperiment(t, checkoutExperiment)

	running := map[string]string{}
	for i := 0; i < 500; i++ {
		id := fmt.Sprintf("user-%d", i)
		if a := AssignVariation(exp, model.NewContext(id)); a != nil {
			running[id] = a.VariationKey
		}
	}

	exp.Status = model.StatusPaused
	for id, variation := range running {
		a := AssignVariation(exp, model.NewContext(id))
		require.NotNil(t, a)
		assert.Equal(t, variation, a.VariationKey, "paused must serve bucketed users identically")
	}
}

func TestAssignVariation_Deterministic(t *testing.T) {
	exp := mustExperiment(t, checkoutExperiment)

	for i := 0; i < 200; i++ {
		ctx := model.NewContext(fmt.Sprintf("user-%d", i))
		first := AssignVariation(exp, ctx)
		second := AssignVariation(exp, ctx)
		if first == nil {
			assert.Nil(t, second)
			continue
		}
		require.NotNil(t, second)
		assert.Equal(t, first.VariationKey, second.VariationKey)
	}
}

func TestAssignVariation_AllocationSplit(t *testing.T) {
	exp := mustExperiment(t, checkoutExperiment)

	counts := map[string]int{}
	for i := 0; i < 10000; i++ {
		a := AssignVariation(exp, model.NewContext(fmt.Sprintf("user-%d", i)))
		require.NotNil(t, a, "allocation sums to 100, nobody is held out")
		counts[a.VariationKey]++
	}

	assert.InDelta(t, 6000, counts["control"], 300)
	assert.InDelta(t, 4000, counts["treatment"], 300)
}

func TestAssignVariation_AllocationGap(t *testing.T) {
	exp := mustExperiment(t, checkoutExperiment)
	exp.TrafficAllocation = []model.Allocation{
		{VariationKey: "control", Percentage: 50},
		{VariationKey: "treatment", Percentage: 30},
	}

	held := 0
	for i := 0; i < 10000; i++ {
		if AssignVariation(exp, model.NewContext(fmt.Sprintf("user-%d", i))) == nil {
			held++
		}
	}
	assert.InDelta(t, 2000, held, 300, "the uncovered tail holds users out")
}

func TestAssignVariation_ControlFlagPropagates(t *testing.T) {
	exp := mustExperiment(t, checkoutExperiment)

	for i := 0; i < 1000; i++ {
		a := AssignVariation(exp, model.NewContext(fmt.Sprintf("user-%d", i)))
		require.NotNil(t, a)
		assert.Equal(t, a.VariationKey == "control", a.IsControl)
	}
}

func TestAssignVariation_ForceExclude(t *testing.T) {
	exp := mustExperiment(t, checkoutExperiment)
	exp.Targeting.ForceExcludeUsers = []string{"banned"}

	assert.Nil(t, AssignVariation(exp, model.NewContext("banned")))
}

func TestAssignVariation_CountryTargeting(t *testing.T) {
	exp := mustExperiment(t, checkoutExperiment)
	exp.Targeting.Countries = []model.CountryRule{{Country: "US", ServeValue: model.ServeA}}

	assert.Nil(t, AssignVariation(exp, model.NewContext("u1").WithCountry("FR")))
	assert.Nil(t, AssignVariation(exp, model.NewContext("u1")), "missing country fails targeting")
	assert.NotNil(t, AssignVariation(exp, model.NewContext("u1").WithCountry("US")))
}

func TestAssignVariation_LanguageTargeting(t *testing.T) {
	exp := mustExperiment(t, checkoutExperiment)
	exp.Targeting.Countries = []model.CountryRule{{
		Country:    "CA",
		ServeValue: model.ServeA,
		Languages:  []model.LanguageRule{{Language: "fr", ServeValue: model.ServeA}},
	}}

	assert.Nil(t, AssignVariation(exp, model.NewContext("u1").WithCountry("CA").WithLanguage("en")))
	assert.NotNil(t, AssignVariation(exp, model.NewContext("u1").WithCountry("CA").WithLanguage("fr")))
}

func TestAssignVariation_ForceIncludeBypassesTargeting(t *testing.T) {
	exp := mustExperiment(t, checkoutExperiment)
	exp.Targeting.Countries = []model.CountryRule{{Country: "US", ServeValue: model.ServeA}}
	exp.Targeting.ForceIncludeUsers = []string{"vip"}

	a := AssignVariation(exp, model.NewContext("vip").WithCountry("FR"))
	require.NotNil(t, a)
	assert.Contains(t, a.Reason, "force-included")
}

func TestAssignVariation_ReasonNamesBoundary(t *testing.T) {
	exp := mustExperiment(t, checkoutExperiment)

	a := AssignVariation(exp, model.NewContext("user-1"))
	require.NotNil(t, a)
	assert.Contains(t, a.Reason, "boundary")
	assert.Contains(t, a.Reason, a.VariationKey)
}

func TestAssignVariation_RebalanceKeepsEarlyBuckets(t *testing.T) {
	exp := mustExperiment(t, checkoutExperiment)

	// users below the first boundary stay put when only later boundaries move
	stable := map[string]bool{}
	for i := 0; i < 2000; i++ {
		id := fmt.Sprintf("user-%d", i)
		if a := AssignVariation(exp, model.NewContext(id)); a != nil && a.VariationKey == "control" {
			stable[id] = true
		}
	}

	exp.TrafficAllocation = []model.Allocation{
		{VariationKey: "control", Percentage: 60},
		{VariationKey: "treatment", Percentage: 20},
	}
	for id := range stable {
		a := AssignVariation(exp, model.NewContext(id))
		require.NotNil(t, a)
		assert.Equal(t, "control", a.VariationKey)
	}
}

func TestAssignVariation_MissingVariationIsNotEligible(t *testing.T) {
	exp := mustExperiment(t, checkoutExperiment)
	exp.TrafficAllocation = []model.Allocation{
		{VariationKey: "ghost", Percentage: 100},
	}

	assert.Nil(t, AssignVariation(exp, model.NewContext("user-1")))
}

func TestAssignor_RecordsExposureOncePerCall(t *testing.T) {
	sink := &captureSink{}
	assignor := NewAssignor(sink)
	exp := mustExperiment(t, checkoutExperiment)

	a := assignor.Assign(exp, model.NewContext("user-1"))
	require.NotNil(t, a)
	require.Len(t, sink.exposures, 1)
	assert.Equal(t, "checkoutFlow", sink.exposures[0][0])
	assert.Equal(t, a.VariationKey, sink.exposures[0][1])

	// no deduplication inside the assignor
	assignor.Assign(exp, model.NewContext("user-1"))
	assert.Len(t, sink.exposures, 2)
}

func TestAssignor_PausedSuppressesExposure(t *testing.T) {
	sink := &captureSink{}
	assignor := NewAssignor(sink)
	exp := mustExperiment(t, checkoutExperiment)
	exp.Status = model.StatusPaused

	a := assignor.Assign(exp, model.NewContext("user-1"))
	require.NotNil(t, a, "paused still serves")
	assert.Empty(t, sink.exposures, "paused stops emitting exposures")
}
