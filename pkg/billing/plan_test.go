package billing_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parishkit/parishkit/pkg/billing"
)

const catalogYAML = `
plans:
  - id: basic-monthly
    name: Basic
    tier: basic
    price:
      amount: 49900
      currency: INR
    cycle: monthly
    trial_days: 14
    limits:
      max_parishioners: 500
      max_wards: 5
    gateway_plan_id: plan_basic
    active: true
  - id: enterprise-yearly
    name: Enterprise
    tier: enterprise
    price:
      amount: 2499900
      currency: INR
    cycle: yearly
    limits: {}
    gateway_plan_id: plan_enterprise
    active: true
`

func TestFilePlanSourceLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0o644))

	plans, err := billing.NewFilePlanSource(path).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, plans, 2)

	basic := plans[0]
	assert.Equal(t, "basic-monthly", basic.ID)
	assert.Equal(t, billing.TierBasic, basic.Tier)
	assert.Equal(t, int64(49900), basic.Price.Amount)
	assert.Equal(t, billing.CycleMonthly, basic.Cycle)
	assert.Equal(t, int64(500), basic.LimitFor(billing.ResourceParishioners))

	// Resources the plan does not mention are unlimited.
	assert.Equal(t, billing.Unlimited, basic.LimitFor(billing.ResourceAdmins))

	enterprise := plans[1]
	assert.Equal(t, billing.Unlimited, enterprise.LimitFor(billing.ResourceParishioners))
	assert.False(t, enterprise.HasTrial())
}

func TestFilePlanSourceMissingFile(t *testing.T) {
	t.Parallel()

	_, err := billing.NewFilePlanSource("/nonexistent/plans.yaml").Load(context.Background())
	assert.ErrorIs(t, err, billing.ErrFailedToLoadPlans)
}

func TestValidatePlans(t *testing.T) {
	t.Parallel()

	valid := *testPlan()

	tests := []struct {
		name    string
		mutate  func(*billing.Plan)
		wantErr bool
	}{
		{name: "valid", mutate: func(p *billing.Plan) {}},
		{name: "empty id", mutate: func(p *billing.Plan) { p.ID = "" }, wantErr: true},
		{name: "unknown tier", mutate: func(p *billing.Plan) { p.Tier = "platinum" }, wantErr: true},
		{name: "negative trial", mutate: func(p *billing.Plan) { p.TrialDays = -1 }, wantErr: true},
		{name: "negative limit", mutate: func(p *billing.Plan) {
			p.Limits = map[billing.Resource]int64{billing.ResourceWards: -5}
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			plan := valid
			tt.mutate(&plan)
			err := billing.ValidatePlans([]billing.Plan{plan})
			if tt.wantErr {
				assert.ErrorIs(t, err, billing.ErrInvalidPlanConfiguration)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePlansDuplicateID(t *testing.T) {
	t.Parallel()

	plan := *testPlan()
	err := billing.ValidatePlans([]billing.Plan{plan, plan})
	assert.ErrorIs(t, err, billing.ErrInvalidPlanConfiguration)
}

func TestTierOrdering(t *testing.T) {
	t.Parallel()

	assert.True(t, billing.TierPremium.AtLeast(billing.TierStandard))
	assert.True(t, billing.TierStandard.AtLeast(billing.TierStandard))
	assert.False(t, billing.TierBasic.AtLeast(billing.TierStandard))
	assert.False(t, billing.Tier("platinum").AtLeast(billing.TierBasic))
}

func TestBillingCycleTotalCount(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 360, billing.CycleMonthly.TotalCount())
	assert.Equal(t, 120, billing.CycleQuarterly.TotalCount())
	assert.Equal(t, 30, billing.CycleYearly.TotalCount())
}

func TestTrialEndsAt(t *testing.T) {
	t.Parallel()

	plan := testPlan()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), plan.TrialEndsAt(start))
}
