package billing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Plan is a catalog entry describing a subscription offering.
// Plans are created by administrators and rarely change; subscriptions
// reference them by ID.
type Plan struct {
	ID            string             `yaml:"id" json:"id"`
	Name          string             `yaml:"name" json:"name"`
	Tier          Tier               `yaml:"tier" json:"tier"`
	Price         Money              `yaml:"price" json:"price"`
	Cycle         BillingCycle       `yaml:"cycle" json:"cycle"`
	TrialDays     int                `yaml:"trial_days" json:"trial_days"`
	Limits        map[Resource]int64 `yaml:"limits" json:"limits"`
	GatewayPlanID string             `yaml:"gateway_plan_id" json:"gateway_plan_id"`
	Active        bool               `yaml:"active" json:"active"`
}

// LimitFor returns the cap for a resource. Resources the plan does not
// mention are unlimited.
func (p *Plan) LimitFor(res Resource) int64 {
	limit, ok := p.Limits[res]
	if !ok {
		return Unlimited
	}
	return limit
}

// HasTrial reports whether the plan grants a trial period.
func (p *Plan) HasTrial() bool {
	return p.TrialDays > 0
}

// TrialEndsAt calculates when a trial started at the given time expires.
func (p *Plan) TrialEndsAt(startedAt time.Time) time.Time {
	return startedAt.AddDate(0, 0, p.TrialDays)
}

// PlanSource defines how the plan catalog is loaded at startup.
type PlanSource interface {
	Load(ctx context.Context) ([]Plan, error)
}

// FilePlanSource loads the plan catalog from a YAML file.
type FilePlanSource struct {
	Path string
}

func NewFilePlanSource(path string) *FilePlanSource {
	return &FilePlanSource{Path: path}
}

func (s *FilePlanSource) Load(ctx context.Context) ([]Plan, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}

	var doc struct {
		Plans []Plan `yaml:"plans"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}

	if err := ValidatePlans(doc.Plans); err != nil {
		return nil, err
	}

	return doc.Plans, nil
}

// StaticPlanSource serves a fixed catalog, useful for tests.
type StaticPlanSource []Plan

func (s StaticPlanSource) Load(ctx context.Context) ([]Plan, error) {
	if err := ValidatePlans(s); err != nil {
		return nil, err
	}
	return s, nil
}

// ValidatePlans catches catalog configuration errors before they can
// reach the subscription path.
func ValidatePlans(plans []Plan) error {
	seen := make(map[string]struct{}, len(plans))
	for _, plan := range plans {
		if plan.ID == "" {
			return errors.Join(ErrInvalidPlanConfiguration, errors.New("plan ID is empty"))
		}
		if _, dup := seen[plan.ID]; dup {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("duplicate plan ID %q", plan.ID))
		}
		seen[plan.ID] = struct{}{}

		if !plan.Tier.Valid() {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %s has unknown tier %q", plan.ID, plan.Tier))
		}
		if plan.TrialDays < 0 {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %s has negative trial days: %d", plan.ID, plan.TrialDays))
		}
		for res, limit := range plan.Limits {
			if limit < 0 {
				return errors.Join(ErrInvalidPlanConfiguration,
					fmt.Errorf("plan %s has negative limit for %s: %d", plan.ID, res, limit))
			}
		}
	}
	return nil
}
