package pricing

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/zhaobenny/cptop/internal/model"
)

// DefaultPlanKey is used when no plan is configured
const DefaultPlanKey = "pro"

// publishedPlans lists the Copilot plans. Billing day is filled in from config.
var publishedPlans = map[string]model.Plan{
	"free": {
		Key:           "free",
		Name:          "Free",
		MonthlyPrice:  0,
		IncludedQuota: 50,
		OverageRate:   0,
		AllowsOverage: false,
	},
	"pro": {
		Key:           "pro",
		Name:          "Pro",
		MonthlyPrice:  10,
		IncludedQuota: 300,
		OverageRate:   0.04,
		AllowsOverage: true,
	},
	"pro_plus": {
		Key:           "pro_plus",
		Name:          "Pro+",
		MonthlyPrice:  39,
		IncludedQuota: 1500,
		OverageRate:   0.04,
		AllowsOverage: true,
	},
	"business": {
		Key:           "business",
		Name:          "Business",
		MonthlyPrice:  19,
		IncludedQuota: 300,
		OverageRate:   0.04,
		AllowsOverage: true,
		PerSeat:       true,
	},
	"enterprise": {
		Key:           "enterprise",
		Name:          "Enterprise",
		MonthlyPrice:  39,
		IncludedQuota: 1000,
		OverageRate:   0.04,
		AllowsOverage: true,
		PerSeat:       true,
	},
}

// GetPlan returns a published plan by key
func GetPlan(key string) (model.Plan, bool) {
	p, ok := publishedPlans[key]
	if ok {
		p.BillingCycleStartDay = 1
	}
	return p, ok
}

// Plans returns all published plans ordered by price
func Plans() []model.Plan {
	out := make([]model.Plan, 0, len(publishedPlans))
	for key := range publishedPlans {
		p, _ := GetPlan(key)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MonthlyPrice == out[j].MonthlyPrice {
			return out[i].Key < out[j].Key
		}
		return out[i].MonthlyPrice < out[j].MonthlyPrice
	})
	return out
}

// ValidatePlan checks a plan before any ledger computation.
// All problems are reported together.
func ValidatePlan(p model.Plan, seats int) error {
	var errs []error
	if p.IncludedQuota < 0 || math.IsNaN(p.IncludedQuota) || math.IsInf(p.IncludedQuota, 0) {
		errs = append(errs, &model.PlanError{Field: "included_quota", Reason: fmt.Sprintf("must be >= 0, got %v", p.IncludedQuota)})
	}
	if p.MonthlyPrice < 0 || math.IsNaN(p.MonthlyPrice) {
		errs = append(errs, &model.PlanError{Field: "monthly_price", Reason: fmt.Sprintf("must be >= 0, got %v", p.MonthlyPrice)})
	}
	if p.OverageRate < 0 || math.IsNaN(p.OverageRate) {
		errs = append(errs, &model.PlanError{Field: "overage_rate", Reason: fmt.Sprintf("must be >= 0, got %v", p.OverageRate)})
	}
	if p.AllowsOverage && p.OverageRate <= 0 {
		errs = append(errs, &model.PlanError{Field: "overage_rate", Reason: "must be > 0 when overage is allowed"})
	}
	if p.BillingCycleStartDay < 1 || p.BillingCycleStartDay > 28 {
		errs = append(errs, &model.PlanError{Field: "billing_cycle_start_day", Reason: fmt.Sprintf("must be between 1 and 28, got %d", p.BillingCycleStartDay)})
	}
	if p.PerSeat && seats < 1 {
		errs = append(errs, &model.PlanError{Field: "seats", Reason: fmt.Sprintf("must be >= 1 for a per-seat plan, got %d", seats)})
	}
	return errors.Join(errs...)
}

// BillingPeriodFor returns the billing period containing t. Periods start at
// midnight in loc on billingDay and last one calendar month.
func BillingPeriodFor(billingDay int, t time.Time, loc *time.Location) model.BillingPeriod {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	year, month, day := lt.Date()

	if day < billingDay {
		month--
	}
	start := time.Date(year, month, billingDay, 0, 0, 0, 0, loc)
	return model.BillingPeriod{
		Start: start,
		End:   start.AddDate(0, 1, 0),
	}
}
