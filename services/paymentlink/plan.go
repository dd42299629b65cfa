package paymentlink

import (
	"strings"

	"creator-booking/pkg/errutil"
	"creator-booking/services/booking"
)

const (
	MinInstallmentMonths = 2
	MaxInstallmentMonths = 24
)

// Plan is how the buyer pays: FullPlan or InstallmentPlan.
type Plan interface {
	Type() booking.PlanType
	isPlan()
}

type FullPlan struct{}

func (FullPlan) Type() booking.PlanType { return booking.PlanFull }
func (FullPlan) isPlan()                {}

type InstallmentPlan struct {
	Months int
}

func (InstallmentPlan) Type() booking.PlanType { return booking.PlanInstallment }
func (InstallmentPlan) isPlan()                {}

// ParsePlan maps the request fields onto a Plan.
func ParsePlan(planType string, months *int) (Plan, error) {
	switch booking.PlanType(strings.ToLower(strings.TrimSpace(planType))) {
	case booking.PlanFull:
		return FullPlan{}, nil
	case booking.PlanInstallment:
		if months == nil {
			return nil, errutil.ValidationFailed("installment_months is required for installment plans", nil,
				errutil.WithDetails(errutil.Detail{Field: "installment_months", Message: "is required"}))
		}
		return InstallmentPlan{Months: *months}, nil
	default:
		return nil, errutil.ValidationFailed("invalid plan_type", nil,
			errutil.WithDetails(errutil.Detail{Field: "plan_type", Message: "must be full or installment"}))
	}
}
