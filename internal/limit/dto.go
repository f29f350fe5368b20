package limit

import (
	"time"

	errors "github.com/frahmantamala/peerpay/internal"
	"github.com/frahmantamala/peerpay/internal/core/common/validation"
)

type SetLimitRequest struct {
	TotalLimit int64  `json:"total_limit"`
	Period     Period `json:"period"`
}

func (r *SetLimitRequest) Validate() error {
	v := validation.NewValidator()
	v.Field("total_limit", r.TotalLimit).MinInt(0, errors.ErrCodeInvalidAmount)
	v.Field("period", string(r.Period)).
		Required().
		OneOf(errors.ErrCodeInvalidPeriod, string(PeriodDaily), string(PeriodWeekly), string(PeriodMonthly))

	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type LimitResponse struct {
	Scope        string    `json:"scope"`
	TotalLimit   int64     `json:"total_limit"`
	Period       Period    `json:"period"`
	CurrentSpent int64     `json:"current_spent"`
	Remaining    int64     `json:"remaining"`
	LastResetAt  time.Time `json:"last_reset_at"`
}

type LimitsResponse struct {
	Limits []LimitResponse `json:"limits"`
}

func (l SpendingLimit) ToResponse() LimitResponse {
	return LimitResponse{
		Scope:        l.Scope.Key(),
		TotalLimit:   l.TotalLimit,
		Period:       l.Period,
		CurrentSpent: l.CurrentSpent,
		Remaining:    l.Remaining(),
		LastResetAt:  l.LastResetAt,
	}
}
