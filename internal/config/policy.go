package config

import (
	"errors"
	"time"
)

// Policy holds the business thresholds of the appointment lifecycle.
type Policy struct {
	SlotDuration         time.Duration `mapstructure:"SLOT_DURATION"`
	MinLeadTime          time.Duration `mapstructure:"MIN_LEAD_TIME"`
	MaxHorizonMonths     int           `mapstructure:"MAX_HORIZON_MONTHS"`
	PaymentWindow        time.Duration `mapstructure:"PAYMENT_WINDOW"`
	FullRefundNotice     time.Duration `mapstructure:"FULL_REFUND_NOTICE"`
	PartialRefundNotice  time.Duration `mapstructure:"PARTIAL_REFUND_NOTICE"`
	PartialRefundPercent int           `mapstructure:"PARTIAL_REFUND_PERCENT"`
	NoShowGrace          time.Duration `mapstructure:"NO_SHOW_GRACE"`
}

func DefaultPolicy() Policy {
	return Policy{
		SlotDuration:         30 * time.Minute,
		MinLeadTime:          48 * time.Hour,
		MaxHorizonMonths:     3,
		PaymentWindow:        8 * time.Hour,
		FullRefundNotice:     48 * time.Hour,
		PartialRefundNotice:  24 * time.Hour,
		PartialRefundPercent: 50,
		NoShowGrace:          30 * time.Minute,
	}
}

func (p Policy) Validate() error {
	var errs []error
	if p.SlotDuration <= 0 {
		errs = append(errs, errors.New("SLOT_DURATION must be positive"))
	}
	if p.MinLeadTime < 0 {
		errs = append(errs, errors.New("MIN_LEAD_TIME must not be negative"))
	}
	if p.MaxHorizonMonths <= 0 {
		errs = append(errs, errors.New("MAX_HORIZON_MONTHS must be positive"))
	}
	if p.PaymentWindow <= 0 {
		errs = append(errs, errors.New("PAYMENT_WINDOW must be positive"))
	}
	if p.PartialRefundNotice <= 0 || p.PartialRefundNotice >= p.FullRefundNotice {
		errs = append(errs, errors.New("PARTIAL_REFUND_NOTICE must be positive and below FULL_REFUND_NOTICE"))
	}
	if p.PartialRefundPercent < 0 || p.PartialRefundPercent > 100 {
		errs = append(errs, errors.New("PARTIAL_REFUND_PERCENT must be within 0..100"))
	}
	if p.NoShowGrace < 0 {
		errs = append(errs, errors.New("NO_SHOW_GRACE must not be negative"))
	}
	return errors.Join(errs...)
}

// BookingWindow returns the earliest and latest bookable slot start for now
func (p Policy) BookingWindow(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	return now.Add(p.MinLeadTime), now.AddDate(0, p.MaxHorizonMonths, 0)
}
