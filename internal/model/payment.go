package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type PaymentMethod string

const (
	PaymentMethodCardSimulated     PaymentMethod = "card_simulated"
	PaymentMethodExternalProcessor PaymentMethod = "external_processor"
)

type PaymentStatus string

const (
	PaymentStatusPending         PaymentStatus = "pending"
	PaymentStatusPaid            PaymentStatus = "paid"
	PaymentStatusRefundedPartial PaymentStatus = "refunded_partial"
	PaymentStatusRefundedFull    PaymentStatus = "refunded_full"
	PaymentStatusVoided          PaymentStatus = "voided"
)

// Payment exists exactly once per appointment. Amounts are in cents.
type Payment struct {
	ID             uuid.UUID      `json:"id"`
	Folio          int64          `json:"folio"`
	AmountDue      int64          `json:"amount_due"`
	AmountPaid     int64          `json:"amount_paid"`
	AmountRefunded int64          `json:"amount_refunded"`
	Currency       string         `json:"currency"`
	Method         *PaymentMethod `json:"method"`
	ExternalRef    *string        `json:"external_ref"` // processor capture id
	PayerID        *string        `json:"payer_id"`
	CardLast4      *string        `json:"card_last4"`
	Status         PaymentStatus  `json:"status"`
	PaidAt         *time.Time     `json:"paid_at"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// IsPending checks if nothing was collected yet
func (p *Payment) IsPending() bool {
	return p.Status == PaymentStatusPending
}

// IsSettled checks if money was received, whether or not some of it went back
func (p *Payment) IsSettled() bool {
	switch p.Status {
	case PaymentStatusPaid, PaymentStatusRefundedPartial, PaymentStatusRefundedFull:
		return true
	}
	return false
}

// HasExternalRef checks if the payment was captured under ref
func (p *Payment) HasExternalRef(ref string) bool {
	return p.ExternalRef != nil && *p.ExternalRef == ref
}

// FormatCents renders integer cents as a decimal amount, e.g. 16666 -> "166.66"
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign, cents = "-", -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// ExternalOrder is an order opened at the payment processor, awaiting payer approval.
type ExternalOrder struct {
	OrderID     string `json:"order_id"`
	ApprovalURL string `json:"approval_url"`
}

// ExternalCapture is what the processor reports after capturing an approved order.
type ExternalCapture struct {
	OrderID     string
	CaptureID   string
	Folio       int64
	AmountCents int64
	Currency    string
	PayerID     string
	Status      string
}
