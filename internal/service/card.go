package service

import (
	"strconv"
	"strings"
	"time"
)

// CardDetails are the card-like fields of the simulated checkout.
// Nothing here is sent to a card network.
type CardDetails struct {
	HolderName string `json:"holder_name"`
	Number     string `json:"number"`
	Expiry     string `json:"expiry"` // MM/YY
	CVV        string `json:"cvv"`
}

// validate checks field formats and returns the last 4 digits of the number
func (c CardDetails) validate(now time.Time) (string, error) {
	if strings.TrimSpace(c.HolderName) == "" {
		return "", invalid("card holder name is required")
	}

	number := strings.NewReplacer(" ", "", "-", "").Replace(c.Number)
	if len(number) < 13 || len(number) > 19 || !digitsOnly(number) {
		return "", invalid("card number must have 13 to 19 digits")
	}

	if len(c.CVV) < 3 || len(c.CVV) > 4 || !digitsOnly(c.CVV) {
		return "", invalid("cvv must have 3 or 4 digits")
	}

	month, year, ok := parseExpiry(c.Expiry)
	if !ok {
		return "", invalid("expiry must be MM/YY")
	}
	// A card is valid through the end of its expiry month
	validUntil := time.Date(2000+year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC)
	if !now.Before(validUntil) {
		return "", invalid("card expired")
	}

	return number[len(number)-4:], nil
}

func parseExpiry(s string) (int, int, bool) {
	mm, yy, found := strings.Cut(strings.TrimSpace(s), "/")
	if !found || len(mm) != 2 || len(yy) != 2 {
		return 0, 0, false
	}
	month, err := strconv.Atoi(mm)
	if err != nil || month < 1 || month > 12 {
		return 0, 0, false
	}
	year, err := strconv.Atoi(yy)
	if err != nil || year < 0 {
		return 0, 0, false
	}
	return month, year, true
}

func digitsOnly(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
