package fees

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var ErrUnknownMarketplace = errors.New("unknown marketplace")

type Marketplace string

const (
	Ebay     Marketplace = "ebay"
	Poshmark Marketplace = "poshmark"
	Etsy     Marketplace = "etsy"
	Mercari  Marketplace = "mercari"
	Whatnot  Marketplace = "whatnot"
	Shopify  Marketplace = "shopify"
	Square   Marketplace = "square"
)

// knownMarketplaces lists every identifier the system recognises, in display order.
// Square is a point-of-sale channel and has no entry in the default schedule.
var knownMarketplaces = []Marketplace{Ebay, Poshmark, Etsy, Mercari, Whatnot, Shopify, Square}

func ParseMarketplace(raw string) (Marketplace, error) {
	m := Marketplace(strings.ToLower(strings.TrimSpace(raw)))
	for _, k := range knownMarketplaces {
		if k == m {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMarketplace, raw)
}

// FeeModel describes what a marketplace keeps from a sale.
type FeeModel struct {
	Marketplace           Marketplace `json:"marketplace"`
	CommissionRate        float64     `json:"commission_rate"`
	PaymentProcessingRate float64     `json:"payment_processing_rate"`
	FixedFee              float64     `json:"fixed_fee"`
}

// CombinedRate is the share of the sale price taken before fixed fees.
func (m FeeModel) CombinedRate() float64 {
	return m.CommissionRate + m.PaymentProcessingRate
}

// Profitable reports whether a finite break-even price exists.
func (m FeeModel) Profitable() bool {
	return m.CombinedRate() < 1
}

func (m FeeModel) Validate() error {
	if strings.TrimSpace(string(m.Marketplace)) == "" {
		return fmt.Errorf("marketplace is required")
	}
	if !validRate(m.CommissionRate) {
		return fmt.Errorf("%s: commission_rate must be in [0,1)", m.Marketplace)
	}
	if !validRate(m.PaymentProcessingRate) {
		return fmt.Errorf("%s: payment_processing_rate must be in [0,1)", m.Marketplace)
	}
	if math.IsNaN(m.FixedFee) || math.IsInf(m.FixedFee, 0) || m.FixedFee < 0 {
		return fmt.Errorf("%s: fixed_fee must be >= 0", m.Marketplace)
	}
	return nil
}

func validRate(r float64) bool {
	return !math.IsNaN(r) && r >= 0 && r < 1
}
