package fees

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultScheduleRows(t *testing.T) {
	cases := []struct {
		m          Marketplace
		commission float64
		processing float64
		fixed      float64
	}{
		{Ebay, 0.15, 0, 0},
		{Poshmark, 0.20, 0, 0},
		{Etsy, 0.065, 0.03, 0.25},
		{Mercari, 0.129, 0, 0},
		{Whatnot, 0.10, 0.029, 0.30},
		{Shopify, 0.029, 0, 0.30},
	}
	for _, tc := range cases {
		t.Run(string(tc.m), func(t *testing.T) {
			fm, err := FeeModelFor(tc.m)
			require.NoError(t, err)
			assert.Equal(t, tc.commission, fm.CommissionRate)
			assert.Equal(t, tc.processing, fm.PaymentProcessingRate)
			assert.Equal(t, tc.fixed, fm.FixedFee)
			assert.True(t, fm.Profitable())
		})
	}
}

func TestFeeModelForUnknown(t *testing.T) {
	_, err := FeeModelFor("craigslist")
	if !errors.Is(err, ErrUnknownMarketplace) {
		t.Fatalf("expected ErrUnknownMarketplace, got %v", err)
	}
	// square is a recognised id without a schedule row
	_, err = FeeModelFor(Square)
	assert.ErrorIs(t, err, ErrUnknownMarketplace)
}

func TestParseMarketplace(t *testing.T) {
	m, err := ParseMarketplace("  eBay ")
	require.NoError(t, err)
	assert.Equal(t, Ebay, m)

	m, err = ParseMarketplace("SQUARE")
	require.NoError(t, err)
	assert.Equal(t, Square, m)

	_, err = ParseMarketplace("depop")
	assert.ErrorIs(t, err, ErrUnknownMarketplace)
}

func TestNewScheduleValidation(t *testing.T) {
	_, err := NewSchedule(FeeModel{Marketplace: Ebay, CommissionRate: 1.2})
	assert.Error(t, err)

	_, err = NewSchedule(FeeModel{Marketplace: Ebay, FixedFee: -1})
	assert.Error(t, err)

	_, err = NewSchedule(FeeModel{Marketplace: Ebay}, FeeModel{Marketplace: Ebay})
	assert.Error(t, err)

	s, err := NewSchedule(FeeModel{Marketplace: Whatnot, CommissionRate: 0.6, PaymentProcessingRate: 0.5})
	require.NoError(t, err)
	fm, err := s.FeeModelFor(Whatnot)
	require.NoError(t, err)
	assert.False(t, fm.Profitable())
}

func TestScheduleOrderIsStable(t *testing.T) {
	got := DefaultSchedule().Marketplaces()
	assert.Equal(t, []Marketplace{Ebay, Poshmark, Etsy, Mercari, Whatnot, Shopify}, got)

	got[0] = "mutated"
	assert.Equal(t, Ebay, DefaultSchedule().Marketplaces()[0])
}
