package fees

import "fmt"

// Schedule is an immutable marketplace -> FeeModel table.
type Schedule struct {
	order  []Marketplace
	models map[Marketplace]FeeModel
}

// NewSchedule validates each model and rejects duplicate marketplaces. A model whose
// combined rate reaches 100% is accepted; calculators skip it.
func NewSchedule(models ...FeeModel) (*Schedule, error) {
	s := &Schedule{models: make(map[Marketplace]FeeModel, len(models))}
	for _, m := range models {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.models[m.Marketplace]; dup {
			return nil, fmt.Errorf("duplicate fee model for %s", m.Marketplace)
		}
		s.models[m.Marketplace] = m
		s.order = append(s.order, m.Marketplace)
	}
	return s, nil
}

func DefaultModels() []FeeModel {
	return []FeeModel{
		{Marketplace: Ebay, CommissionRate: 0.15},
		{Marketplace: Poshmark, CommissionRate: 0.20},
		{Marketplace: Etsy, CommissionRate: 0.065, PaymentProcessingRate: 0.03, FixedFee: 0.25},
		{Marketplace: Mercari, CommissionRate: 0.129},
		{Marketplace: Whatnot, CommissionRate: 0.10, PaymentProcessingRate: 0.029, FixedFee: 0.30},
		{Marketplace: Shopify, CommissionRate: 0.029, FixedFee: 0.30},
	}
}

var defaultSchedule = mustSchedule(DefaultModels()...)

// DefaultSchedule returns the built-in reseller fee table.
func DefaultSchedule() *Schedule { return defaultSchedule }

func mustSchedule(models ...FeeModel) *Schedule {
	s, err := NewSchedule(models...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schedule) FeeModelFor(m Marketplace) (FeeModel, error) {
	fm, ok := s.models[m]
	if !ok {
		return FeeModel{}, fmt.Errorf("%w: %s", ErrUnknownMarketplace, m)
	}
	return fm, nil
}

func (s *Schedule) Marketplaces() []Marketplace {
	out := make([]Marketplace, len(s.order))
	copy(out, s.order)
	return out
}

// Models returns the fee models in schedule order.
func (s *Schedule) Models() []FeeModel {
	out := make([]FeeModel, 0, len(s.order))
	for _, m := range s.order {
		out = append(out, s.models[m])
	}
	return out
}

// FeeModelFor looks up a marketplace in the default schedule.
func FeeModelFor(m Marketplace) (FeeModel, error) {
	return defaultSchedule.FeeModelFor(m)
}
