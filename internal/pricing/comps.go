package pricing

import (
	"errors"
	"fmt"
	"sort"
)

var ErrNoComps = errors.New("no usable comps")

// OutlierPolicy bounds comps relative to the raw median. A comp above Upper×median or below
// Lower×median is dropped. The thresholds are heuristics, not guarantees about the data.
type OutlierPolicy struct {
	Upper float64 `json:"upper"`
	Lower float64 `json:"lower"`
}

func DefaultOutlierPolicy() OutlierPolicy {
	return OutlierPolicy{Upper: 2.0, Lower: 0.5}
}

func (p OutlierPolicy) Validate() error {
	if p.Lower <= 0 || p.Lower > 1 || p.Upper < 1 {
		return fmt.Errorf("outlier policy requires 0 < lower <= 1 <= upper, got lower=%v upper=%v", p.Lower, p.Upper)
	}
	return nil
}

type CompFilterResult struct {
	RawMedian float64   `json:"raw_median"`
	Kept      []float64 `json:"kept"`
	Dropped   []float64 `json:"dropped"`
	BMV       float64   `json:"bmv"`
}

// FilterComps drops non-positive prices and outliers, then takes the median of what is
// left as the base market value.
func FilterComps(prices []float64, policy OutlierPolicy) (CompFilterResult, error) {
	var res CompFilterResult
	if err := policy.Validate(); err != nil {
		return res, err
	}
	valid := make([]float64, 0, len(prices))
	for _, p := range prices {
		if p > 0 {
			valid = append(valid, p)
		} else {
			res.Dropped = append(res.Dropped, p)
		}
	}
	if len(valid) == 0 {
		return res, ErrNoComps
	}
	res.RawMedian = median(valid)
	for _, p := range valid {
		if p > res.RawMedian*policy.Upper || p < res.RawMedian*policy.Lower {
			res.Dropped = append(res.Dropped, p)
			continue
		}
		res.Kept = append(res.Kept, p)
	}
	res.BMV = median(res.Kept)
	return res, nil
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	s := append([]float64(nil), vals...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}
