package appraisal

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Channel string

const (
	ChannelEbayPrimary          Channel = "eBay Primary"
	ChannelWhatnotMarketingOnly Channel = "Whatnot Marketing Only"
	ChannelWhatnotLossLeader    Channel = "Whatnot Loss Leader"
	ChannelEbayOnly             Channel = "eBay Only"
	ChannelDoNotList            Channel = "Do Not List"
)

var channels = []Channel{ChannelEbayPrimary, ChannelWhatnotMarketingOnly, ChannelWhatnotLossLeader, ChannelEbayOnly, ChannelDoNotList}

func (c Channel) Valid() bool {
	for _, k := range channels {
		if k == c {
			return true
		}
	}
	return false
}

// Auction reports whether the channel sells through live auctions.
func (c Channel) Auction() bool {
	return c == ChannelWhatnotLossLeader
}

type ChannelDecision struct {
	PrimaryChannel   Channel  `json:"primary_channel"`
	SecondaryChannel *Channel `json:"secondary_channel"`
	Justification    string   `json:"justification"`
	Rule             string   `json:"rule,omitempty"`
}

// UsesAuction reports whether either channel sells through live auctions.
func (d ChannelDecision) UsesAuction() bool {
	return d.PrimaryChannel.Auction() || (d.SecondaryChannel != nil && d.SecondaryChannel.Auction())
}

// ParseChannelDecision decodes and validates the channel pass output.
func ParseChannelDecision(raw string) (ChannelDecision, error) {
	var d ChannelDecision
	if err := json.Unmarshal([]byte(stripCodeFences(raw)), &d); err != nil {
		return d, fmt.Errorf("%w: %v", ErrInvalidChannelDecision, err)
	}
	d.Rule = ""
	if !d.PrimaryChannel.Valid() {
		return d, fmt.Errorf("%w: primary_channel %q", ErrInvalidChannelDecision, d.PrimaryChannel)
	}
	if d.SecondaryChannel != nil {
		if !d.SecondaryChannel.Valid() {
			return d, fmt.Errorf("%w: secondary_channel %q", ErrInvalidChannelDecision, *d.SecondaryChannel)
		}
		if *d.SecondaryChannel == d.PrimaryChannel {
			return d, fmt.Errorf("%w: secondary_channel must differ from primary_channel", ErrInvalidChannelDecision)
		}
	}
	if strings.TrimSpace(d.Justification) == "" {
		return d, fmt.Errorf("%w: justification required", ErrInvalidChannelDecision)
	}
	return d, nil
}

// ChannelSignals are the product facts the placement rules look at.
type ChannelSignals struct {
	RequiresBrandAuthority bool `json:"requires_brand_authority"`
	EasilyPriceChecked     bool `json:"easily_price_checked"`
	LowCost                bool `json:"low_cost"`
	ReputationallySafe     bool `json:"reputationally_safe"`
	SlowDemand             bool `json:"slow_demand"`
	HighSaturation         bool `json:"high_saturation"`
}

type channelRule struct {
	name     string
	matches  func(ChannelSignals) bool
	decision ChannelDecision
}

func channelPtr(c Channel) *Channel { return &c }

// Evaluated in order; the first match wins.
var channelRules = []channelRule{
	{
		name:    "brand_authority",
		matches: func(s ChannelSignals) bool { return s.RequiresBrandAuthority },
		decision: ChannelDecision{
			PrimaryChannel: ChannelEbayOnly,
			Justification:  "Needs brand authority and buyer trust, so auction channels are excluded.",
		},
	},
	{
		name:    "price_checked",
		matches: func(s ChannelSignals) bool { return s.EasilyPriceChecked },
		decision: ChannelDecision{
			PrimaryChannel:   ChannelEbayPrimary,
			SecondaryChannel: channelPtr(ChannelWhatnotMarketingOnly),
			Justification:    "Buyers can price-check it easily, so eBay leads.",
		},
	},
	{
		name:    "loss_leader",
		matches: func(s ChannelSignals) bool { return s.LowCost && s.ReputationallySafe },
		decision: ChannelDecision{
			PrimaryChannel:   ChannelWhatnotLossLeader,
			SecondaryChannel: channelPtr(ChannelEbayPrimary),
			Justification:    "Low cost and reputationally safe, so it can run as a Whatnot loss leader.",
		},
	},
	{
		name:    "slow_demand",
		matches: func(s ChannelSignals) bool { return s.SlowDemand },
		decision: ChannelDecision{
			PrimaryChannel: ChannelEbayOnly,
			Justification:  "Demand is slow, so auction channels are excluded.",
		},
	},
	{
		name:    "saturated",
		matches: func(s ChannelSignals) bool { return s.HighSaturation },
		decision: ChannelDecision{
			PrimaryChannel:   ChannelEbayPrimary,
			SecondaryChannel: channelPtr(ChannelWhatnotMarketingOnly),
			Justification:    "The market is saturated, so Whatnot auctions are excluded.",
		},
	},
}

// DecideChannel applies the placement rules to s.
func DecideChannel(s ChannelSignals) ChannelDecision {
	for _, r := range channelRules {
		if r.matches(s) {
			d := r.decision
			d.Rule = r.name
			return d
		}
	}
	return ChannelDecision{
		PrimaryChannel:   ChannelEbayPrimary,
		SecondaryChannel: channelPtr(ChannelWhatnotMarketingOnly),
		Justification:    "No placement constraint applies; list on eBay with Whatnot exposure.",
		Rule:             "default",
	}
}

// ChannelConflict describes how d breaks the auction exclusion of the rule that s
// triggers, or returns "".
func ChannelConflict(s ChannelSignals, d ChannelDecision) string {
	if !d.UsesAuction() {
		return ""
	}
	switch DecideChannel(s).Rule {
	case "brand_authority":
		return "auction placement chosen for an item that needs brand authority"
	case "slow_demand":
		return "auction placement chosen for a slow-demand item"
	case "saturated":
		return "Whatnot auction chosen in a saturated market"
	}
	return ""
}
