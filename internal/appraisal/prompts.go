package appraisal

import (
	"encoding/json"

	"github.com/joelkehle/watchvault-pricing/internal/pricing"
)

const systemPrompt = "You are a pre-owned luxury watch specialist pricing inventory for a reseller. Be precise, cite what you see, and never invent reference numbers or sales."

const identificationTemplate = `Pass 1: Identification.
Identify the watch from the photos and the known attributes below. State brand, model
family, reference number, movement, case size and material, dial, and era. For each field
say whether it was read from the photos, taken from the known attributes, or inferred.
Flag anything that contradicts the known attributes.

Photos:
{{photos}}

Known attributes:
- Brand: {{brand}}
- Model: {{model}}
- Reference: {{reference_number}}
- Movement: {{movement}}
- Case size: {{case_size}}`

const detailsTemplate = `Pass 2: Detail Enrichment.
Using the identification below, describe the condition, completeness, and any
authenticity or service concerns a buyer would ask about. Note originality of dial,
hands, bezel and bracelet. Note what box, papers and accessories are present.

Identification:
{{pass1_output}}

Seller-reported condition: {{condition}}
Box and papers: {{box_papers}}
MSRP reference: {{msrp_link}}`

const compsTemplate = `Pass 3: Comparable Search.
List sold and active comparable listings for this exact reference (or the nearest
reference where exact matches are scarce). For each comp give: source, sold or active,
price in USD, date, condition, and whether box/papers were included. Prefer sold comps
from the last 12 months.

Identification:
{{pass1_output}}

Details:
{{pass2_output}}

Existing listing links:
{{existing_listing_links}}`

const compFilterTemplate = `Pass 4: Comparable Filtering.
Filter the comps below. Drop active listings when at least three sold comps exist. Drop
comps that differ in reference, condition grade, or completeness in a way that moves
price. Drop outliers above 2x or below 0.5x the median sold price. Show which comps were
kept and why. Finish with one line in the form "BMV: $<amount>" giving the median of the
kept sold prices as the Base Market Value.

Details:
{{pass2_output}}

Comps:
{{pass3_output}}`

const formulasTemplate = `Pass 5: Pricing Formulas.
Return the pricing coefficients for this item as JSON. Start from the defaults below and
adjust only where the comps or the item's details justify it. Fee rates are fractions of
the sale price. Multipliers apply to the Base Market Value (BMV) or to the unit cost.

Defaults:
{{pricing_defaults}}

Required JSON schema:
{
  "ebay_fee_rate": "float 0-1",
  "whatnot_fee_rate": "float 0-1",
  "ebay_bin_multipliers": {"bmv_multiplier": "float > 0", "cost_multiplier": "float > 0"},
  "ebay_best_offer": {"auto_accept_multiplier": "float > 0", "counter_multiplier": "float > 0", "auto_decline_cost_multiplier": "float > 0"},
  "whatnot": {"display_bmv_multiplier": "float > 0", "display_cost_multiplier": "float > 0", "auction_start_cost_multiplier": "float > 0"}
}

Unit cost: {{cost}}

Comp analysis:
{{pass4_output}}`

const channelTemplate = `Pass 6: Channel Placement.
Decide where this item should be listed. Apply these rules in order; the first rule that
matches decides:
1. If the item needs brand authority or buyer trust to sell, exclude auction channels.
2. If buyers can easily price-check the item, prefer eBay.
3. If the item is low-cost and reputationally safe, it may be a Whatnot loss leader.
4. If demand is slow, exclude auction channels.
5. If the market is saturated, exclude Whatnot auctions.

Channels: "eBay Primary", "Whatnot Marketing Only", "Whatnot Loss Leader", "eBay Only", "Do Not List".

Required JSON schema:
{"primary_channel": "channel", "secondary_channel": "channel|null", "justification": "one sentence"}

Identification:
{{pass1_output}}

Details:
{{pass2_output}}

Comp analysis:
{{pass4_output}}

Pricing coefficients:
{{pass5_output}}

Unit cost: {{cost}}`

// DefaultStages returns the six-pass appraisal pipeline.
func DefaultStages() []PipelineStage {
	return []PipelineStage{
		{
			Order:          1,
			Key:            KeyIdentification,
			Type:           StageTypeText,
			Title:          "Identification",
			InputVariables: []string{"photos", "brand", "model", "reference_number", "movement", "case_size"},
			Template:       identificationTemplate,
			UsePhotos:      true,
		},
		{
			Order:          2,
			Key:            KeyDetails,
			Type:           StageTypeText,
			Title:          "Detail Enrichment",
			InputVariables: []string{"pass1_output", "condition", "box_papers", "msrp_link"},
			Template:       detailsTemplate,
		},
		{
			Order:          3,
			Key:            KeyComps,
			Type:           StageTypeText,
			Title:          "Comparable Search",
			InputVariables: []string{"pass1_output", "pass2_output", "existing_listing_links"},
			Template:       compsTemplate,
		},
		{
			Order:          4,
			Key:            KeyCompFilter,
			Type:           StageTypeText,
			Title:          "Comparable Filtering",
			InputVariables: []string{"pass2_output", "pass3_output"},
			Template:       compFilterTemplate,
		},
		{
			Order:          5,
			Key:            KeyFormulas,
			Type:           StageTypeJSONConfig,
			Title:          "Pricing Formulas",
			InputVariables: []string{"pass4_output", "cost", "pricing_defaults"},
			Template:       formulasTemplate,
			Parse:          func(raw string) (any, error) { return ParsePricingConfig(raw) },
		},
		{
			Order:          6,
			Key:            KeyChannel,
			Type:           StageTypeText,
			Title:          "Channel Placement",
			InputVariables: []string{"pass1_output", "pass2_output", "pass4_output", "pass5_output", "cost"},
			Template:       channelTemplate,
			Parse:          func(raw string) (any, error) { return ParseChannelDecision(raw) },
		},
	}
}

func defaultsJSON() string {
	blob, _ := json.MarshalIndent(pricing.DefaultFormulaConfig(), "", "  ")
	return string(blob)
}
