package appraisal

import (
	"errors"
	"fmt"
	"time"

	"github.com/joelkehle/watchvault-pricing/internal/pricing"
)

var (
	ErrInvalidPricingConfig      = errors.New("invalid pricing config")
	ErrStageDependencyUnresolved = errors.New("stage dependency unresolved")
	ErrInvalidChannelDecision    = errors.New("invalid channel decision")
)

type StageType string

const (
	StageTypeText       StageType = "text_prompt"
	StageTypeJSONConfig StageType = "json_config"
)

const (
	KeyIdentification = "ai_identification_pass1"
	KeyDetails        = "ai_details_pass2"
	KeyComps          = "ai_comps_pass3"
	KeyCompFilter     = "ai_comp_filter_pass4"
	KeyFormulas       = "ai_pricing_formulas_pass5"
	KeyChannel        = "ai_channel_pass6"
)

type State string

const (
	StatePending        State = "pending"
	StateIdentified     State = "identified"
	StateDetailed       State = "detailed"
	StateCompsFound     State = "comps_found"
	StateCompsFiltered  State = "comps_filtered"
	StatePriced         State = "priced"
	StateChannelDecided State = "channel_decided"
)

// stateAfter maps a completed stage order to the state it enters.
var stateAfter = map[int]State{
	1: StateIdentified,
	2: StateDetailed,
	3: StateCompsFound,
	4: StateCompsFiltered,
	5: StatePriced,
	6: StateChannelDecided,
}

type RunMode string

const (
	RunModeComplete RunMode = "COMPLETE"
	RunModePartial  RunMode = "PARTIAL"
)

// ProductAttributes are the known facts about a product before analysis. All optional.
type ProductAttributes struct {
	Photos               []string `json:"photos,omitempty"`
	Brand                string   `json:"brand,omitempty"`
	Model                string   `json:"model,omitempty"`
	ReferenceNumber      string   `json:"reference_number,omitempty"`
	Movement             string   `json:"movement,omitempty"`
	CaseSize             string   `json:"case_size,omitempty"`
	Condition            string   `json:"condition,omitempty"`
	BoxPapers            string   `json:"box_papers,omitempty"`
	ExistingListingLinks []string `json:"existing_listing_links,omitempty"`
	MSRPLink             string   `json:"msrp_link,omitempty"`
	Cost                 *float64 `json:"cost,omitempty"`
}

type Request struct {
	ProductID  string            `json:"product_id"`
	Attributes ProductAttributes `json:"attributes"`
	Signals    *ChannelSignals   `json:"signals,omitempty"`
}

type StageOutput struct {
	Order      int       `json:"order"`
	Key        string    `json:"key"`
	Type       StageType `json:"type"`
	Variable   string    `json:"variable"`
	Text       string    `json:"text"`
	DurationMS int64     `json:"duration_ms"`
}

type PipelineMetadata struct {
	StagesExecuted []string  `json:"stages_executed"`
	StagesSkipped  []string  `json:"stages_skipped,omitempty"`
	StageFailed    string    `json:"stage_failed,omitempty"`
	FailureReason  string    `json:"failure_reason,omitempty"`
	Warnings       []string  `json:"warnings,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `json:"completed_at"`
	Mode           RunMode   `json:"mode"`
	TotalLLMCalls  int       `json:"total_llm_calls"`
}

type RunResult struct {
	RunID           string                  `json:"run_id"`
	Request         Request                 `json:"request"`
	State           State                   `json:"state"`
	Outputs         []StageOutput           `json:"outputs"`
	BMV             *float64                `json:"bmv,omitempty"`
	PricingConfig   *pricing.FormulaConfig  `json:"pricing_config,omitempty"`
	PlatformPrices  *pricing.PlatformPrices `json:"platform_prices,omitempty"`
	Channel         *ChannelDecision        `json:"channel,omitempty"`
	RuleChannel     *ChannelDecision        `json:"rule_channel,omitempty"`
	ChannelConflict string                  `json:"channel_conflict,omitempty"`
	Metadata        PipelineMetadata        `json:"metadata"`
}

// Output returns the stage output stored under variable, e.g. "pass2_output".
func (r RunResult) Output(variable string) (StageOutput, bool) {
	for _, o := range r.Outputs {
		if o.Variable == variable {
			return o, true
		}
	}
	return StageOutput{}, false
}

type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

func StageNameFromError(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return "pipeline"
}

func outputVariable(order int) string {
	return fmt.Sprintf("pass%d_output", order)
}
