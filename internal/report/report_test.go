package report

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelkehle/watchvault-pricing/internal/appraisal"
	"github.com/joelkehle/watchvault-pricing/internal/pricing"
)

func completeRun(t *testing.T) appraisal.RunResult {
	t.Helper()
	cost := 600.0
	bmv := 1000.0
	prices, err := pricing.NewCalculator(nil).PlatformPrices(pricing.DefaultFormulaConfig(), bmv, cost)
	require.NoError(t, err)
	secondary := appraisal.ChannelWhatnotMarketingOnly
	return appraisal.RunResult{
		RunID: "run-42",
		Request: appraisal.Request{
			ProductID:  "watch-7",
			Attributes: appraisal.ProductAttributes{Brand: "Seiko", Model: "SKX007", Cost: &cost},
		},
		State: appraisal.StateChannelDecided,
		Outputs: []appraisal.StageOutput{
			{Order: 1, Key: appraisal.KeyIdentification, Type: appraisal.StageTypeText, Text: "Seiko SKX007 diver."},
			{Order: 4, Key: appraisal.KeyCompFilter, Type: appraisal.StageTypeText, Text: "BMV: $1,000"},
			{Order: 5, Key: appraisal.KeyFormulas, Type: appraisal.StageTypeJSONConfig, Text: `{"ebay_fee_rate":0.15}`},
		},
		BMV:            &bmv,
		PlatformPrices: &prices,
		Channel: &appraisal.ChannelDecision{
			PrimaryChannel:   appraisal.ChannelEbayPrimary,
			SecondaryChannel: &secondary,
			Justification:    "Common reference, easy to price-check.",
		},
		Metadata: appraisal.PipelineMetadata{
			Mode:        appraisal.RunModeComplete,
			CompletedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
	}
}

func TestMarkdownCompleteRun(t *testing.T) {
	md := Markdown(completeRun(t))
	assert.Contains(t, md, "# Appraisal Report")
	assert.Contains(t, md, "- Watch: Seiko SKX007")
	assert.Contains(t, md, "| Base market value | $1,000 |")
	assert.Contains(t, md, "| Minimum price | $750 |")
	assert.Contains(t, md, "| eBay Buy It Now | $950 | $807.50 | no |")
	assert.Contains(t, md, "| eBay auto-decline | $660 |")
	assert.Contains(t, md, "eBay Primary + Whatnot Marketing Only")
	assert.Contains(t, md, "## Pass 1: Identification")
	assert.Contains(t, md, "```json\n{\"ebay_fee_rate\":0.15}\n```")
	assert.NotContains(t, md, "PARTIAL")
}

func TestMarkdownPartialRun(t *testing.T) {
	res := completeRun(t)
	res.PlatformPrices = nil
	res.Channel = nil
	res.Outputs = res.Outputs[:2]
	res.State = appraisal.StateCompsFiltered
	res.Metadata.Mode = appraisal.RunModePartial
	res.Metadata.StageFailed = appraisal.KeyFormulas
	res.Metadata.FailureReason = "invalid pricing config: whatnot_fee_rate is required"
	res.Metadata.StagesSkipped = []string{appraisal.KeyChannel}

	md := Markdown(res)
	assert.Contains(t, md, "> PARTIAL: pass `ai_pricing_formulas_pass5` failed")
	assert.Contains(t, md, "## Channel Placement\n\n**Not run**")
	assert.NotContains(t, md, "## Platform Prices")
}

func TestMarkdownShowsChannelConflict(t *testing.T) {
	res := completeRun(t)
	rule := appraisal.DecideChannel(appraisal.ChannelSignals{SlowDemand: true})
	res.RuleChannel = &rule
	res.ChannelConflict = "auction placement chosen for a slow-demand item"
	md := Markdown(res)
	assert.Contains(t, md, "- Rule check (slow_demand): eBay Only")
	assert.Contains(t, md, "> CONFLICT: auction placement chosen for a slow-demand item")
}

func TestFmtUSD(t *testing.T) {
	cases := map[int64]string{0: "0", 999: "999", 1000: "1,000", 1234567: "1,234,567", -4500: "-4,500"}
	for in, want := range cases {
		assert.Equal(t, want, fmtUSD(in))
	}
}

func TestHTMLRendersTablesAndHooks(t *testing.T) {
	doc, err := HTML("Appraisal run-42", Markdown(completeRun(t)))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(doc, "<!doctype html>"))
	assert.Contains(t, doc, "<title>Appraisal run-42</title>")
	assert.Contains(t, doc, "<table>")
	assert.Contains(t, doc, `<h2 data-price-table="true">Platform Prices</h2>`)
	assert.Contains(t, doc, `<h2 data-page-break-before="true" data-pass-heading="true">Pass 1: Identification</h2>`)
	assert.Contains(t, doc, `<h2 data-pass-heading="true">Pass 4: Comparable Filtering</h2>`)
}

func TestApplyPrintLayoutHooksNoopWithoutPasses(t *testing.T) {
	in := "<h2>Summary</h2><p>x</p>"
	assert.Equal(t, in, applyPrintLayoutHooks(in))
}

type fakePDF struct{ got string }

func (f *fakePDF) Render(_ context.Context, htmlDoc string) ([]byte, error) {
	f.got = htmlDoc
	return []byte("%PDF-1.7"), nil
}

func TestPDFRendererInterface(t *testing.T) {
	var r PDFRenderer = &fakePDF{}
	out, err := r.Render(context.Background(), "<html></html>")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(out))

	var _ PDFRenderer = NewChromiumPDFRenderer("")
}
