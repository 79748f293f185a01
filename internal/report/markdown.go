package report

import (
	"fmt"
	"strings"

	"github.com/joelkehle/watchvault-pricing/internal/appraisal"
	"github.com/joelkehle/watchvault-pricing/internal/pricing"
)

// Markdown renders a pipeline run, complete or partial, as a markdown report.
func Markdown(res appraisal.RunResult) string {
	var b strings.Builder
	attrs := res.Request.Attributes
	fmt.Fprintf(&b, "# Appraisal Report\n\n")
	fmt.Fprintf(&b, "- Run ID: %s\n", res.RunID)
	if res.Request.ProductID != "" {
		fmt.Fprintf(&b, "- Product: %s\n", res.Request.ProductID)
	}
	if watch := strings.TrimSpace(attrs.Brand + " " + attrs.Model + " " + attrs.ReferenceNumber); watch != "" {
		fmt.Fprintf(&b, "- Watch: %s\n", sanitize(watch))
	}
	if attrs.Cost != nil {
		fmt.Fprintf(&b, "- Unit cost: $%s\n", fmtUSDf(*attrs.Cost))
	}
	if !res.Metadata.CompletedAt.IsZero() {
		fmt.Fprintf(&b, "- Date: %s\n", res.Metadata.CompletedAt.UTC().Format("2006-01-02 15:04 MST"))
	}
	fmt.Fprintf(&b, "- State: %s\n", res.State)
	fmt.Fprintf(&b, "- Mode: %s\n\n", res.Metadata.Mode)

	if res.Metadata.Mode == appraisal.RunModePartial {
		fmt.Fprintf(&b, "> PARTIAL: pass `%s` failed (%s). Later passes were not run; prices below may be missing.\n\n",
			sanitize(res.Metadata.StageFailed), sanitize(res.Metadata.FailureReason))
	}
	for _, w := range res.Metadata.Warnings {
		fmt.Fprintf(&b, "> Note: %s\n\n", sanitize(w))
	}

	writeSummary(&b, res)
	if res.PlatformPrices != nil {
		writePriceTable(&b, *res.PlatformPrices)
	}
	writeChannel(&b, res)

	titles := map[string]string{}
	for _, st := range appraisal.DefaultStages() {
		titles[st.Key] = st.Title
	}
	for _, out := range res.Outputs {
		title := titles[out.Key]
		if title == "" {
			title = out.Key
		}
		fmt.Fprintf(&b, "## Pass %d: %s\n\n", out.Order, title)
		if out.Type == appraisal.StageTypeJSONConfig || strings.HasPrefix(strings.TrimSpace(out.Text), "{") {
			fmt.Fprintf(&b, "```json\n%s\n```\n\n", strings.TrimSpace(out.Text))
			continue
		}
		fmt.Fprintf(&b, "%s\n\n", strings.TrimSpace(out.Text))
	}
	for _, key := range res.Metadata.StagesSkipped {
		title := titles[key]
		if title == "" {
			title = key
		}
		fmt.Fprintf(&b, "## %s\n\n**Not run**: an earlier pass failed.\n\n", title)
	}
	return b.String()
}

func writeSummary(b *strings.Builder, res appraisal.RunResult) {
	fmt.Fprintf(b, "## Summary\n\n")
	fmt.Fprintf(b, "| Item | Value |\n|---|---|\n")
	if res.BMV != nil {
		fmt.Fprintf(b, "| Base market value | $%s |\n", fmtUSDf(*res.BMV))
	} else {
		fmt.Fprintf(b, "| Base market value | not determined |\n")
	}
	if res.PlatformPrices != nil {
		fmt.Fprintf(b, "| Minimum price | $%s |\n", fmtUSD(res.PlatformPrices.MinimumPrice))
	}
	if res.Channel != nil {
		fmt.Fprintf(b, "| Channel | %s |\n", sanitizeCell(channelLabel(*res.Channel)))
	}
	fmt.Fprintf(b, "| Passes run | %d |\n\n", len(res.Outputs))
}

func writePriceTable(b *strings.Builder, p pricing.PlatformPrices) {
	fmt.Fprintf(b, "## Platform Prices\n\n")
	fmt.Fprintf(b, "| Price | Amount | Net after fees | Below minimum |\n|---|---|---|---|\n")
	rows := []struct {
		name string
		q    pricing.Quote
	}{
		{"eBay Buy It Now", p.EbayBuyItNow},
		{"eBay auto-accept", p.EbayAutoAccept},
		{"eBay counter", p.EbayCounter},
		{"eBay auto-decline", p.EbayAutoDecline},
		{"Whatnot display", p.WhatnotDisplay},
		{"Whatnot auction start", p.WhatnotAuctionStart},
	}
	for _, r := range rows {
		fmt.Fprintf(b, "| %s | $%s | $%.2f | %s |\n", r.name, fmtUSD(r.q.Price), r.q.NetProceeds, yesNo(r.q.BelowMinimum))
	}
	b.WriteString("\n")
}

func writeChannel(b *strings.Builder, res appraisal.RunResult) {
	if res.Channel == nil && res.RuleChannel == nil {
		return
	}
	fmt.Fprintf(b, "## Channel Placement\n\n")
	if res.Channel != nil {
		fmt.Fprintf(b, "- Recommended: %s\n", channelLabel(*res.Channel))
		fmt.Fprintf(b, "- Justification: %s\n", sanitize(res.Channel.Justification))
	}
	if res.RuleChannel != nil {
		fmt.Fprintf(b, "- Rule check (%s): %s\n", res.RuleChannel.Rule, channelLabel(*res.RuleChannel))
	}
	if res.ChannelConflict != "" {
		fmt.Fprintf(b, "\n> CONFLICT: %s\n", sanitize(res.ChannelConflict))
	}
	b.WriteString("\n")
}

func channelLabel(d appraisal.ChannelDecision) string {
	if d.SecondaryChannel == nil {
		return string(d.PrimaryChannel)
	}
	return string(d.PrimaryChannel) + " + " + string(*d.SecondaryChannel)
}

func sanitize(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
}

// sanitizeCell also escapes pipes that would split a table column.
func sanitizeCell(s string) string {
	return strings.ReplaceAll(sanitize(s), "|", "\\|")
}

// fmtUSD formats whole dollars with comma separators (e.g. 9200 → "9,200").
func fmtUSD(n int64) string {
	if n < 0 {
		return "-" + fmtUSD(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	rem := len(s) % 3
	if rem > 0 {
		b.WriteString(s[:rem])
	}
	for i := rem; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

func fmtUSDf(n float64) string {
	return fmtUSD(int64(n))
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
