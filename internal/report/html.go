package report

import (
	_ "embed"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

//go:embed style.css
var styleCSS string

var (
	rePlatformPrices = regexp.MustCompile(`(?i)<h2([^>]*)>\s*Platform Prices\s*</h2>`)
	rePassHeading    = regexp.MustCompile(`(?i)<h2([^>]*)>\s*(Pass\s+[0-9]+:[^<]*)\s*</h2>`)
)

// HTML converts a markdown report into a standalone HTML document.
func HTML(title, markdown string) (string, error) {
	var content strings.Builder
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := md.Convert([]byte(markdown), &content); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}
	return "<!doctype html><html><head><meta charset='utf-8'><title>" + html.EscapeString(title) + "</title>" +
		"<style>" + styleCSS + "</style></head><body>" +
		"<div class='report-wrap'><section class='report-html'>" + applyPrintLayoutHooks(content.String()) + "</section></div>" +
		"</body></html>", nil
}

// applyPrintLayoutHooks starts the pass transcripts on a new page and tags pass headings
// so the stylesheet can set them apart.
func applyPrintLayoutHooks(contentHTML string) string {
	out := contentHTML
	first := rePassHeading.FindStringIndex(out)
	if first != nil {
		out = out[:first[0]] + strings.Replace(out[first[0]:], "<h2", `<h2 data-page-break-before="true"`, 1)
	}
	out = rePassHeading.ReplaceAllString(out, `<h2$1 data-pass-heading="true">$2</h2>`)
	out = rePlatformPrices.ReplaceAllString(out, `<h2$1 data-price-table="true">Platform Prices</h2>`)
	return out
}
