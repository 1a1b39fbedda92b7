// Package report renders forecast reports as HTML and PDF documents.
package report

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/joelkehle/forecastforge/internal/forecast"
)

var (
	reValidationPlan = regexp.MustCompile(`(?i)<h2([^>]*)>\s*Validation Plan\s*</h2>`)
	reDecisionMemo   = regexp.MustCompile(`(?i)<h2([^>]*)>\s*Decision Memo\s*</h2>`)
)

const reportCSS = `
:root{--ink:#1c1917;--muted:#57534e;--rule:#a8a29e;--accent:#0f766e;}
html,body,*{-webkit-print-color-adjust:exact !important;print-color-adjust:exact !important;}
body{font-family:-apple-system,"Segoe UI",Helvetica,Arial,sans-serif;color:var(--ink);background:#fff;margin:0;padding:0.6rem;line-height:1.45;}
.report-wrap{max-width:960px;margin:0 auto;}
.report-header{display:flex;justify-content:space-between;align-items:flex-start;border-bottom:2px solid var(--accent);padding-bottom:0.5rem;margin-bottom:1rem;}
.report-meta{color:var(--muted);font-size:0.85rem;}
.report-meta strong{color:var(--ink);}
.report-badge{display:inline-block;margin-left:0.35rem;padding:0.15rem 0.5rem;border-radius:999px;font-size:0.75rem;font-weight:600;background:#ccfbf1;color:#134e4a;border:1px solid #5eead4;}
.report-badge.confidence-low{background:#fef3c7;color:#78350f;border-color:#fcd34d;}
.report-badge.confidence-high{background:#dcfce7;color:#14532d;border-color:#86efac;}
.report-html table{width:100%;border-collapse:collapse;border:1px solid var(--rule);font-size:0.8rem;}
.report-html th,.report-html td{border:1px solid var(--rule);padding:0.35rem 0.45rem;text-align:left;vertical-align:top;}
.report-html thead th{background:#f1f5f9;font-weight:700;}
.report-html blockquote{color:var(--muted);border-left:3px solid var(--rule);margin-left:0;padding-left:0.75rem;}
.report-html h2[data-memo-heading="true"]{color:var(--accent);}
h2[data-page-break-before="true"]{break-before:page;page-break-before:always;}
@media print{@page{size:auto;margin:12mm;} body{padding:0;} .report-wrap{max-width:none;}}
`

// RenderHTML converts the forecast's Markdown report into a standalone HTML
// document. Raw HTML inside model-authored text is escaped by goldmark.
func RenderHTML(feature forecast.Feature, fc forecast.Forecast) (string, error) {
	body, err := MarkdownToHTML(forecast.BuildMarkdown(feature, fc))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("<!doctype html><html><head><meta charset='utf-8'><title>")
	b.WriteString(html.EscapeString("ROI Forecast: " + feature.Title))
	b.WriteString("</title><style>")
	b.WriteString(reportCSS)
	b.WriteString("</style></head><body><div class='report-wrap'><div class='report-header'><div class='report-meta'>")
	b.WriteString(buildMetaHTML(feature, fc))
	b.WriteString("</div><div class='report-badges'>")
	b.WriteString(buildBadgeHTML(fc))
	b.WriteString("</div></div><div class='report-html'>")
	b.WriteString(applyPrintLayoutHooks(body))
	b.WriteString("</div></div></body></html>")
	return b.String(), nil
}

func MarkdownToHTML(markdown string) (string, error) {
	var out strings.Builder
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := md.Convert([]byte(markdown), &out); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}
	return out.String(), nil
}

func applyPrintLayoutHooks(contentHTML string) string {
	out := reValidationPlan.ReplaceAllString(contentHTML, `<h2$1 data-page-break-before="true">Validation Plan</h2>`)
	out = reDecisionMemo.ReplaceAllString(out, `<h2$1 data-memo-heading="true">Decision Memo</h2>`)
	return out
}

func buildMetaHTML(feature forecast.Feature, fc forecast.Forecast) string {
	var out strings.Builder
	if t := strings.TrimSpace(feature.Title); t != "" {
		out.WriteString("<div><strong>Feature:</strong> " + html.EscapeString(t) + "</div>")
	}
	out.WriteString(fmt.Sprintf("<div><strong>Version:</strong> %d</div>", fc.Version))
	if !fc.CreatedAt.IsZero() {
		out.WriteString("<div><strong>Date:</strong> " + html.EscapeString(fc.CreatedAt.UTC().Format("January 2, 2006 at 15:04 MST")) + "</div>")
	}
	return out.String()
}

func buildBadgeHTML(fc forecast.Forecast) string {
	var out strings.Builder
	out.WriteString(fmt.Sprintf("<span class='report-badge'>ROI %.1f</span>", fc.ROIScore))
	if c := string(fc.Confidence); c != "" {
		out.WriteString("<span class='report-badge confidence-" + html.EscapeString(c) + "'>Confidence: " + html.EscapeString(c) + "</span>")
	}
	return out.String()
}
