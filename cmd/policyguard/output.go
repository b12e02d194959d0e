package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kalambet/policyguard/internal/invoice"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

func statusLabel(s invoice.Status) string {
	switch s {
	case invoice.StatusApproved:
		return colorize(colorGreen, string(s))
	case invoice.StatusRejected:
		return colorize(colorRed, string(s))
	default:
		return colorize(colorYellow, string(s))
	}
}

// printAnalysis renders an analysis result for the terminal.
func printAnalysis(w io.Writer, res invoice.AnalysisResult) {
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Invoice:"), res.InvoiceID)
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Status:"), statusLabel(res.Status))
	fmt.Fprintf(w, "%s %d/100\n", colorize(colorBold, "Risk:"), res.OverallRiskScore)
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Summary:"), res.Summary)

	v := res.Validation
	fmt.Fprintf(w, "\n%s valid=%t confidence=%.0f\n", colorize(colorBold, "Validation"), v.IsValid, v.ConfidenceScore)
	if len(v.MissingMandatoryFields) > 0 {
		fmt.Fprintf(w, "  Missing: %s\n", strings.Join(v.MissingMandatoryFields, ", "))
	}
	for _, e := range v.ValidationErrors {
		fmt.Fprintf(w, "  - %s\n", e)
	}

	c := res.Compliance
	fmt.Fprintf(w, "\n%s compliant=%t risk=%.0f\n", colorize(colorBold, "Policy compliance"), c.IsCompliant, c.RiskScore)
	for _, viol := range c.Violations {
		fmt.Fprintf(w, "  [%s] %s\n", viol.Severity, viol.Description)
	}
	for _, rec := range c.Recommendations {
		fmt.Fprintf(w, "  > %s\n", rec)
	}
	if len(c.RelevantPolicySections) > 0 {
		fmt.Fprintf(w, "  Sections: %s\n", strings.Join(c.RelevantPolicySections, ", "))
	}
}
