package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// composeReport renders the plain-text execution summary.
func composeReport(m RunMetrics, artifactPath string, uploaded bool, destinationURI string, now time.Time) string {
	uploadOutcome := "FAILED (artifact kept locally)"
	if uploaded {
		uploadOutcome = "OK " + destinationURI
	}

	var b strings.Builder
	b.WriteString("--- Execution Report ---\n")
	fmt.Fprintf(&b, "Timestamp: %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(&b, "Pages Requested: %d\n", m.PagesRequested)
	fmt.Fprintf(&b, "Successful Pages: %d\n", m.SuccessfulPages)
	fmt.Fprintf(&b, "Failed Pages: %d\n", m.FailedPages)
	fmt.Fprintf(&b, "Total Retries: %d\n", m.Retries)
	fmt.Fprintf(&b, "Records Ingested: %s\n", groupDigits(m.RecordsIngested))
	fmt.Fprintf(&b, "Execution Time: %s\n", formatElapsed(m.Elapsed))
	fmt.Fprintf(&b, "CSV Output: %s\n", artifactPath)
	fmt.Fprintf(&b, "Upload: %s\n", uploadOutcome)
	b.WriteString("Format Chosen: CSV (Reason: Streaming efficiency)\n")
	return b.String()
}

// formatElapsed renders a duration as whole minutes and seconds.
func formatElapsed(d time.Duration) string {
	total := int(d.Seconds())
	return fmt.Sprintf("%dm %ds", total/60, total%60)
}

// groupDigits renders n with thousands separators (1234567 -> "1,234,567").
func groupDigits(n int) string {
	s := strconv.Itoa(n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)

	out := strings.Join(parts, ",")
	if neg {
		out = "-" + out
	}
	return out
}
