package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"stockwatch/internal/inventory"
)

const logSeparator = "--------------------------------------------------"

// formatBaselineEntry renders the log block for a vendor's first poll.
// Anomalies can occur on a baseline too (a listing arriving with a negative
// count) and are surfaced the same way as on a diff cycle.
func formatBaselineEntry(ts, label string, totalOnHand, products int, anomalies []inventory.Anomaly) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s - BASELINE [%s]. Total on hand: %d units (unique products: %d)\n",
		ts, label, totalOnHand, products)
	writeAnomalies(&b, anomalies)
	b.WriteString(logSeparator + "\n")
	return b.String()
}

// formatCycleEntry renders the log block for a completed diff cycle: a
// header with the new total and units sold, one detail line per sale event,
// and one line per excluded anomaly.
func formatCycleEntry(ts, label string, totalOnHand int, result inventory.DiffResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s - [%s] Total on hand: %d ; Sold since last check: %d\n",
		ts, label, totalOnHand, result.TotalSold)

	if len(result.Events) > 0 {
		b.WriteString("Sales details:\n")
		for _, ev := range result.Events {
			priceInfo := fmt.Sprintf("price: %s", ev.UnitPrice.StringFixed(2))
			if ev.PriceMissing {
				priceInfo = "NO PRICE (revenue recorded as 0, add a row to product_prices)"
			}
			fmt.Fprintf(&b, "   - %s: sold %d units (remaining: %d) | %s\n",
				ev.ProductName, ev.Quantity, ev.Remaining, priceInfo)
		}
	} else {
		b.WriteString("(no sales detected)\n")
	}

	writeAnomalies(&b, result.Anomalies)

	b.WriteString("\n")
	return b.String()
}

func writeAnomalies(b *strings.Builder, anomalies []inventory.Anomaly) {
	if len(anomalies) == 0 {
		return
	}
	b.WriteString("Anomalies (excluded from this cycle):\n")
	for _, a := range anomalies {
		fmt.Fprintf(b, "   - %s: on-hand count %d -> %d is inconsistent\n",
			a.ProductName, a.Previous, a.Current)
	}
}

// formatFailureEntry renders the log block for a failed cycle. Failures are
// never silent; every cycle leaves exactly one entry.
func formatFailureEntry(ts, label string, cause error) string {
	return fmt.Sprintf("%s - [%s] cycle FAILED: %v\n%s\n", ts, label, cause, logSeparator)
}

// appendLog appends one entry block to the vendor's log file, creating the
// directory and file as needed.
func appendLog(dir, file, entry string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	path := filepath.Join(dir, file)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open run log: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(entry); err != nil {
		return fmt.Errorf("write run log: %w", err)
	}
	return nil
}
