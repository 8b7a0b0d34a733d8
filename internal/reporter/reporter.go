// Package reporter renders run summaries and review queues for the CLI.
//
// Supported output formats:
//   - Console: human-readable sections for terminal display
//   - JSON: structured data for programmatic consumption
//   - CSV: one row per pass or candidate for spreadsheets
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"cod-reconciler/internal/models"
	"cod-reconciler/internal/reconciler"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// MaxCandidates limits the candidate rows printed in console output.
	// Zero prints all of them.
	MaxCandidates int `json:"max_candidates"`

	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:        FormatConsole,
		MaxCandidates: 50,
		CSVDelimiter:  ',',
		CSVHeaders:    true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxCandidates < 0 {
		return fmt.Errorf("max candidates cannot be negative, got %d", c.MaxCandidates)
	}
	return nil
}

// ReportGenerator writes reports in the configured format
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return &ReportGenerator{config: config}, nil
}

// WriteRun writes the summary of a run
func (rg *ReportGenerator) WriteRun(run *reconciler.RunSummary, writer io.Writer) error {
	if run == nil {
		return fmt.Errorf("run summary cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.writeRunConsole(run, writer)
	case FormatJSON:
		return writeJSON(run, writer)
	case FormatCSV:
		return rg.writeRunCSV(run, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// WritePass writes the summary of a single pass
func (rg *ReportGenerator) WritePass(pass *reconciler.PassSummary, writer io.Writer) error {
	if pass == nil {
		return fmt.Errorf("pass summary cannot be nil")
	}
	return rg.WriteRun(&reconciler.RunSummary{
		RunID:    pass.RunID,
		Passes:   []*reconciler.PassSummary{pass},
		Duration: pass.Duration,
	}, writer)
}

func (rg *ReportGenerator) writeRunConsole(run *reconciler.RunSummary, writer io.Writer) error {
	fmt.Fprintf(writer, "RECONCILIATION RUN %s\n", run.RunID)
	if !run.StartedAt.IsZero() {
		fmt.Fprintf(writer, "Started: %s\n", run.StartedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(writer, "Duration: %v\n\n", run.Duration.Round(time.Millisecond))

	for _, p := range run.Passes {
		fmt.Fprintf(writer, "=== %s ===\n", strings.ToUpper(strings.ReplaceAll(p.Pass, "_", " ")))
		fmt.Fprintf(writer, "  Considered: %d\n", p.Considered)
		if p.Excluded > 0 {
			fmt.Fprintf(writer, "  Excluded:   %d\n", p.Excluded)
		}
		fmt.Fprintf(writer, "  Matched:    %d (%d new)\n", p.Produced, p.Written)
		fmt.Fprintf(writer, "  Unmatched:  %d (%.1f%%)\n", p.Unmatched, percentage(p.Unmatched, p.Considered))
		if p.Pass == reconciler.PassOrders {
			fmt.Fprintf(writer, "  Candidates: %d\n", p.Candidates)
			fmt.Fprintf(writer, "  Needs invoice: %d\n", p.NeedsInvoice)
		}
		if p.Pass == reconciler.PassCustomerKeys {
			fmt.Fprintf(writer, "  Invalid phones: %d\n", p.InvalidPhones)
		}
		fmt.Fprintf(writer, "\n")
	}
	return nil
}

func (rg *ReportGenerator) writeRunCSV(run *reconciler.RunSummary, writer io.Writer) error {
	w := rg.csvWriter(writer)

	if rg.config.CSVHeaders {
		headers := []string{"Run_ID", "Pass", "Considered", "Excluded", "Produced", "Written", "Unmatched", "Candidates", "Needs_Invoice", "Duration_MS"}
		if err := w.Write(headers); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, p := range run.Passes {
		record := []string{
			p.RunID,
			p.Pass,
			strconv.Itoa(p.Considered),
			strconv.Itoa(p.Excluded),
			strconv.Itoa(p.Produced),
			strconv.Itoa(p.Written),
			strconv.Itoa(p.Unmatched),
			strconv.Itoa(p.Candidates),
			strconv.Itoa(p.NeedsInvoice),
			strconv.FormatInt(p.Duration.Milliseconds(), 10),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write pass record: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

// ReviewQueue is what a reviewer works through: ranked candidates per order
// and the orders still needing an invoice
type ReviewQueue struct {
	Candidates   []models.CandidateRecord `json:"candidates"`
	NeedsInvoice []int64                  `json:"needs_invoice"`
}

// WriteReviewQueue writes the open review items
func (rg *ReportGenerator) WriteReviewQueue(queue *ReviewQueue, writer io.Writer) error {
	if queue == nil {
		return fmt.Errorf("review queue cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.writeQueueConsole(queue, writer)
	case FormatJSON:
		return writeJSON(queue, writer)
	case FormatCSV:
		return rg.writeQueueCSV(queue, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func (rg *ReportGenerator) writeQueueConsole(queue *ReviewQueue, writer io.Writer) error {
	fmt.Fprintf(writer, "=== CANDIDATES ===\n")
	if len(queue.Candidates) == 0 {
		fmt.Fprintf(writer, "  none\n")
	} else {
		fmt.Fprintf(writer, "%-10s %-10s %-6s %-5s %s\n", "ORDER", "INVOICE", "SCORE", "RANK", "REASONS")
		for i, c := range queue.Candidates {
			if rg.config.MaxCandidates > 0 && i >= rg.config.MaxCandidates {
				fmt.Fprintf(writer, "... and %d more\n", len(queue.Candidates)-i)
				break
			}
			fmt.Fprintf(writer, "%-10d %-10d %-6d %-5d %s\n", c.DemandID, c.SettlementID, c.Score, c.Rank, strings.Join(c.Reasons, ", "))
		}
	}

	fmt.Fprintf(writer, "\n=== NEEDS INVOICE ===\n")
	if len(queue.NeedsInvoice) == 0 {
		fmt.Fprintf(writer, "  none\n")
		return nil
	}
	ids := make([]string, 0, len(queue.NeedsInvoice))
	for _, id := range queue.NeedsInvoice {
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	fmt.Fprintf(writer, "  orders: %s\n", strings.Join(ids, ", "))
	return nil
}

func (rg *ReportGenerator) writeQueueCSV(queue *ReviewQueue, writer io.Writer) error {
	w := rg.csvWriter(writer)

	if rg.config.CSVHeaders {
		if err := w.Write([]string{"Type", "Order_ID", "Invoice_ID", "Score", "Rank", "Reasons"}); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}
	for _, c := range queue.Candidates {
		record := []string{
			"candidate",
			strconv.FormatInt(c.DemandID, 10),
			strconv.FormatInt(c.SettlementID, 10),
			strconv.Itoa(c.Score),
			strconv.Itoa(c.Rank),
			strings.Join(c.Reasons, ";"),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write candidate record: %w", err)
		}
	}
	for _, id := range queue.NeedsInvoice {
		if err := w.Write([]string{models.FlagNeedsInvoice, strconv.FormatInt(id, 10), "", "", "", ""}); err != nil {
			return fmt.Errorf("failed to write flag record: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

func (rg *ReportGenerator) csvWriter(writer io.Writer) *csv.Writer {
	w := csv.NewWriter(writer)
	if rg.config.CSVDelimiter != 0 {
		w.Comma = rg.config.CSVDelimiter
	}
	return w
}

func writeJSON(v interface{}, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func percentage(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
