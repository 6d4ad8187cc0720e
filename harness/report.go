package harness

import (
	"fmt"
	"os"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"github.com/sarchlab/prefetchsim/timing/cache"
)

// Report is the complete output format for a sweep.
type Report struct {
	// Metadata about the run
	Metadata ReportMetadata `json:"metadata"`

	// Results is the list of individual prefetcher results
	Results []Result `json:"results"`

	// Summary contains aggregate statistics
	Summary ReportSummary `json:"summary"`
}

// ReportMetadata contains information about the run.
type ReportMetadata struct {
	// Timestamp when the run happened
	Timestamp string `json:"timestamp"`

	// Trace names the replayed trace
	Trace string `json:"trace"`

	// Digest is the SHA3-256 digest of the trace records
	Digest string `json:"digest"`

	// Cache is the host cache configuration
	Cache cache.Config `json:"cache"`
}

// ReportSummary contains aggregate statistics across all results.
type ReportSummary struct {
	// TotalRuns is the number of prefetchers evaluated
	TotalRuns int `json:"total_runs"`

	// BestCoverage names the prefetcher with the highest coverage
	BestCoverage string `json:"best_coverage"`

	// BestAccuracy names the prefetcher with the highest accuracy
	BestAccuracy string `json:"best_accuracy"`

	// TotalWallTime is the total wall clock time for all runs
	TotalWallTime time.Duration `json:"total_wall_time_ns"`
}

// NewReport builds a report for results of one trace.
func (h *Harness) NewReport(trace, digest string, results []Result) Report {
	summary := ReportSummary{TotalRuns: len(results)}

	bestCov, bestAcc := -1.0, -1.0
	for _, r := range results {
		summary.TotalWallTime += r.WallTime
		if r.Coverage > bestCov {
			bestCov = r.Coverage
			summary.BestCoverage = r.Prefetcher
		}
		if r.Accuracy > bestAcc {
			bestAcc = r.Accuracy
			summary.BestAccuracy = r.Prefetcher
		}
	}

	return Report{
		Metadata: ReportMetadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Trace:     trace,
			Digest:    digest,
			Cache:     h.config.Cache,
		},
		Results: results,
		Summary: summary,
	}
}

// PrintResults outputs results in a human-readable format.
func (h *Harness) PrintResults(results []Result) {
	out := h.config.Output
	_, _ = fmt.Fprintln(out, "=== Prefetcher Results ===")
	_, _ = fmt.Fprintln(out, "")

	for _, r := range results {
		_, _ = fmt.Fprintf(out, "Trace: %s\n", r.Name)
		_, _ = fmt.Fprintf(out, "  Prefetcher: %s\n", r.Prefetcher)
		_, _ = fmt.Fprintln(out, "  --- Cache ---")
		_, _ = fmt.Fprintf(out, "  Accesses:  %d\n", r.Accesses)
		_, _ = fmt.Fprintf(out, "  Hits:      %d\n", r.Hits)
		_, _ = fmt.Fprintf(out, "  Misses:    %d\n", r.Misses)
		_, _ = fmt.Fprintf(out, "  Miss Rate: %.2f%%\n", 100*r.MissRate)

		if r.Issued > 0 || r.Triggers > 0 {
			_, _ = fmt.Fprintln(out, "  --- Prefetcher ---")
			_, _ = fmt.Fprintf(out, "  Triggers:        %d\n", r.Triggers)
			_, _ = fmt.Fprintf(out, "  Issued:          %d\n", r.Issued)
			_, _ = fmt.Fprintf(out, "  Redundant:       %d\n", r.Redundant)
			_, _ = fmt.Fprintf(out, "  Table Evictions: %d\n", r.TableEvictions)
			_, _ = fmt.Fprintf(out, "  Dropped:         %d\n", r.Dropped)
			_, _ = fmt.Fprintf(out, "  Fills:           %d\n", r.Fills)
			_, _ = fmt.Fprintf(out, "  Useful:          %d\n", r.Useful)
			_, _ = fmt.Fprintf(out, "  Late:            %d\n", r.Late)
			_, _ = fmt.Fprintf(out, "  Useless:         %d\n", r.Useless)
			_, _ = fmt.Fprintf(out, "  Coverage:        %.1f%%\n", 100*r.Coverage)
			_, _ = fmt.Fprintf(out, "  Accuracy:        %.1f%%\n", 100*r.Accuracy)
		}

		_, _ = fmt.Fprintf(out, "  Wall Time: %v\n", r.WallTime)
		_, _ = fmt.Fprintln(out, "")
	}
}

// PrintCSV outputs results in CSV format for easy comparison.
func (h *Harness) PrintCSV(results []Result) {
	_, _ = fmt.Fprintln(h.config.Output,
		"name,prefetcher,accesses,hits,misses,triggers,issued,redundant,dropped,fills,useful,late,useless,coverage,accuracy")

	for _, r := range results {
		_, _ = fmt.Fprintf(h.config.Output, "%s,%s,%d,%d,%d,%d,%d,%d,%d,%d,%d,%d,%d,%.4f,%.4f\n",
			r.Name,
			r.Prefetcher,
			r.Accesses,
			r.Hits,
			r.Misses,
			r.Triggers,
			r.Issued,
			r.Redundant,
			r.Dropped,
			r.Fills,
			r.Useful,
			r.Late,
			r.Useless,
			r.Coverage,
			r.Accuracy,
		)
	}
}

// WriteJSON saves a report to path.
func WriteJSON(path string, report Report) error {
	data, err := sonnet.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// LoadReport reads a report written by WriteJSON.
func LoadReport(path string) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, fmt.Errorf("failed to read report: %w", err)
	}

	var report Report
	if err := sonnet.Unmarshal(data, &report); err != nil {
		return Report{}, fmt.Errorf("failed to parse report: %w", err)
	}
	return report, nil
}
