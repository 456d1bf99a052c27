package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

// summaryHeader is the stable column order consumers parse by position.
var summaryHeader = []string{
	"job_id", "strategy", "instrument_type", "metric",
	"sharpe", "return", "drawdown", "cagr",
}

// WriteSummary writes results as CSV in the given order.
func WriteSummary(w io.Writer, results []Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(summaryHeader); err != nil {
		return err
	}
	for _, r := range results {
		record := []string{
			r.JobID,
			r.Strategy,
			r.InstrumentType,
			r.Metric,
			formatFloat(r.Sharpe),
			formatFloat(r.Return),
			formatFloat(r.Drawdown),
			formatFloat(r.CAGR),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSummaryFile writes the summary CSV to path, truncating any existing
// file.
func WriteSummaryFile(path string, results []Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteSummary(f, results); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%.6f", v)
}
