package attribution

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
)

// Report is the exact JSON shape named in §6: performance,
// performance_summary, max_drawdown, regime_performance[], transitions[].
type Report struct {
	Performance       Summary             `json:"performance"`
	PerformanceSummary map[string]float64 `json:"performance_summary"`
	MaxDrawdown       float64             `json:"max_drawdown"`
	RegimePerformance []RegimeSummary     `json:"regime_performance"`
	Transitions       []TransitionSummary `json:"transitions"`
}

// BuildReport assembles a Report from a Tracker's accumulated state.
func BuildReport(t *Tracker, riskFreeRate float64) Report {
	perf := t.Performance(riskFreeRate)
	return Report{
		Performance:       perf,
		PerformanceSummary: flattenSummary(perf),
		MaxDrawdown:       perf.MaxDrawdown,
		RegimePerformance: t.RegimeSummaries(riskFreeRate),
		Transitions:       t.TransitionSummaries(),
	}
}

func flattenSummary(s Summary) map[string]float64 {
	return map[string]float64{
		"total_return":    s.TotalReturn,
		"cagr":            s.CAGR,
		"volatility":      s.Volatility,
		"sharpe_ratio":    s.SharpeRatio,
		"sortino_ratio":   s.SortinoRatio,
		"calmar_ratio":    s.CalmarRatio,
		"omega_ratio":     s.OmegaRatio,
		"ulcer_index":     s.UlcerIndex,
		"tail_ratio":      s.TailRatio,
		"var_95":          s.VaR95,
		"var_99":          s.VaR99,
		"cvar_95":         s.CVaR95,
		"win_rate":        s.WinRate,
		"profit_factor":   s.ProfitFactor,
		"expectancy":      s.Expectancy,
		"avg_win":         s.AvgWin,
		"avg_loss":        s.AvgLoss,
	}
}

// WriteJSON writes the report as JSON (§6).
func WriteJSON(w io.Writer, report Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// WriteCSV writes the report as a "metric,value" row-per-metric CSV
// followed by regime and transition sections (§6).
func WriteCSV(w io.Writer, report Report) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write([]string{"metric", "value"}); err != nil {
		return err
	}
	for _, name := range sortedKeys(report.PerformanceSummary) {
		if err := cw.Write([]string{name, fmt.Sprintf("%v", report.PerformanceSummary[name])}); err != nil {
			return err
		}
	}
	if err := cw.Write([]string{"max_drawdown", fmt.Sprintf("%v", report.MaxDrawdown)}); err != nil {
		return err
	}

	if err := cw.Write([]string{}); err != nil {
		return err
	}
	if err := cw.Write([]string{"regime", "time_pct", "trade_count", "sharpe_ratio", "total_return"}); err != nil {
		return err
	}
	for _, r := range report.RegimePerformance {
		row := []string{
			r.Regime.String(),
			fmt.Sprintf("%v", r.TimePct),
			fmt.Sprintf("%d", r.TradeCount),
			fmt.Sprintf("%v", r.Summary.SharpeRatio),
			fmt.Sprintf("%v", r.Summary.TotalReturn),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	if err := cw.Write([]string{}); err != nil {
		return err
	}
	if err := cw.Write([]string{"from", "to", "occurrences", "avg_duration_seconds", "avg_confidence"}); err != nil {
		return err
	}
	for _, tr := range report.Transitions {
		row := []string{
			tr.From.String(),
			tr.To.String(),
			fmt.Sprintf("%d", tr.Occurrences),
			fmt.Sprintf("%v", tr.AvgDurationInFromSeconds),
			fmt.Sprintf("%v", tr.AvgConfidence),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys(m map[string]float64) []string {
	order := []string{
		"total_return", "cagr", "volatility", "sharpe_ratio", "sortino_ratio",
		"calmar_ratio", "omega_ratio", "ulcer_index", "tail_ratio", "var_95",
		"var_99", "cvar_95", "win_rate", "profit_factor", "expectancy",
		"avg_win", "avg_loss",
	}
	out := make([]string, 0, len(order))
	for _, k := range order {
		if _, ok := m[k]; ok {
			out = append(out, k)
		}
	}
	return out
}
