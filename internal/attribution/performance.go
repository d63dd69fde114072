package attribution

import (
	"math"
	"sort"
	"time"

	"github.com/regimeflow/regimeflow/pkg/types"
)

// Summary mirrors original_source's PerformanceSummary (§4.8): the full
// set of return, risk and trade statistics derived from an equity curve
// and its fill stream.
type Summary struct {
	TotalReturn     float64
	CAGR            float64
	AvgDailyReturn  float64
	BestDay         float64
	WorstDay        float64
	AvgMonthlyReturn float64
	BestMonth       float64
	WorstMonth      float64

	Volatility        float64
	DownsideDeviation float64
	MaxDrawdown       float64
	MaxDrawdownStart  time.Time
	MaxDrawdownEnd    time.Time
	VaR95             float64
	VaR99             float64
	CVaR95            float64
	TailRatio         float64
	UlcerIndex        float64

	SharpeRatio     float64
	SortinoRatio    float64
	CalmarRatio     float64
	OmegaRatio      float64
	InformationRatio float64
	TreynorRatio    float64

	TotalTrades           int
	WinningTrades         int
	LosingTrades          int
	WinRate               float64
	ProfitFactor          float64
	AvgWin                float64
	AvgLoss               float64
	WinLossRatio          float64
	Expectancy            float64
	AvgTradeDurationDays  float64
	AnnualTurnover        float64
}

// Calculate reproduces original_source's PerformanceCalculator::calculate,
// computing the full statistic set from a (timestamp-ordered) equity
// curve and its fill stream. benchmarkReturns may be nil; if its length
// doesn't match the curve's per-period return count, information_ratio
// and treynor_ratio are left at zero.
func Calculate(curve []types.PortfolioSnapshot, fills []types.Fill, riskFreeRate float64, benchmarkReturns []float64) Summary {
	var s Summary
	if len(curve) < 2 {
		return s
	}

	periodsPerYear := periodsPerYear(curve)
	returns := computeReturns(curve)
	avg := mean(returns)
	vol := stddev(returns, avg)

	first := curve[0].Equity.InexactFloat64()
	last := curve[len(curve)-1].Equity.InexactFloat64()
	if first != 0 {
		s.TotalReturn = (last - first) / first
	}
	years := curve[len(curve)-1].Timestamp.Sub(curve[0].Timestamp).Hours() / (365.25 * 24.0)
	if years > 0 {
		s.CAGR = math.Pow(1+s.TotalReturn, 1/years) - 1
	}

	dailyReturns := compoundedBuckets(curve, "2006-01-02")
	s.AvgDailyReturn = mean(dailyReturns)
	if len(dailyReturns) > 0 {
		s.BestDay, s.WorstDay = minMax(dailyReturns)
	}

	monthlyReturns := compoundedBuckets(curve, "2006-01")
	s.AvgMonthlyReturn = mean(monthlyReturns)
	if len(monthlyReturns) > 0 {
		s.BestMonth, s.WorstMonth = minMax(monthlyReturns)
	}

	s.Volatility = vol * math.Sqrt(periodsPerYear)
	rfPerPeriod := riskFreeRate / periodsPerYear
	if vol > 0 {
		s.SharpeRatio = ((avg - rfPerPeriod) / vol) * math.Sqrt(periodsPerYear)
	}

	downsideSum := 0.0
	for _, r := range returns {
		if diff := r - rfPerPeriod; diff < 0 {
			downsideSum += diff * diff
		}
	}
	downsideDev := 0.0
	if len(returns) > 0 {
		downsideDev = math.Sqrt(downsideSum / float64(len(returns)))
	}
	s.DownsideDeviation = downsideDev * math.Sqrt(periodsPerYear)
	if downsideDev > 0 {
		s.SortinoRatio = ((avg - rfPerPeriod) / downsideDev) * math.Sqrt(periodsPerYear)
	}

	s.MaxDrawdownStart = curve[0].Timestamp
	s.MaxDrawdownEnd = curve[0].Timestamp
	s.MaxDrawdown, s.MaxDrawdownStart, s.MaxDrawdownEnd = maxDrawdown(curve)
	if s.MaxDrawdown > 0 {
		s.CalmarRatio = s.CAGR / s.MaxDrawdown
	}

	if len(returns) > 0 {
		var95 := percentile(returns, 0.05)
		var99 := percentile(returns, 0.01)
		s.VaR95 = -var95
		s.VaR99 = -var99

		sum, count := 0.0, 0
		for _, r := range returns {
			if r <= var95 {
				sum += r
				count++
			}
		}
		if count > 0 {
			s.CVaR95 = -(sum / float64(count))
		}

		p95 := percentile(returns, 0.95)
		p05 := percentile(returns, 0.05)
		if p05 != 0 {
			s.TailRatio = math.Abs(p95 / p05)
		}
	}

	drawdownsSq := make([]float64, 0, len(curve))
	peak := curve[0].Equity.InexactFloat64()
	for _, snap := range curve {
		e := snap.Equity.InexactFloat64()
		if e > peak {
			peak = e
		}
		dd := 0.0
		if peak > 0 {
			dd = (peak - e) / peak
		}
		drawdownsSq = append(drawdownsSq, dd*dd)
	}
	s.UlcerIndex = math.Sqrt(mean(drawdownsSq))

	gain, loss := 0.0, 0.0
	for _, r := range returns {
		excess := r - rfPerPeriod
		if excess > 0 {
			gain += excess
		} else if excess < 0 {
			loss += -excess
		}
	}
	if loss > 0 {
		s.OmegaRatio = gain / loss
	}

	if len(benchmarkReturns) == len(returns) && len(returns) > 0 {
		active := make([]float64, len(returns))
		for i := range returns {
			active[i] = returns[i] - benchmarkReturns[i]
		}
		activeMean := mean(active)
		trackingError := stddev(active, activeMean)
		if trackingError > 0 {
			s.InformationRatio = (activeMean / trackingError) * math.Sqrt(periodsPerYear)
		}

		benchmarkMean := mean(benchmarkReturns)
		cov, varB := 0.0, 0.0
		for i := range returns {
			cov += (returns[i] - avg) * (benchmarkReturns[i] - benchmarkMean)
			varB += (benchmarkReturns[i] - benchmarkMean) * (benchmarkReturns[i] - benchmarkMean)
		}
		beta := 0.0
		if varB > 0 {
			beta = cov / varB
		}
		if beta != 0 {
			annualized := avg*periodsPerYear - riskFreeRate
			s.TreynorRatio = annualized / beta
		}
	}

	trades := BuildTradesFromFills(fills)
	s.TotalTrades = len(trades)
	winSum, lossSum, durationSum := 0.0, 0.0, 0.0
	for _, t := range trades {
		durationSum += t.DurationDays
		if t.PnL >= 0 {
			s.WinningTrades++
			winSum += t.PnL
		} else {
			s.LosingTrades++
			lossSum += t.PnL
		}
	}
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades)
		s.AvgTradeDurationDays = durationSum / float64(s.TotalTrades)
	}
	if s.WinningTrades > 0 {
		s.AvgWin = winSum / float64(s.WinningTrades)
	}
	if s.LosingTrades > 0 {
		s.AvgLoss = lossSum / float64(s.LosingTrades)
	}
	if s.AvgLoss != 0 {
		s.WinLossRatio = math.Abs(s.AvgWin / s.AvgLoss)
	}
	if lossSum != 0 {
		s.ProfitFactor = math.Abs(winSum / lossSum)
	}
	s.Expectancy = s.WinRate*s.AvgWin - (1-s.WinRate)*math.Abs(s.AvgLoss)

	totalTradeValue := 0.0
	for _, f := range fills {
		totalTradeValue += math.Abs(f.Quantity.InexactFloat64() * f.Price.InexactFloat64())
	}
	avgEquity := 0.0
	for _, snap := range curve {
		avgEquity += snap.Equity.InexactFloat64()
	}
	avgEquity /= float64(len(curve))
	if avgEquity > 0 && years > 0 {
		s.AnnualTurnover = (totalTradeValue / avgEquity) / years
	}

	return s
}

func periodsPerYear(curve []types.PortfolioSnapshot) float64 {
	if len(curve) < 2 {
		return 252.0
	}
	totalSeconds := curve[len(curve)-1].Timestamp.Sub(curve[0].Timestamp).Seconds()
	if totalSeconds <= 0 {
		return 252.0
	}
	avgDelta := totalSeconds / float64(len(curve)-1)
	if avgDelta <= 0 {
		return 252.0
	}
	return (365.25 * 24.0 * 3600.0) / avgDelta
}

func computeReturns(curve []types.PortfolioSnapshot) []float64 {
	if len(curve) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity.InexactFloat64()
		if prev == 0 {
			returns = append(returns, 0)
			continue
		}
		cur := curve[i].Equity.InexactFloat64()
		returns = append(returns, (cur-prev)/prev)
	}
	return returns
}

func compoundedBuckets(curve []types.PortfolioSnapshot, layout string) []float64 {
	if len(curve) < 2 {
		return nil
	}
	buckets := make(map[string][]float64)
	order := make([]string, 0)
	for i := 1; i < len(curve); i++ {
		key := curve[i].Timestamp.Format(layout)
		prev := curve[i-1].Equity.InexactFloat64()
		ret := 0.0
		if prev != 0 {
			ret = (curve[i].Equity.InexactFloat64() - prev) / prev
		}
		if _, ok := buckets[key]; !ok {
			order = append(order, key)
		}
		buckets[key] = append(buckets[key], ret)
	}
	out := make([]float64, 0, len(order))
	for _, key := range order {
		compounded := 1.0
		for _, r := range buckets[key] {
			compounded *= 1 + r
		}
		out = append(out, compounded-1)
	}
	return out
}

func maxDrawdown(curve []types.PortfolioSnapshot) (float64, time.Time, time.Time) {
	if len(curve) == 0 {
		return 0, time.Time{}, time.Time{}
	}
	peak := curve[0].Equity.InexactFloat64()
	peakTime := curve[0].Timestamp
	maxDD := 0.0
	start, end := peakTime, peakTime
	for _, snap := range curve {
		e := snap.Equity.InexactFloat64()
		if e > peak {
			peak = e
			peakTime = snap.Timestamp
		}
		dd := 0.0
		if peak > 0 {
			dd = (peak - e) / peak
		}
		if dd > maxDD {
			maxDD = dd
			start = peakTime
			end = snap.Timestamp
		}
	}
	return maxDD, start, end
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddev(values []float64, meanValue float64) float64 {
	if len(values) < 2 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		diff := v - meanValue
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

func percentile(values []float64, alpha float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	pos := alpha * float64(len(sorted)-1)
	idx := int(pos)
	frac := pos - float64(idx)
	if idx+1 < len(sorted) {
		return sorted[idx]*(1-frac) + sorted[idx+1]*frac
	}
	return sorted[len(sorted)-1]
}

func minMax(values []float64) (min, max float64) {
	min, max = values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}
