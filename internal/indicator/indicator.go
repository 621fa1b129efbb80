// Package indicator computes technical indicators from closed-candle
// history. All functions take the close series oldest-first and report
// ok=false when the series is too short to produce a value, so callers
// can skip persistence and broadcast without treating it as an error.
package indicator

// RSI computes the Relative Strength Index over the last `period` deltas
// of the close series using simple-average gains and losses.
//
// Needs at least period+1 closes. When the average loss over the window
// is zero the series had no down moves and the neutral value 50 is
// returned rather than the asymptotic 100. The result is clamped to
// [0, 100] to absorb float rounding at the extremes.
func RSI(closes []float64, period int) (float64, bool) {
	if period < 1 || len(closes) < period+1 {
		return 0, false
	}

	var gains, losses float64
	for i := len(closes) - period; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses += -delta
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 50, true
	}

	rs := avgGain / avgLoss
	rsi := 100 - 100/(1+rs)
	if rsi < 0 {
		rsi = 0
	} else if rsi > 100 {
		rsi = 100
	}
	return rsi, true
}

// ROC computes the Rate of Change: the percentage move of the latest
// close against the close `period` bars earlier.
//
// Needs at least period+1 closes. A zero reference close produces no
// value (the percentage is undefined).
func ROC(closes []float64, period int) (float64, bool) {
	if period < 1 || len(closes) < period+1 {
		return 0, false
	}

	cur := closes[len(closes)-1]
	past := closes[len(closes)-1-period]
	if past == 0 {
		return 0, false
	}
	return (cur - past) / past * 100, true
}

// ROCDerivative computes the one-bar change of ROC: ROC over the full
// series minus ROC over the series without its last sample.
//
// Needs at least period+2 closes, and both underlying ROC values must
// exist.
func ROCDerivative(closes []float64, period int) (float64, bool) {
	if period < 1 || len(closes) < period+2 {
		return 0, false
	}

	cur, ok := ROC(closes, period)
	if !ok {
		return 0, false
	}
	prev, ok := ROC(closes[:len(closes)-1], period)
	if !ok {
		return 0, false
	}
	return cur - prev, true
}
