package profit

import (
	"math/big"
)

var (
	two   = big.NewInt(2)
	three = big.NewInt(3)
)

// maximize finds the argmax of a unimodal f over [lo, hi] by ternary search.
func maximize(lo, hi *big.Int, f func(*big.Int) *big.Int) *big.Int {
	lo, hi = new(big.Int).Set(lo), new(big.Int).Set(hi)
	span := new(big.Int)
	for {
		span.Sub(hi, lo)
		if span.Cmp(three) < 0 {
			break
		}
		third := new(big.Int).Div(span, three)
		m1 := new(big.Int).Add(lo, third)
		m2 := new(big.Int).Sub(hi, third)
		if f(m1).Cmp(f(m2)) < 0 {
			lo = m1
		} else {
			hi = m2
		}
	}

	best, bestVal := lo, f(lo)
	for x := new(big.Int).Add(lo, big.NewInt(1)); x.Cmp(hi) <= 0; x = new(big.Int).Add(x, big.NewInt(1)) {
		if v := f(x); v.Cmp(bestVal) > 0 {
			best, bestVal = x, v
		}
	}
	return best
}

// largestFeasible returns the largest x in [0, hi] with ok(x), assuming ok is
// monotone (true then false). It returns nil when ok(0) is false.
func largestFeasible(hi *big.Int, ok func(*big.Int) bool) *big.Int {
	lo := big.NewInt(0)
	if !ok(lo) {
		return nil
	}
	if ok(hi) {
		return new(big.Int).Set(hi)
	}
	hi = new(big.Int).Set(hi)
	// Invariant: ok(lo) && !ok(hi).
	for new(big.Int).Sub(hi, lo).Cmp(big.NewInt(1)) > 0 {
		mid := new(big.Int).Add(lo, hi)
		mid.Div(mid, two)
		if ok(mid) {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) < 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

func clampSub(a, b *big.Int) *big.Int {
	out := new(big.Int).Sub(a, b)
	if out.Sign() < 0 {
		return out.SetInt64(0)
	}
	return out
}
