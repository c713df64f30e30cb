package uniswap

import (
	"math/big"
)

// FeeDenominator is the basis-point scale fees are expressed in.
const FeeDenominator = 10000

var feeDen = big.NewInt(FeeDenominator)

func feeNumerator(feeBps uint32) *big.Int {
	return big.NewInt(int64(FeeDenominator) - int64(feeBps))
}

// GetAmountOut is the constant-product output for amountIn after a fee of
// feeBps. Rounds down like the pair contract.
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps uint32) *big.Int {
	if amountIn == nil || reserveIn == nil || reserveOut == nil ||
		amountIn.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return big.NewInt(0)
	}

	amountInWithFee := new(big.Int).Mul(amountIn, feeNumerator(feeBps))
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Add(new(big.Int).Mul(reserveIn, feeDen), amountInWithFee)
	return numerator.Div(numerator, denominator)
}

// GetAmountIn is the smallest input that yields amountOut. It returns nil
// when amountOut drains the pool.
func GetAmountIn(amountOut, reserveIn, reserveOut *big.Int, feeBps uint32) *big.Int {
	if amountOut == nil || reserveIn == nil || reserveOut == nil ||
		amountOut.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return big.NewInt(0)
	}
	if amountOut.Cmp(reserveOut) >= 0 {
		return nil
	}

	numerator := new(big.Int).Mul(new(big.Int).Mul(reserveIn, amountOut), feeDen)
	denominator := new(big.Int).Mul(new(big.Int).Sub(reserveOut, amountOut), feeNumerator(feeBps))
	amountIn := numerator.Div(numerator, denominator)
	return amountIn.Add(amountIn, big.NewInt(1))
}

// OptimalArbitrageInput sizes a two-pool round trip: buy on pool A
// (aIn -> aOut), sell back on pool B (bIn -> bOut), both charging feeBps.
// bIn is B's reserve of the token bought on A. The result maximises
// out(x) - x for the composed curve and is zero when no size profits.
//
//	x* = D * (fN*sqrt(aIn*aOut*bIn*bOut) - aIn*bIn*D) / (fN * (bIn*D + fN*aOut))
func OptimalArbitrageInput(aIn, aOut, bIn, bOut *big.Int, feeBps uint32) *big.Int {
	for _, r := range []*big.Int{aIn, aOut, bIn, bOut} {
		if r == nil || r.Sign() <= 0 {
			return big.NewInt(0)
		}
	}
	fN := feeNumerator(feeBps)

	product := new(big.Int).Mul(aIn, aOut)
	product.Mul(product, bIn)
	product.Mul(product, bOut)
	root := new(big.Int).Sqrt(product)

	lhs := new(big.Int).Mul(fN, root)
	rhs := new(big.Int).Mul(aIn, bIn)
	rhs.Mul(rhs, feeDen)
	if lhs.Cmp(rhs) <= 0 {
		return big.NewInt(0)
	}

	numerator := lhs.Sub(lhs, rhs)
	numerator.Mul(numerator, feeDen)
	denominator := new(big.Int).Mul(bIn, feeDen)
	denominator.Add(denominator, new(big.Int).Mul(fN, aOut))
	denominator.Mul(denominator, fN)
	return numerator.Div(numerator, denominator)
}
