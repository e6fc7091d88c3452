// Package currency converts listing prices between JPY and USD at a
// fixed configured rate. The rate is operator-maintained; no live
// exchange lookup happens.
package currency

// Converter converts between JPY and USD.
type Converter struct {
	jpyPerUSD float64
}

// DefaultRate is used when configuration provides no rate.
const DefaultRate = 147.0

// New creates a Converter. Non-positive rates fall back to DefaultRate.
func New(jpyPerUSD float64) *Converter {
	if jpyPerUSD <= 0 {
		jpyPerUSD = DefaultRate
	}
	return &Converter{jpyPerUSD: jpyPerUSD}
}

// ToUSD converts a JPY amount to USD.
func (c *Converter) ToUSD(jpy int64) float64 {
	return float64(jpy) / c.jpyPerUSD
}

// ToJPY converts a USD amount to whole JPY.
func (c *Converter) ToJPY(usd float64) int64 {
	return int64(usd * c.jpyPerUSD)
}

// Rate returns the configured JPY-per-USD rate.
func (c *Converter) Rate() float64 {
	return c.jpyPerUSD
}
