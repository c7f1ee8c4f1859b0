// Package shipping prices parcels by weight tier.
package shipping

import "github.com/shopspring/decimal"

// BaseFee is charged on every parcel before the weight multiplier.
const BaseFee int64 = 5000

var (
	baseFee    = decimal.NewFromInt(BaseFee)
	gramsPerKg = decimal.NewFromInt(1000)
)

type tier struct {
	upTo       decimal.Decimal
	inclusive  bool
	multiplier decimal.Decimal
}

// tiers are ordered by upper bound; the last entry has no bound.
var tiers = []tier{
	{upTo: decimal.NewFromInt(100), multiplier: decimal.RequireFromString("0.72")},
	{upTo: decimal.NewFromInt(300), multiplier: decimal.RequireFromString("0.98")},
	{upTo: decimal.NewFromInt(1000), multiplier: decimal.RequireFromString("1.6")},
	{upTo: decimal.NewFromInt(5000), inclusive: true, multiplier: decimal.RequireFromString("2.3")},
	{upTo: decimal.NewFromInt(10000), inclusive: true, multiplier: decimal.RequireFromString("7.1")},
}

var heaviestMultiplier = decimal.RequireFromString("13.2")

// Parcel is one order line as the courier sees it.
type Parcel struct {
	WeightKg decimal.Decimal
	Quantity int
}

// Calculator is a stateless fee function. The zero value is ready to use.
type Calculator struct{}

func NewCalculator() Calculator {
	return Calculator{}
}

// Fee returns the shipping fee for the parcels of one sub-order in the
// smallest currency unit.
func (Calculator) Fee(parcels []Parcel) int64 {
	return Fee(parcels)
}

// Fee computes round(BaseFee + BaseFee * multiplier(total weight)).
func Fee(parcels []Parcel) int64 {
	m := Multiplier(TotalWeightGrams(parcels))
	return baseFee.Add(baseFee.Mul(m)).Round(0).IntPart()
}

// TotalWeightGrams sums weight_kg * 1000 * quantity. Missing or negative
// weights and non-positive quantities contribute nothing.
func TotalWeightGrams(parcels []Parcel) decimal.Decimal {
	total := decimal.Zero
	for _, p := range parcels {
		if p.Quantity <= 0 || !p.WeightKg.IsPositive() {
			continue
		}
		total = total.Add(p.WeightKg.Mul(gramsPerKg).Mul(decimal.NewFromInt(int64(p.Quantity))))
	}
	return total
}

// Multiplier maps a total weight in grams to its tier multiplier.
func Multiplier(grams decimal.Decimal) decimal.Decimal {
	for _, t := range tiers {
		if grams.LessThan(t.upTo) || (t.inclusive && grams.Equal(t.upTo)) {
			return t.multiplier
		}
	}
	return heaviestMultiplier
}
