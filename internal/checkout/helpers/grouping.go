package helpers

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/fulfillment-engine/internal/catalog"
)

var hundred = decimal.NewFromInt(100)

// PricedLine is a resolved catalog line with the purchased quantity and its
// discounted total.
type PricedLine struct {
	Line            catalog.Line
	VariantID       *uuid.UUID
	Quantity        int
	UnitPrice       int64
	DiscountPercent decimal.Decimal
	Total           int64
}

// ShopGroup holds the lines that ship together from one shop.
type ShopGroup struct {
	ShopID        uuid.UUID
	Lines         []PricedLine
	ItemsSubtotal int64
}

// ItemTotal is round((unitPrice - unitPrice*percent/100) * quantity).
// Percentages outside [0, 100] are clamped.
func ItemTotal(unitPrice int64, percent decimal.Decimal, quantity int) int64 {
	if quantity <= 0 || unitPrice <= 0 {
		return 0
	}
	if percent.IsNegative() {
		percent = decimal.Zero
	}
	if percent.GreaterThan(hundred) {
		percent = hundred
	}
	price := decimal.NewFromInt(unitPrice)
	discounted := price.Sub(price.Mul(percent).Div(hundred))
	return discounted.Mul(decimal.NewFromInt(int64(quantity))).Round(0).IntPart()
}

// PriceLine computes the totals for quantity units of line.
func PriceLine(line catalog.Line, quantity int) PricedLine {
	unit := line.UnitPrice()
	pct := line.Product.DiscountPercent
	var variantID *uuid.UUID
	if line.Variant != nil {
		id := line.Variant.ID
		variantID = &id
	}
	return PricedLine{
		Line:            line,
		VariantID:       variantID,
		Quantity:        quantity,
		UnitPrice:       unit,
		DiscountPercent: pct,
		Total:           ItemTotal(unit, pct, quantity),
	}
}

// GroupByShop splits lines per shop. Groups are ordered by shop id so the
// sub-orders of one checkout are always created in the same order.
func GroupByShop(lines []PricedLine) []ShopGroup {
	index := make(map[uuid.UUID]int)
	var groups []ShopGroup
	for _, line := range lines {
		shopID := line.Line.ShopID()
		i, ok := index[shopID]
		if !ok {
			i = len(groups)
			index[shopID] = i
			groups = append(groups, ShopGroup{ShopID: shopID})
		}
		groups[i].Lines = append(groups[i].Lines, line)
		groups[i].ItemsSubtotal += line.Total
	}
	sort.SliceStable(groups, func(a, b int) bool {
		return groups[a].ShopID.String() < groups[b].ShopID.String()
	})
	return groups
}

// Prorate splits amount across weights proportionally using the largest
// remainder method, so the shares always sum to amount exactly. Ties go to
// the earlier weight.
func Prorate(amount int64, weights []int64) []int64 {
	shares := make([]int64, len(weights))
	if amount <= 0 || len(weights) == 0 {
		return shares
	}
	var sum int64
	for _, w := range weights {
		if w > 0 {
			sum += w
		}
	}
	if sum == 0 {
		return shares
	}

	total := decimal.NewFromInt(amount)
	denom := decimal.NewFromInt(sum)
	type rem struct {
		idx  int
		frac decimal.Decimal
	}
	rems := make([]rem, 0, len(weights))
	var allocated int64
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		exact := total.Mul(decimal.NewFromInt(w))
		share := exact.Div(denom).Floor()
		shares[i] = share.IntPart()
		allocated += shares[i]
		rems = append(rems, rem{idx: i, frac: exact.Sub(share.Mul(denom))})
	}
	sort.SliceStable(rems, func(a, b int) bool {
		return rems[a].frac.GreaterThan(rems[b].frac)
	})
	left := amount - allocated
	for i := 0; left > 0; i++ {
		shares[rems[i%len(rems)].idx]++
		left--
	}
	return shares
}
