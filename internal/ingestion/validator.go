package ingestion

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	msgPriceNotPositive     = "Price should be greater than 0"
	msgSalePriceNotPositive = "Sale price should be greater than 0"
	msgSalePriceNotLower    = "Sale price should be less than regular price"
	msgInvalidPriceFormat   = "Invalid price format"
)

// Validation is the outcome of checking one row. Only Errors reject a row.
type Validation struct {
	Row      int
	Errors   []string
	Warnings []string
}

// Rejected reports whether the row must not be persisted.
func (v Validation) Rejected() bool {
	return len(v.Errors) > 0
}

// ValidateRow runs the required, recommended and price checks. Every check runs so a
// single pass reports all problems of the row.
func ValidateRow(row Row) Validation {
	result := Validation{Row: row.Number}

	for _, column := range RequiredColumns {
		if !row.Has(column) {
			result.Errors = append(result.Errors, fmt.Sprintf("Missing required field: %s", column))
		}
	}

	for _, column := range RecommendedColumns {
		if !row.Has(column) {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Missing recommended field: %s", column))
		}
	}

	result.Warnings = append(result.Warnings, checkPrices(row)...)
	return result
}

// checkPrices returns a single "Invalid price format" warning when the price does not
// parse; the sale price comparisons are skipped in that case. An unparseable sale price
// is treated as absent.
func checkPrices(row Row) []string {
	price, ok := ParsePrice(row.Get(ColumnPrice))
	if !ok {
		return []string{msgInvalidPriceFormat}
	}

	var warnings []string
	if price <= 0 {
		warnings = append(warnings, msgPriceNotPositive)
	}

	salePrice, ok := ParsePrice(row.Get(ColumnSalePrice))
	if !ok {
		return warnings
	}
	if salePrice <= 0 {
		warnings = append(warnings, msgSalePriceNotPositive)
	}
	if salePrice >= price {
		warnings = append(warnings, msgSalePriceNotLower)
	}
	return warnings
}

// ParsePrice leniently parses a money value: thousands separators are dropped and only
// the first whitespace-separated token is read, so "10,000 USD" yields 10000.
func ParsePrice(raw string) (float64, bool) {
	fields := strings.Fields(strings.ReplaceAll(raw, ",", ""))
	if len(fields) == 0 {
		return 0, false
	}

	value, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	return value, true
}
