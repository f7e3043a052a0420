package extraction

import (
	"math"
	"regexp"
)

var (
	currencyAmount = regexp.MustCompile(`(?:\bR|\bZAR)[ \t]?(\d{1,3}(?:[ ,]\d{3}\b)+(?:\.\d{1,2})?|\d{4,}(?:[.,]\d{1,2})?)`)
	groupedAmount  = regexp.MustCompile(`(?:^|[^\d.,])(\d{1,3}(?:,\d{3}\b)+(?:\.\d{1,2})?)`)
	salaryAmount   = regexp.MustCompile(`(?i)\b(?:salary|salaries|income|remuneration|earnings|wages)\b` + labelGap + skipCode + currency + amountExpr)
)

type searchRule struct {
	name   string
	expr   *regexp.Regexp
	score  float64
	inBand bool
}

var searchRules = []searchRule{
	{name: "currency", expr: currencyAmount, score: 0.9},
	{name: "keyword", expr: salaryAmount, score: 0.8},
	{name: "grouped", expr: groupedAmount, score: 0.6, inBand: true},
}

type scoredAmount struct {
	value  float64
	score  float64
	offset int
	rule   string
}

// searchGross looks anywhere in text for an amount that could be gross
// remuneration when no anchored pattern found one.
func searchGross(text string, limits Limits) (scoredAmount, bool) {
	var best scoredAmount
	found := false
	for _, rule := range searchRules {
		for _, loc := range rule.expr.FindAllStringSubmatchIndex(text, -1) {
			if loc[2] < 0 {
				continue
			}
			v := ParseAmount(text[loc[2]:loc[3]])
			if v < limits.GrossMin || v > limits.GrossMax {
				continue
			}
			if rule.inBand && (v < limits.SalaryBandMin || v > limits.SalaryBandMax) {
				continue
			}
			c := scoredAmount{
				value:  v,
				score:  rule.score + closeness(v, limits.FallbackMidpoint),
				offset: loc[2],
				rule:   rule.name,
			}
			if !found || c.score > best.score || (c.score == best.score && c.offset < best.offset) {
				best = c
				found = true
			}
		}
	}
	return best, found
}

func closeness(v, mid float64) float64 {
	return 1 / (1 + math.Abs(v-mid)/mid)
}
