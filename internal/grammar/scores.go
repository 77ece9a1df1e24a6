// Package grammar reads the structured markers the evaluation and weekly
// analysis prompts ask the model to emit.
package grammar

import (
	"regexp"
	"strconv"
)

// Scores holds the axis scores found in an evaluation. A nil field means the
// marker was absent from the text.
type Scores struct {
	Total   *int `json:"total"`
	Product *int `json:"product"`
	Pricing *int `json:"pricing"`
	Sales   *int `json:"sales"`
	Scale   *int `json:"scale"`
	Finance *int `json:"finance"`
}

var (
	totalPattern   = regexp.MustCompile(`【総合スコア:\s*(\d+)/100】`)
	productPattern = regexp.MustCompile(`【売り物:\s*(\d+)/20】`)
	pricingPattern = regexp.MustCompile(`【値付け:\s*(\d+)/20】`)
	salesPattern   = regexp.MustCompile(`【売る人:\s*(\d+)/20】`)
	scalePattern   = regexp.MustCompile(`【売れる仕組み:\s*(\d+)/20】`)
	financePattern = regexp.MustCompile(`【売上管理:\s*(\d+)/20】`)
)

// ParseScores extracts every axis. When a marker appears more than once the
// first occurrence wins.
func ParseScores(text string) Scores {
	return Scores{
		Total:   firstInt(totalPattern, text),
		Product: firstInt(productPattern, text),
		Pricing: firstInt(pricingPattern, text),
		Sales:   firstInt(salesPattern, text),
		Scale:   firstInt(scalePattern, text),
		Finance: firstInt(financePattern, text),
	}
}

// Complete reports whether all six markers were found.
func (s Scores) Complete() bool {
	return s.Total != nil && s.Product != nil && s.Pricing != nil &&
		s.Sales != nil && s.Scale != nil && s.Finance != nil
}

func firstInt(re *regexp.Regexp, text string) *int {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &n
}
