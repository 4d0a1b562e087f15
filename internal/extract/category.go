package extract

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Category is the closed set of topics an article is filed under.
type Category string

const (
	CategoryStorage    Category = "Storage"
	CategoryCompute    Category = "Compute"
	CategoryML         Category = "ML"
	CategoryGovernance Category = "Governance"
	CategorySecurity   Category = "Security"
	CategoryETL        Category = "ETL"
	CategoryDatabase   Category = "Database"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryStorage, CategoryCompute, CategoryML, CategoryGovernance,
	CategorySecurity, CategoryETL, CategoryDatabase,
}

// categoryAliases maps folded labels, French ones included, to categories.
var categoryAliases = map[string]Category{
	"storage":          CategoryStorage,
	"stockage":         CategoryStorage,
	"compute":          CategoryCompute,
	"calcul":           CategoryCompute,
	"ml":               CategoryML,
	"ai":               CategoryML,
	"ia":               CategoryML,
	"ai/ml":            CategoryML,
	"machine learning": CategoryML,
	"governance":       CategoryGovernance,
	"gouvernance":      CategoryGovernance,
	"security":         CategorySecurity,
	"securite":         CategorySecurity,
	"etl":              CategoryETL,
	"database":         CategoryDatabase,
	"databases":        CategoryDatabase,
	"base de donnees":  CategoryDatabase,
	"bases de donnees": CategoryDatabase,
}

// ParseCategory maps a model-supplied label onto a Category. Matching is
// case and accent insensitive.
func ParseCategory(label string) (Category, bool) {
	c, ok := categoryAliases[fold(label)]
	return c, ok
}

func fold(s string) string {
	var b strings.Builder
	for _, r := range norm.NFD.String(strings.ToLower(strings.TrimSpace(s))) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
