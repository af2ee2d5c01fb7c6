package scraper

import (
	"fmt"

	"github.com/Knetic/govaluate"

	"propscraper/internal/types"
)

// Filters are the job's record-level acceptance rules, e.g.
// "price >= 100000 && bedrooms >= 2". A record that fails any rule, or
// lacks a value a rule refers to, is skipped, not an error.
type Filters struct {
	exprs []*govaluate.EvaluableExpression
}

// CompileFilters parses the rules up front so a malformed rule is a
// validation failure, not a per-record surprise.
func CompileFilters(rules []string) (*Filters, error) {
	f := &Filters{}
	for _, rule := range rules {
		expr, err := govaluate.NewEvaluableExpression(rule)
		if err != nil {
			return nil, fmt.Errorf("%w: filter %q: %v", types.ErrValidation, rule, err)
		}
		f.exprs = append(f.exprs, expr)
	}
	return f, nil
}

// Accept evaluates every rule against the listing's numeric fields.
func (f *Filters) Accept(l types.Listing) bool {
	if len(f.exprs) == 0 {
		return true
	}
	params := filterParams(l)
	for _, expr := range f.exprs {
		res, err := expr.Evaluate(params)
		if err != nil {
			return false
		}
		pass, ok := res.(bool)
		if !ok || !pass {
			return false
		}
	}
	return true
}

func filterParams(l types.Listing) map[string]interface{} {
	params := map[string]interface{}{
		types.FieldTitle:        l.Title,
		types.FieldAddress:      l.Address,
		types.FieldCity:         l.City,
		types.FieldProvince:     l.Province,
		types.FieldPropertyType: l.PropertyType,
	}
	if l.Price != nil {
		params[types.FieldPrice] = float64(*l.Price)
	}
	if l.Bedrooms != nil {
		params[types.FieldBedrooms] = float64(*l.Bedrooms)
	}
	if l.Bathrooms != nil {
		params[types.FieldBathrooms] = float64(*l.Bathrooms)
	}
	if l.GarageSpaces != nil {
		params[types.FieldGarageSpaces] = float64(*l.GarageSpaces)
	}
	if l.LandSize != nil {
		params[types.FieldLandSize] = *l.LandSize
	}
	if l.FloorSize != nil {
		params[types.FieldFloorSize] = *l.FloorSize
	}
	return params
}
