package registry

import "strings"

// Filter narrows a result list to generic (EFG) or brand products for
// display. It is a pure projection over the current result set and never
// mutates session state.
type Filter string

// Supported filter values, mirroring the search form options.
const (
	FilterAll     Filter = "all"
	FilterGeneric Filter = "generic"
	FilterBrand   Filter = "brand"
)

// Valid reports whether f is a known filter value.
func (f Filter) Valid() bool {
	switch f {
	case FilterAll, FilterGeneric, FilterBrand:
		return true
	}
	return false
}

// Apply returns the subset of products matching the filter.
// Generic products are identified by the "EFG" marker in the product name.
func (f Filter) Apply(products []Product) []Product {
	if f == FilterAll || f == "" {
		return products
	}

	filtered := make([]Product, 0, len(products))
	for _, p := range products {
		generic := strings.Contains(strings.ToUpper(p.Name), "EFG")
		if (f == FilterGeneric && generic) || (f == FilterBrand && !generic) {
			filtered = append(filtered, p)
		}
	}
	return filtered
}
