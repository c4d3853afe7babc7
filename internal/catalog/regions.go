package catalog

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

var ErrUnknownRegion = errors.New("unknown region")

// Region is an exit location offered by a validator.
type Region struct {
	Code string
	Name string
}

func (r Region) String() string {
	if r.Name == "" || r.Name == r.Code {
		return r.Code
	}
	return fmt.Sprintf("%s (%s)", r.Name, r.Code)
}

var regionNamer = display.English.Regions()

// RegionName returns the English display name for a territory code, or the
// code itself when it is not a known region.
func RegionName(code string) string {
	code = strings.TrimSpace(code)
	region, err := language.ParseRegion(code)
	if err != nil {
		return code
	}
	name := regionNamer.Name(region)
	if name == "" {
		return code
	}
	return name
}

// Regions pairs each code with its display name, preserving order.
func Regions(codes []string) []Region {
	regions := make([]Region, 0, len(codes))
	for _, code := range codes {
		regions = append(regions, Region{Code: code, Name: RegionName(code)})
	}
	return regions
}

// ResolveRegion accepts a region code (case-insensitive) or a display name
// and returns the matching code from the offered list.
func ResolveRegion(offered []string, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("%w: region is required", ErrUnknownRegion)
	}
	for _, code := range offered {
		if strings.EqualFold(code, input) {
			return code, nil
		}
	}
	for _, region := range Regions(offered) {
		if strings.EqualFold(region.Name, input) {
			return region.Code, nil
		}
	}
	return "", fmt.Errorf("%w: %q is not offered by this validator", ErrUnknownRegion, input)
}

// FilterRegions returns the regions whose code or display name contains
// query, case-insensitively. An empty query returns everything.
func FilterRegions(regions []Region, query string) []Region {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return append([]Region(nil), regions...)
	}
	var matches []Region
	for _, region := range regions {
		if strings.Contains(strings.ToLower(region.Name), query) || strings.Contains(strings.ToLower(region.Code), query) {
			matches = append(matches, region)
		}
	}
	return matches
}
