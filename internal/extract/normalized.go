// Package extract turns flattened regulation text into structured
// season data. A cheap regex pass runs first; the LLM pass is used when
// the regex pass finds nothing, and its output is schema-checked and
// validated before anything is stored.
package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// NormalizedSeason is one season row in the summary format stored for
// a state+category.
type NormalizedSeason struct {
	Name      string `json:"name"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// NormalizedBagLimit is one limit row, scoped to a species label.
type NormalizedBagLimit struct {
	Species    string `json:"species"`
	Daily      string `json:"daily,omitempty"`
	Possession string `json:"possession,omitempty"`
	Season     string `json:"season,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// LegalMethod is one permitted or prohibited take method.
type LegalMethod struct {
	Name         string `json:"name"`
	Allowed      bool   `json:"allowed"`
	Restrictions string `json:"restrictions,omitempty"`
}

// NormalizedData is the summary payload stored for an approved or
// pending regulation record.
type NormalizedData struct {
	Seasons      []NormalizedSeason   `json:"seasons"`
	BagLimits    []NormalizedBagLimit `json:"bag_limits"`
	LegalMethods []LegalMethod        `json:"legal_methods"`
	Notes        []string             `json:"notes"`
}

// Empty reports whether the extraction found nothing worth storing.
func (d NormalizedData) Empty() bool {
	return len(d.Seasons) == 0 && len(d.BagLimits) == 0 && len(d.Notes) == 0
}

type seasonPattern struct {
	name string
	re   *regexp.Regexp
}

// dateRange matches "Oct. 1 - Nov 15" style ranges following a season
// keyword.
const dateRange = `[^:]*:?[^\d]*(\w+\.?\s+\d{1,2})\s*[-\x{2013}]\s*(\w+\.?\s+\d{1,2})`

var seasonPatterns = []seasonPattern{
	{"Archery", regexp.MustCompile(`(?i)archery` + dateRange)},
	{"Muzzleloader", regexp.MustCompile(`(?i)muzzleloader` + dateRange)},
	{"Rifle", regexp.MustCompile(`(?i)rifle` + dateRange)},
	{"Firearm", regexp.MustCompile(`(?i)firearm` + dateRange)},
	{"General", regexp.MustCompile(`(?i)general\s+season` + dateRange)},
	{"Spring", regexp.MustCompile(`(?i)spring\s+(?:turkey\s+)?season` + dateRange)},
	{"Fall", regexp.MustCompile(`(?i)fall\s+(?:turkey\s+)?season` + dateRange)},
}

var bagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)daily\s*(?:bag)?\s*limit[:\s]*(\d+)`),
	regexp.MustCompile(`(?i)bag\s*limit[:\s]*(\d+)`),
	regexp.MustCompile(`(?i)(\d+)\s*(?:deer|turkey|fish)?\s*per\s*day`),
}

var knownMethods = []string{"rifle", "shotgun", "muzzleloader", "bow", "crossbow", "archery", "handgun"}

// RegexExtract is the fast first-pass extraction. It only finds the
// common "Keyword: Mon D - Mon D" layouts; anything it misses falls
// through to the LLM pass.
func RegexExtract(content string) NormalizedData {
	data := NormalizedData{
		Seasons:      []NormalizedSeason{},
		BagLimits:    []NormalizedBagLimit{},
		LegalMethods: []LegalMethod{},
		Notes:        []string{},
	}

	for _, sp := range seasonPatterns {
		for _, m := range sp.re.FindAllStringSubmatch(content, -1) {
			if m[1] == "" || m[2] == "" {
				continue
			}
			data.Seasons = append(data.Seasons, NormalizedSeason{
				Name:      sp.name + " Season",
				StartDate: strings.TrimSpace(m[1]),
				EndDate:   strings.TrimSpace(m[2]),
			})
		}
	}

	seen := map[string]bool{}
	for _, re := range bagPatterns {
		for _, m := range re.FindAllStringSubmatch(content, -1) {
			val, err := strconv.Atoi(m[1])
			if err != nil || val < 1 || val > 25 || seen[m[1]] {
				continue
			}
			seen[m[1]] = true
			data.BagLimits = append(data.BagLimits, NormalizedBagLimit{
				Species: "General",
				Daily:   m[1],
			})
		}
	}

	lower := strings.ToLower(content)
	for _, method := range knownMethods {
		if strings.Contains(lower, method) {
			data.LegalMethods = append(data.LegalMethods, LegalMethod{Name: method, Allowed: true})
		}
	}

	return data
}
