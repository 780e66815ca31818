package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/seasonwatch/regs-crawler/internal/classify"
	"github.com/seasonwatch/regs-crawler/internal/regs"
)

var (
	isoDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	monthPrefix    = regexp.MustCompile(`(?i)^(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)`)
)

// ValidateOutput rejects an extraction whose dates are malformed or
// implausible. A single bad entry fails the whole batch: a model that
// fabricated one date cannot be trusted on the rest.
func ValidateOutput(out *regs.ExtractionOutput, now time.Time) error {
	currentYear := now.Year()
	for _, entry := range out.SeasonEntries {
		if !isValidISODate(entry.StartDate) {
			return fmt.Errorf("invalid start date: %s", entry.StartDate)
		}
		if !isValidISODate(entry.EndDate) {
			return fmt.Errorf("invalid end date: %s", entry.EndDate)
		}
		startYear, _ := strconv.Atoi(entry.StartDate[:4])
		if startYear < currentYear-1 || startYear > currentYear+2 {
			return fmt.Errorf("date year out of range: %s", entry.StartDate)
		}
		if entry.EndDate < entry.StartDate {
			return fmt.Errorf("end date before start date: %s to %s", entry.StartDate, entry.EndDate)
		}
	}
	return nil
}

func isValidISODate(s string) bool {
	if !isoDatePattern.MatchString(s) {
		return false
	}
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

// Validation is the verdict on a normalized summary.
type Validation struct {
	Valid         bool
	Warnings      []string
	PendingReason string
}

// ValidateNormalized checks the summary produced by the source check.
// The result is advisory: invalid or warned data still lands in the
// pending queue for a human.
func ValidateNormalized(data NormalizedData, category string) Validation {
	var warnings []string

	for _, s := range data.Seasons {
		if s.StartDate != "" && !monthPrefix.MatchString(s.StartDate) {
			warnings = append(warnings, "Invalid start date format: "+s.StartDate)
		}
		if s.EndDate != "" && !monthPrefix.MatchString(s.EndDate) {
			warnings = append(warnings, "Invalid end date format: "+s.EndDate)
		}
	}

	for _, b := range data.BagLimits {
		if !limitInRange(b.Daily, 1, 25) {
			warnings = append(warnings, "Suspicious daily limit: "+b.Daily)
		}
		if !limitInRange(b.Possession, 1, 50) {
			warnings = append(warnings, "Suspicious possession limit: "+b.Possession)
		}
		if !limitInRange(b.Season, 1, 50) {
			warnings = append(warnings, "Suspicious season limit: "+b.Season)
		}
	}

	valid := len(data.Seasons) > 0 || len(data.BagLimits) > 0

	v := Validation{Valid: valid, Warnings: warnings}
	if !valid {
		if strings.EqualFold(category, "deer") || strings.EqualFold(category, "turkey") {
			v.PendingReason = "No season dates found"
		} else {
			v.PendingReason = "Extraction incomplete"
		}
	}
	return v
}

func limitInRange(s string, min, max int) bool {
	if s == "" {
		return true
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	return err == nil && v >= min && v <= max
}

// ScorePolicy holds the confidence weights for the source check. The
// values are tuned against the review queue: changing them shifts the
// auto-approve / pending split across the whole fleet.
type ScorePolicy struct {
	Base             float64
	Table            float64
	Date             float64
	SeasonKeywords   float64
	PDFPenalty       float64
	AnySeasons       float64
	ManySeasons      float64
	AnyBagLimits     float64
	NoSeasonsPenalty float64
}

func DefaultScorePolicy() ScorePolicy {
	return ScorePolicy{
		Base:             0.5,
		Table:            0.15,
		Date:             0.15,
		SeasonKeywords:   0.1,
		PDFPenalty:       0.1,
		AnySeasons:       0.2,
		ManySeasons:      0.1,
		AnyBagLimits:     0.05,
		NoSeasonsPenalty: 0.3,
	}
}

// Confidence scores one extraction for the approval gate.
func (p ScorePolicy) Confidence(data NormalizedData, cls classify.Result, category string) float64 {
	score := p.Base
	if cls.HasTable {
		score += p.Table
	}
	if cls.HasDatePattern {
		score += p.Date
	}
	if cls.HasSeasonKeywords {
		score += p.SeasonKeywords
	}
	if cls.IsPDF {
		score -= p.PDFPenalty
	}
	if len(data.Seasons) >= 1 {
		score += p.AnySeasons
	}
	if len(data.Seasons) >= 3 {
		score += p.ManySeasons
	}
	if len(data.BagLimits) >= 1 {
		score += p.AnyBagLimits
	}
	hunting := strings.EqualFold(category, "deer") || strings.EqualFold(category, "turkey")
	if hunting && len(data.Seasons) == 0 {
		score -= p.NoSeasonsPenalty
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
