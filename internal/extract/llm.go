package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/seasonwatch/regs-crawler/internal/llm"
	"github.com/seasonwatch/regs-crawler/internal/regs"
)

// normalizedSchema is the contract for the normalization pass. Name is
// the only required season field because agencies frequently publish
// seasons before dates are set.
var normalizedSchema = map[string]any{
	"type":     "object",
	"required": []any{"seasons", "bag_limits"},
	"properties": map[string]any{
		"seasons": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"name"},
				"properties": map[string]any{
					"name":       map[string]any{"type": "string"},
					"start_date": map[string]any{"type": []any{"string", "null"}},
					"end_date":   map[string]any{"type": []any{"string", "null"}},
					"notes":      map[string]any{"type": []any{"string", "null"}},
				},
			},
		},
		"bag_limits": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"species"},
				"properties": map[string]any{
					"species":    map[string]any{"type": "string"},
					"daily":      map[string]any{"type": []any{"string", "null"}},
					"possession": map[string]any{"type": []any{"string", "null"}},
					"season":     map[string]any{"type": []any{"string", "null"}},
					"notes":      map[string]any{"type": []any{"string", "null"}},
				},
			},
		},
		"legal_methods": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"name", "allowed"},
				"properties": map[string]any{
					"name":         map[string]any{"type": "string"},
					"allowed":      map[string]any{"type": "boolean"},
					"restrictions": map[string]any{"type": []any{"string", "null"}},
				},
			},
		},
		"notes": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
}

var extractionSchema = map[string]any{
	"type":     "object",
	"required": []any{"state_code", "species", "season_entries", "citations", "confidence_overall"},
	"properties": map[string]any{
		"state_code": map[string]any{"type": "string"},
		"species":    map[string]any{"type": "string"},
		"season_entries": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"name", "start_date", "end_date"},
				"properties": map[string]any{
					"name":                map[string]any{"type": "string"},
					"weapon":              map[string]any{"type": []any{"string", "null"}},
					"start_date":          map[string]any{"type": "string"},
					"end_date":            map[string]any{"type": "string"},
					"bag_limit":           map[string]any{"type": []any{"string", "null"}},
					"antler_restrictions": map[string]any{"type": []any{"string", "null"}},
					"area_notes":          map[string]any{"type": []any{"string", "null"}},
					"notes":               map[string]any{"type": []any{"string", "null"}},
				},
			},
		},
		"citations": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"url", "snippet"},
				"properties": map[string]any{
					"url":         map[string]any{"type": "string"},
					"type":        map[string]any{"type": "string"},
					"snippet":     map[string]any{"type": "string"},
					"page_number": map[string]any{"type": []any{"integer", "null"}},
				},
			},
		},
		"confidence_overall": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
	},
}

// Extractor runs the LLM passes. Models are resolved by the caller so
// basic and pro tiers can use different ones.
type Extractor struct {
	completer llm.Completer
	logger    *zap.Logger
	now       func() time.Time
}

func NewExtractor(completer llm.Completer, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{completer: completer, logger: logger, now: time.Now}
}

// SeasonParams identifies one extraction call.
type SeasonParams struct {
	StateCode  string
	Species    string
	SourceURL  string
	SourceType regs.CitationType
	Content    string
	Model      string
}

const extractSystemTemplate = `You are an expert at extracting hunting season regulations from official state wildlife agency documents.

TASK: Extract %s hunting season information for state %s.

For each season, extract:
- name: Season name (e.g., "Archery Season", "General Firearms Season", "Early Muzzleloader")
- weapon: Allowed weapons (bow, rifle, shotgun, muzzleloader, crossbow, etc.) or null
- start_date: YYYY-MM-DD format (REQUIRED)
- end_date: YYYY-MM-DD format (REQUIRED)
- bag_limit: Specific bag limit for this season or null
- antler_restrictions: Any antler point restrictions (e.g., "3 points on one side minimum")
- area_notes: Zone/area restrictions if not statewide
- notes: Any special notes

CRITICAL RULES:
1. ONLY extract information that is EXPLICITLY stated in the document
2. Do NOT guess or infer dates - if exact dates aren't shown, do NOT include that season
3. CITATIONS ARE REQUIRED for any date you extract - include the exact text that shows the dates
4. Dates must be in YYYY-MM-DD format (assume year %d or %d based on season timing)
5. If the document shows date ranges spanning multiple lines or formats, parse carefully
6. Do NOT hallucinate - if unsure, exclude the season rather than guess

OUTPUT: Return ONLY valid JSON matching this exact schema:

{
  "state_code": "%s",
  "species": "%s",
  "season_entries": [
    {
      "name": "...",
      "weapon": "bow" | "rifle" | "shotgun" | "muzzleloader" | "crossbow" | "any legal" | null,
      "start_date": "YYYY-MM-DD",
      "end_date": "YYYY-MM-DD",
      "bag_limit": "..." | null,
      "antler_restrictions": "..." | null,
      "area_notes": "..." | null,
      "notes": "..." | null
    }
  ],
  "bag_limits": {
    "daily": "..." | null,
    "possession": "..." | null,
    "season_total": "..." | null,
    "notes": "..." | null
  },
  "unit_scope": "statewide" | "zone_based" | "county_based" | "unknown",
  "citations": [
    {
      "url": "%s",
      "type": "%s",
      "snippet": "<EXACT text from document that shows the dates/limits>",
      "page_number": <number or null>
    }
  ],
  "confidence_overall": <0.0-1.0>,
  "skip_reason": null | "NO_SEASONS_FOUND" | "AMBIGUOUS" | "OUT_OF_SEASON",
  "notes": "<explanation of what you found or why you couldn't extract>"
}`

// ExtractSeasons runs the full strict-schema extraction for one
// state+species source document.
func (e *Extractor) ExtractSeasons(ctx context.Context, p SeasonParams) (*regs.ExtractionOutput, error) {
	year := e.now().Year()
	system := fmt.Sprintf(extractSystemTemplate,
		strings.ToUpper(p.Species), p.StateCode, year, year+1,
		p.StateCode, p.Species, p.SourceURL, p.SourceType)

	user := fmt.Sprintf(`Extract %s hunting season data from this %s document for %s.

SOURCE: %s

DOCUMENT CONTENT:
%s

Remember:
- ONLY include seasons with explicit dates
- Include exact citation snippets for each date you extract
- Set confidence based on how clear/complete the information is
- If no usable data, return empty season_entries with skip_reason`,
		p.Species, strings.ToUpper(string(p.SourceType)), p.StateCode, p.SourceURL, p.Content)

	content, err := e.completer.Complete(ctx, llm.Request{
		Model:       p.Model,
		System:      system,
		User:        user,
		Temperature: 0,
		MaxTokens:   4096,
		JSONMode:    true,
	})
	if err != nil {
		return nil, err
	}

	raw := llm.ExtractJSON(content)
	if err := llm.ValidateJSONAgainstSchema(extractionSchema, raw); err != nil {
		return nil, fmt.Errorf("extraction response rejected: %w", err)
	}

	var out regs.ExtractionOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode extraction response: %w", err)
	}
	if out.StateCode == "" {
		out.StateCode = p.StateCode
	}
	if out.Species == "" {
		out.Species = p.Species
	}
	if out.UnitScope == "" {
		out.UnitScope = regs.ScopeUnknown
	}
	return &out, nil
}

// NormalizeContent runs the normalization pass used by the scheduled
// source check when the regex pass finds no seasons.
func (e *Extractor) NormalizeContent(ctx context.Context, content, category, stateCode, model string) (NormalizedData, error) {
	system := fmt.Sprintf(`You are extracting hunting/fishing regulation data from state wildlife agency pages.
Extract ONLY information that is explicitly stated. DO NOT invent or guess any values.
If information is missing, leave the field empty or omit it.

Output strict JSON matching this schema:
{
  "seasons": [{"name": "string", "start_date": "Mon DD", "end_date": "Mon DD", "notes": "optional"}],
  "bag_limits": [{"species": "string", "daily": "number as string", "possession": "number as string", "season": "number as string", "notes": "optional"}],
  "legal_methods": [{"name": "rifle", "allowed": true, "restrictions": "optional"}],
  "notes": ["any important restrictions or rules"]
}

Rules:
- Dates should be in "Mon DD" format (e.g., "Oct 15", "Jan 1")
- Bag limits must be reasonable numbers (1-50)
- Only include seasons for the current category (%s)
- If you cannot find clear dates, return empty seasons array
- Never make up information`, category)

	user := fmt.Sprintf("Extract %s regulations for %s from this content:\n\n%s", category, stateCode, content)

	resp, err := e.completer.Complete(ctx, llm.Request{
		Model:       model,
		System:      system,
		User:        user,
		Temperature: 0.1,
		MaxTokens:   1500,
		JSONMode:    true,
	})
	if err != nil {
		return NormalizedData{}, err
	}

	raw := llm.ExtractJSON(resp)
	if err := llm.ValidateJSONAgainstSchema(normalizedSchema, raw); err != nil {
		return NormalizedData{}, fmt.Errorf("normalization response rejected: %w", err)
	}

	var data NormalizedData
	if err := json.Unmarshal(raw, &data); err != nil {
		return NormalizedData{}, fmt.Errorf("decode normalization response: %w", err)
	}
	return data, nil
}
