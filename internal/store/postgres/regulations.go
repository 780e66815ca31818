package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/seasonwatch/regs-crawler/internal/regs"
)

// RegulationStore implements regs.RegulationStore on the approved,
// pending, source, and audit tables.
type RegulationStore struct {
	pool querier
}

func NewRegulationStore(pool querier) *RegulationStore {
	return &RegulationStore{pool: pool}
}

// SourcesForCheck lists the extractable sources for one state and category,
// highest priority first.
func (s *RegulationStore) SourcesForCheck(ctx context.Context, stateCode, category string) ([]regs.SourceRecord, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, state_code, category,
       COALESCE(region_key, ''), COALESCE(region_label, ''),
       source_url, source_type,
       COALESCE(content_hash, ''), COALESCE(last_approved_hash, ''),
       priority
FROM regulation_sources
WHERE state_code = $1 AND category = $2 AND source_type = 'extractable'
ORDER BY priority DESC, id`, stateCode, category)
	if err != nil {
		return nil, fmt.Errorf("sources for %s/%s: %w", stateCode, category, err)
	}
	defer rows.Close()

	var out []regs.SourceRecord
	for rows.Next() {
		var rec regs.SourceRecord
		if err := rows.Scan(&rec.ID, &rec.StateCode, &rec.Category,
			&rec.RegionKey, &rec.RegionLabel,
			&rec.SourceURL, &rec.SourceType,
			&rec.ContentHash, &rec.LastApprovedHash, &rec.Priority); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *RegulationStore) UpdateSourceHash(ctx context.Context, sourceID, hash string, checkedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE regulation_sources
SET content_hash = $2, last_checked_at = $3
WHERE id = $1`, sourceID, hash, checkedAt)
	if err != nil {
		return fmt.Errorf("update source hash %s: %w", sourceID, err)
	}
	if tag.RowsAffected() == 0 {
		return regs.ErrNotFound
	}
	return nil
}

func (s *RegulationStore) SetSourceType(ctx context.Context, sourceID, sourceType string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE regulation_sources
SET source_type = $2, updated_at = now()
WHERE id = $1`, sourceID, sourceType)
	if err != nil {
		return fmt.Errorf("set source type %s: %w", sourceID, err)
	}
	if tag.RowsAffected() == 0 {
		return regs.ErrNotFound
	}
	return nil
}

// UpsertApproved writes or replaces the live summary row for the record's
// (state, category, season year, region) key and returns the row id.
func (s *RegulationStore) UpsertApproved(ctx context.Context, rec regs.RegulationRecord) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
INSERT INTO regulation_summaries (
	state_code, category, region_key, region_label, region_scope,
	season_year_label, year_start, year_end,
	summary_json, source_url, source_content_hash,
	confidence, approval_mode, approved_by, approved_at, extraction_version,
	updated_at
) VALUES ($1, $2, $3, $4, 'statewide', $5, $6, $6 + 1, $7, $8, $9, $10, $11, $12, now(), $13, now())
ON CONFLICT (state_code, category, season_year_label, region_key) DO UPDATE SET
	region_label = EXCLUDED.region_label,
	summary_json = EXCLUDED.summary_json,
	source_url = EXCLUDED.source_url,
	source_content_hash = EXCLUDED.source_content_hash,
	confidence = EXCLUDED.confidence,
	approval_mode = EXCLUDED.approval_mode,
	approved_by = EXCLUDED.approved_by,
	approved_at = EXCLUDED.approved_at,
	extraction_version = EXCLUDED.extraction_version,
	updated_at = EXCLUDED.updated_at
RETURNING id`,
		rec.StateCode, rec.Category, rec.RegionKey, rec.RegionLabel,
		rec.SeasonYearLabel, rec.YearStart,
		rec.Summary, rec.SourceURL, rec.SourceHash,
		rec.Confidence, string(rec.ApprovalMode), rec.ApprovedBy,
		rec.ExtractionVersion).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert approved %s/%s: %w", rec.StateCode, rec.Category, err)
	}
	return id, nil
}

// UpsertPending parks a low-confidence summary for human review under the
// same key the approved table uses.
func (s *RegulationStore) UpsertPending(ctx context.Context, rec regs.RegulationRecord) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO regulation_pending_reviews (
	state_code, category, region_key, region_label,
	season_year_label, year_start,
	proposed_summary_json, source_url, source_content_hash,
	confidence, extraction_version, extraction_warnings,
	pending_reason, diff_summary, status, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 'pending', now())
ON CONFLICT (state_code, category, season_year_label, region_key) DO UPDATE SET
	region_label = EXCLUDED.region_label,
	proposed_summary_json = EXCLUDED.proposed_summary_json,
	source_url = EXCLUDED.source_url,
	source_content_hash = EXCLUDED.source_content_hash,
	confidence = EXCLUDED.confidence,
	extraction_version = EXCLUDED.extraction_version,
	extraction_warnings = EXCLUDED.extraction_warnings,
	pending_reason = EXCLUDED.pending_reason,
	diff_summary = EXCLUDED.diff_summary,
	status = 'pending',
	updated_at = EXCLUDED.updated_at`,
		rec.StateCode, rec.Category, rec.RegionKey, rec.RegionLabel,
		rec.SeasonYearLabel, rec.YearStart,
		rec.Summary, rec.SourceURL, rec.SourceHash,
		rec.Confidence, rec.ExtractionVersion, rec.Warnings,
		rec.PendingReason, rec.DiffSummary)
	if err != nil {
		return fmt.Errorf("upsert pending %s/%s: %w", rec.StateCode, rec.Category, err)
	}
	return nil
}

// UpsertExtracted writes the per-species regulation row produced by an
// extraction job, keyed by (state, species, season year label).
func (s *RegulationStore) UpsertExtracted(ctx context.Context, rec regs.ExtractedRecord) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO state_species_regulations (
	state_code, species, season_year_label, year_start,
	payload_json, source_url, confidence, status,
	extraction_version, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (state_code, species, season_year_label) DO UPDATE SET
	payload_json = EXCLUDED.payload_json,
	source_url = EXCLUDED.source_url,
	confidence = EXCLUDED.confidence,
	status = EXCLUDED.status,
	extraction_version = EXCLUDED.extraction_version,
	updated_at = EXCLUDED.updated_at`,
		rec.StateCode, rec.Species, rec.SeasonYearLabel, rec.YearStart,
		rec.Payload, rec.SourceURL, rec.Confidence, rec.Status,
		rec.ExtractionVersion, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert extracted %s/%s: %w", rec.StateCode, rec.Species, err)
	}
	return nil
}

// AppendAudit records one check decision. Audit rows are append-only.
func (s *RegulationStore) AppendAudit(ctx context.Context, entry regs.AuditEntry) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO regulation_change_audit (
	state_code, category, region_key, detected_at,
	previous_hash, new_hash, confidence, approval_mode,
	diff_summary, warnings, approved_row_id
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''))`,
		entry.StateCode, entry.Category, entry.RegionKey, entry.DetectedAt,
		entry.PreviousHash, entry.NewHash, entry.Confidence, string(entry.ApprovalMode),
		entry.DiffSummary, entry.Warnings, entry.ApprovedRowID)
	if err != nil {
		return fmt.Errorf("append audit %s/%s: %w", entry.StateCode, entry.Category, err)
	}
	return nil
}
