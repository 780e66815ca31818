package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/seasonwatch/regs-crawler/internal/regs"
)

// PortalStore implements regs.PortalStore.
type PortalStore struct {
	pool querier
	// minConfidence gates the discovered vs pending_review status on
	// HTML selections.
	minConfidence float64
}

func NewPortalStore(pool querier, minConfidence float64) *PortalStore {
	if minConfidence <= 0 {
		minConfidence = 0.70
	}
	return &PortalStore{pool: pool, minConfidence: minConfidence}
}

// OfficialRoot loads the configured crawl entry point for a state.
func (s *PortalStore) OfficialRoot(ctx context.Context, stateCode string) (*regs.OfficialRoot, error) {
	var root regs.OfficialRoot
	err := s.pool.QueryRow(ctx, `
SELECT state_code, state_name, official_root_url, official_domain
FROM state_official_roots
WHERE state_code = $1`, stateCode).Scan(
		&root.StateCode, &root.StateName, &root.RootURL, &root.OfficialDomain)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, regs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("official root %s: %w", stateCode, err)
	}
	return &root, nil
}

// PortalLinks loads the stored link set for a state.
func (s *PortalStore) PortalLinks(ctx context.Context, stateCode string) (*regs.PortalLinks, error) {
	var (
		links    regs.PortalLinks
		miscJSON []byte
	)
	err := s.pool.QueryRow(ctx, `
SELECT state_code,
       COALESCE(hunting_regs_url, ''),
       COALESCE(hunting_regs_pdf_url, ''),
       COALESCE(fishing_regs_url, ''),
       COALESCE(fishing_regs_pdf_url, ''),
       COALESCE(misc_related_urls, '[]'::jsonb),
       updated_at
FROM state_portal_links
WHERE state_code = $1`, stateCode).Scan(
		&links.StateCode, &links.HuntingURL, &links.HuntingPDFURL,
		&links.FishingURL, &links.FishingPDFURL, &miscJSON, &links.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, regs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("portal links %s: %w", stateCode, err)
	}
	if err := json.Unmarshal(miscJSON, &links.MiscRelated); err != nil {
		return nil, fmt.Errorf("decode misc links %s: %w", stateCode, err)
	}
	return &links, nil
}

// SavePortalLinks upserts the discovery selection. HTML selections
// below the confidence floor are stored but flagged pending_review
// instead of discovered.
func (s *PortalStore) SavePortalLinks(ctx context.Context, upd regs.PortalUpdate) error {
	out := upd.Output

	misc := out.MiscRelated
	if misc == nil {
		misc = []regs.MiscLink{}
	}
	miscJSON, err := json.Marshal(misc)
	if err != nil {
		return fmt.Errorf("marshal misc links: %w", err)
	}

	huntingStatus := linkStatus(out.Hunting.URL, out.Hunting.Confidence, s.minConfidence)
	fishingStatus := linkStatus(out.Fishing.URL, out.Fishing.Confidence, s.minConfidence)

	_, err = s.pool.Exec(ctx, `
INSERT INTO state_portal_links (
	state_code,
	hunting_regs_url, hunting_regs_url_status, hunting_regs_pdf_url,
	fishing_regs_url, fishing_regs_url_status, fishing_regs_pdf_url,
	misc_related_urls, discovery_result_json, discovery_notes, updated_at
) VALUES ($1, NULLIF($2,''), NULLIF($3,''), NULLIF($4,''), NULLIF($5,''), NULLIF($6,''), NULLIF($7,''), $8, $9, $10, $11)
ON CONFLICT (state_code) DO UPDATE SET
	hunting_regs_url = COALESCE(EXCLUDED.hunting_regs_url, state_portal_links.hunting_regs_url),
	hunting_regs_url_status = COALESCE(EXCLUDED.hunting_regs_url_status, state_portal_links.hunting_regs_url_status),
	hunting_regs_pdf_url = COALESCE(EXCLUDED.hunting_regs_pdf_url, state_portal_links.hunting_regs_pdf_url),
	fishing_regs_url = COALESCE(EXCLUDED.fishing_regs_url, state_portal_links.fishing_regs_url),
	fishing_regs_url_status = COALESCE(EXCLUDED.fishing_regs_url_status, state_portal_links.fishing_regs_url_status),
	fishing_regs_pdf_url = COALESCE(EXCLUDED.fishing_regs_pdf_url, state_portal_links.fishing_regs_pdf_url),
	misc_related_urls = EXCLUDED.misc_related_urls,
	discovery_result_json = EXCLUDED.discovery_result_json,
	discovery_notes = EXCLUDED.discovery_notes,
	updated_at = EXCLUDED.updated_at`,
		upd.StateCode,
		out.Hunting.URL, huntingStatus, out.Hunting.PDFURL,
		out.Fishing.URL, fishingStatus, out.Fishing.PDFURL,
		miscJSON, upd.ResultJSON, out.Notes, upd.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save portal links %s: %w", upd.StateCode, err)
	}
	return nil
}

func linkStatus(url string, confidence, minConfidence float64) string {
	if url == "" {
		return ""
	}
	if confidence >= minConfidence {
		return "discovered"
	}
	return "pending_review"
}
