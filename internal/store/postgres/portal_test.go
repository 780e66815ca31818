package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/seasonwatch/regs-crawler/internal/regs"
)

func TestPortalStoreOfficialRootNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPortalStore(mock, 0.70)

	mock.ExpectQuery("FROM state_official_roots").
		WithArgs("ZZ").
		WillReturnError(pgx.ErrNoRows)

	_, err = store.OfficialRoot(context.Background(), "ZZ")
	require.ErrorIs(t, err, regs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPortalStoreOfficialRoot(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPortalStore(mock, 0.70)

	mock.ExpectQuery("FROM state_official_roots").
		WithArgs("AL").
		WillReturnRows(pgxmock.NewRows([]string{
			"state_code", "state_name", "official_root_url", "official_domain",
		}).AddRow("AL", "Alabama", "https://www.outdooralabama.com", "outdooralabama.com"))

	root, err := store.OfficialRoot(context.Background(), "AL")
	require.NoError(t, err)
	require.Equal(t, "Alabama", root.StateName)
	require.Equal(t, "outdooralabama.com", root.OfficialDomain)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPortalStorePortalLinksDecodesMisc(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPortalStore(mock, 0.70)

	now := time.Unix(1700000000, 0).UTC()
	misc := []byte(`[{"url":"https://www.outdooralabama.com/licenses","label":"License+regs","confidence":0.4,"evidence_snippet":"license info"}]`)

	mock.ExpectQuery("FROM state_portal_links").
		WithArgs("AL").
		WillReturnRows(pgxmock.NewRows([]string{
			"state_code", "hunting_regs_url", "hunting_regs_pdf_url",
			"fishing_regs_url", "fishing_regs_pdf_url", "misc_related_urls", "updated_at",
		}).AddRow("AL", "https://www.outdooralabama.com/hunting", "",
			"https://www.outdooralabama.com/fishing", "", misc, now))

	links, err := store.PortalLinks(context.Background(), "AL")
	require.NoError(t, err)
	require.Equal(t, "https://www.outdooralabama.com/hunting", links.HuntingURL)
	require.Len(t, links.MiscRelated, 1)
	require.Equal(t, "License+regs", links.MiscRelated[0].Label)

	url, citation, ok := links.SourceFor("deer")
	require.True(t, ok)
	require.Equal(t, regs.CitationHTML, citation)
	require.Equal(t, links.HuntingURL, url)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPortalStoreSavePortalLinksStatuses(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPortalStore(mock, 0.70)

	now := time.Unix(1700000000, 0).UTC()
	upd := regs.PortalUpdate{
		StateCode: "AL",
		Output: regs.DiscoveryOutput{
			StateCode: "AL",
			Hunting: regs.CategoryLink{
				URL:        "https://www.outdooralabama.com/hunting",
				PDFURL:     "https://www.outdooralabama.com/hunting.pdf",
				Confidence: 0.9,
			},
			Fishing: regs.CategoryLink{
				URL:        "https://www.outdooralabama.com/fishing",
				Confidence: 0.5,
			},
			Notes: "fallback selection",
		},
		ResultJSON: []byte(`{"state_code":"AL"}`),
		UpdatedAt:  now,
	}

	// Hunting clears the confidence floor, fishing does not.
	mock.ExpectExec("INSERT INTO state_portal_links").
		WithArgs(
			"AL",
			upd.Output.Hunting.URL, "discovered", upd.Output.Hunting.PDFURL,
			upd.Output.Fishing.URL, "pending_review", "",
			[]byte(`[]`), upd.ResultJSON, "fallback selection", now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SavePortalLinks(context.Background(), upd))
	require.NoError(t, mock.ExpectationsWereMet())
}
