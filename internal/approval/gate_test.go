package approval

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/seasonwatch/regs-crawler/internal/extract"
	"github.com/seasonwatch/regs-crawler/internal/regs"
)

func TestDecideAutoApproves(t *testing.T) {
	g := NewGate(0.85)
	d := g.Decide(0.9, extract.Validation{Valid: true}, true)
	require.Equal(t, regs.ApprovalAuto, d.Mode)
	require.Empty(t, d.PendingReason)
}

func TestDecidePendingRoutes(t *testing.T) {
	g := NewGate(0.85)

	cases := []struct {
		name       string
		confidence float64
		validation extract.Validation
		hasData    bool
		wantReason string
	}{
		{
			name:       "below threshold",
			confidence: 0.7,
			validation: extract.Validation{Valid: true},
			hasData:    true,
			wantReason: "Requires review",
		},
		{
			name:       "low confidence",
			confidence: 0.3,
			validation: extract.Validation{Valid: true},
			hasData:    true,
			wantReason: "Low confidence",
		},
		{
			name:       "first warning surfaces",
			confidence: 0.7,
			validation: extract.Validation{Valid: true, Warnings: []string{"Suspicious daily limit: 99", "other"}},
			hasData:    true,
			wantReason: "Suspicious daily limit: 99",
		},
		{
			name:       "validation reason wins",
			confidence: 0.9,
			validation: extract.Validation{Valid: false, PendingReason: "No season dates found"},
			hasData:    true,
			wantReason: "No season dates found",
		},
		{
			name:       "high confidence but empty summary",
			confidence: 0.95,
			validation: extract.Validation{Valid: true},
			hasData:    false,
			wantReason: "Requires review",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := g.Decide(tc.confidence, tc.validation, tc.hasData)
			require.Equal(t, regs.ApprovalPending, d.Mode)
			require.Equal(t, tc.wantReason, d.PendingReason)
		})
	}
}
