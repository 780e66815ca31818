// Package approval routes extraction results between automatic
// publication and the human review queue.
package approval

import (
	"github.com/seasonwatch/regs-crawler/internal/extract"
	"github.com/seasonwatch/regs-crawler/internal/metrics"
	"github.com/seasonwatch/regs-crawler/internal/regs"
)

// Gate holds the confidence thresholds. AutoThreshold is the fleet-wide
// auto-approve bar; LowConfidence marks results whose pending reason
// should say so explicitly.
type Gate struct {
	AutoThreshold float64
	LowConfidence float64
}

func NewGate(autoThreshold float64) Gate {
	if autoThreshold <= 0 {
		autoThreshold = 0.85
	}
	return Gate{AutoThreshold: autoThreshold, LowConfidence: 0.5}
}

// Decision is the routing verdict for one checked source.
type Decision struct {
	Mode          regs.ApprovalMode
	PendingReason string
}

// Decide routes one extraction. Auto-approval requires high confidence,
// a valid extraction, and a non-empty summary; everything else goes to
// the pending queue with a reason review staff can act on.
func (g Gate) Decide(confidence float64, v extract.Validation, hasData bool) Decision {
	if confidence >= g.AutoThreshold && v.Valid && hasData {
		metrics.ObserveApproval(string(regs.ApprovalAuto))
		return Decision{Mode: regs.ApprovalAuto}
	}

	reason := v.PendingReason
	if reason == "" {
		switch {
		case confidence < g.LowConfidence:
			reason = "Low confidence"
		case len(v.Warnings) > 0:
			reason = v.Warnings[0]
		default:
			reason = "Requires review"
		}
	}
	metrics.ObserveApproval(string(regs.ApprovalPending))
	return Decision{Mode: regs.ApprovalPending, PendingReason: reason}
}
