// Package nop provides a regs.Publisher that discards everything. The
// local runner uses it when no event transport is configured.
package nop

import (
	"context"

	"github.com/seasonwatch/regs-crawler/internal/regs"
)

type Publisher struct{}

func New() Publisher { return Publisher{} }

func (Publisher) Publish(context.Context, regs.Event) error { return nil }

func (Publisher) Close() error { return nil }
