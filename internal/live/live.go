// Package live implements the live-value layers a capture is restored to and
// saved from.
package live

import (
	"context"

	"github.com/hpungsan/snapkeep/internal/capture"
	"github.com/hpungsan/snapkeep/internal/restore"
)

// Layer is a live-value layer that can also be read, for saving captures.
type Layer interface {
	restore.Live
	Read(ctx context.Context, name string) (capture.Value, restore.ItemStatus)
	Close() error
}

// compatible reports whether v may be written over an item currently holding cur.
// An item without a value accepts anything.
func compatible(cur, v capture.Value) bool {
	if cur.Kind == capture.KindNone || cur.Kind == "" {
		return true
	}
	switch cur.Kind {
	case capture.KindNumber, capture.KindNumberArray:
		return v.Kind == capture.KindNumber || v.Kind == capture.KindNumberArray
	case capture.KindString, capture.KindStringArray:
		return v.Kind == capture.KindString || v.Kind == capture.KindStringArray
	}
	return false
}
