// Package cache publishes invalidations for backend data the editor's host
// application caches, such as page and funnel detail views.
package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/tjfontaine/funnel-draftkit/internal/api/funnel"
)

// Kind identifies the cached resource family.
type Kind string

const (
	KindPageDetail   Kind = "page-detail"
	KindFunnelDetail Kind = "funnel-detail"
)

// Key names one cached resource.
type Key struct {
	Kind     Kind   `json:"kind"`
	FunnelID string `json:"funnelId"`
	PageID   string `json:"pageId,omitempty"`
}

// PageDetail returns the key for a page's detail view.
func PageDetail(page funnel.PageRef) Key {
	return Key{Kind: KindPageDetail, FunnelID: page.FunnelID, PageID: page.PageID}
}

// FunnelDetail returns the key for a funnel's detail view.
func FunnelDetail(funnelID string) Key {
	return Key{Kind: KindFunnelDetail, FunnelID: funnelID}
}

func (k Key) String() string {
	if k.PageID == "" {
		return fmt.Sprintf("%s:%s", k.Kind, k.FunnelID)
	}
	return fmt.Sprintf("%s:%s:%s", k.Kind, k.FunnelID, k.PageID)
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, ":")
	switch {
	case len(parts) == 3 && Kind(parts[0]) == KindPageDetail:
		return Key{Kind: KindPageDetail, FunnelID: parts[1], PageID: parts[2]}, nil
	case len(parts) == 2 && Kind(parts[0]) == KindFunnelDetail:
		return Key{Kind: KindFunnelDetail, FunnelID: parts[1]}, nil
	}
	return Key{}, fmt.Errorf("invalid cache key %q", s)
}

// Invalidator marks cached resources stale.
type Invalidator interface {
	Invalidate(ctx context.Context, keys ...Key) error
	Close() error
}

// Nop discards invalidations.
type Nop struct{}

func (Nop) Invalidate(context.Context, ...Key) error { return nil }
func (Nop) Close() error                             { return nil }
