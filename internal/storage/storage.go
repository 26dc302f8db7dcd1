// Package storage persists page drafts and AI conversation transcripts.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/tjfontaine/funnel-draftkit/internal/api/funnel"
	"github.com/tjfontaine/funnel-draftkit/internal/pagedoc"
)

// ErrNotFound is returned when a draft does not exist.
var ErrNotFound = errors.New("draft not found")

// Draft sources.
const (
	SourceAI     = "ai"
	SourceManual = "manual"
)

// Draft is one saved version of a page document.
type Draft struct {
	VersionID string
	Page      funnel.PageRef
	Document  *pagedoc.Document
	Source    string
	CreatedAt time.Time
}

// DraftStore persists drafts and transcripts per page.
type DraftStore interface {
	SaveDraft(ctx context.Context, draft *Draft) error
	GetDraft(ctx context.Context, versionID string) (*Draft, error)
	// LatestDraft returns ErrNotFound when the page has no drafts.
	LatestDraft(ctx context.Context, page funnel.PageRef) (*Draft, error)
	// ListDrafts returns drafts newest first. limit <= 0 means no limit.
	ListDrafts(ctx context.Context, page funnel.PageRef, limit int) ([]*Draft, error)

	AppendMessages(ctx context.Context, page funnel.PageRef, msgs ...funnel.Message) error
	Transcript(ctx context.Context, page funnel.PageRef) ([]funnel.Message, error)
	ClearTranscript(ctx context.Context, page funnel.PageRef) error

	Close() error
}
