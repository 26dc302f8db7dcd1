package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tjfontaine/funnel-draftkit/internal/api/funnel"
	"github.com/tjfontaine/funnel-draftkit/internal/storage"
)

// Store is an in-memory implementation of DraftStore
type Store struct {
	mu          sync.RWMutex
	drafts      map[string]*storage.Draft
	byPage      map[funnel.PageRef][]string
	transcripts map[funnel.PageRef][]funnel.Message
}

var _ storage.DraftStore = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		drafts:      make(map[string]*storage.Draft),
		byPage:      make(map[funnel.PageRef][]string),
		transcripts: make(map[funnel.PageRef][]funnel.Message),
	}
}

func (s *Store) SaveDraft(ctx context.Context, draft *storage.Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if draft.VersionID == "" {
		return fmt.Errorf("draft version id required")
	}
	if _, exists := s.drafts[draft.VersionID]; exists {
		return fmt.Errorf("draft %s already exists", draft.VersionID)
	}

	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = time.Now()
	}
	stored := *draft
	stored.Document = draft.Document.Clone()

	s.drafts[draft.VersionID] = &stored
	s.byPage[draft.Page] = append(s.byPage[draft.Page], draft.VersionID)
	return nil
}

func (s *Store) GetDraft(ctx context.Context, versionID string) (*storage.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, exists := s.drafts[versionID]
	if !exists {
		return nil, fmt.Errorf("draft %s: %w", versionID, storage.ErrNotFound)
	}
	return copyDraft(d), nil
}

func (s *Store) LatestDraft(ctx context.Context, page funnel.PageRef) (*storage.Draft, error) {
	drafts, err := s.ListDrafts(ctx, page, 1)
	if err != nil {
		return nil, err
	}
	if len(drafts) == 0 {
		return nil, fmt.Errorf("page %s: %w", page, storage.ErrNotFound)
	}
	return drafts[0], nil
}

func (s *Store) ListDrafts(ctx context.Context, page funnel.PageRef, limit int) ([]*storage.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byPage[page]
	result := make([]*storage.Draft, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if limit > 0 && len(result) == limit {
			break
		}
		result = append(result, copyDraft(s.drafts[ids[i]]))
	}
	return result, nil
}

func (s *Store) AppendMessages(ctx context.Context, page funnel.PageRef, msgs ...funnel.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transcripts[page] = append(s.transcripts[page], msgs...)
	return nil
}

func (s *Store) Transcript(ctx context.Context, page funnel.PageRef) ([]funnel.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]funnel.Message{}, s.transcripts[page]...), nil
}

func (s *Store) ClearTranscript(ctx context.Context, page funnel.PageRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.transcripts, page)
	return nil
}

func (s *Store) Close() error {
	return nil
}

func copyDraft(d *storage.Draft) *storage.Draft {
	out := *d
	out.Document = d.Document.Clone()
	return &out
}
