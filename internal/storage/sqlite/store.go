package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/funnel-draftkit/internal/api/funnel"
	"github.com/tjfontaine/funnel-draftkit/internal/pagedoc"
	"github.com/tjfontaine/funnel-draftkit/internal/storage"
)

// Store is a SQLite implementation of DraftStore
type Store struct {
	db *sqlx.DB
}

var _ storage.DraftStore = (*Store)(nil)

// New creates a new SQLite store
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS drafts (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			version_id TEXT NOT NULL UNIQUE,
			funnel_id TEXT NOT NULL,
			page_id TEXT NOT NULL,
			source TEXT NOT NULL,
			document TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transcript_messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			funnel_id TEXT NOT NULL,
			page_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_drafts_page ON drafts(funnel_id, page_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transcript_page ON transcript_messages(funnel_id, page_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *Store) SaveDraft(ctx context.Context, draft *storage.Draft) error {
	if draft.VersionID == "" {
		return fmt.Errorf("draft version id required")
	}
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = time.Now()
	}

	doc, err := draft.Document.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	query := `INSERT INTO drafts (version_id, funnel_id, page_id, source, document, created_at)
	          VALUES (?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		draft.VersionID, draft.Page.FunnelID, draft.Page.PageID, draft.Source, string(doc), draft.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save draft: %w", err)
	}

	return nil
}

const draftColumns = `version_id, funnel_id, page_id, source, document, created_at`

// draftRow is the drafts table row shape.
type draftRow struct {
	VersionID string    `db:"version_id"`
	FunnelID  string    `db:"funnel_id"`
	PageID    string    `db:"page_id"`
	Source    string    `db:"source"`
	Document  string    `db:"document"`
	CreatedAt time.Time `db:"created_at"`
}

func (s *Store) GetDraft(ctx context.Context, versionID string) (*storage.Draft, error) {
	var row draftRow
	err := s.db.GetContext(ctx, &row, `SELECT `+draftColumns+` FROM drafts WHERE version_id = ?`, versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("draft %s: %w", versionID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get draft: %w", err)
	}
	return row.toDraft()
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
	query := `SELECT ` + draftColumns + ` FROM drafts
	          WHERE funnel_id = ? AND page_id = ?
	          ORDER BY seq DESC`
	args := []any{page.FunnelID, page.PageID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []draftRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query drafts: %w", err)
	}

	drafts := make([]*storage.Draft, 0, len(rows))
	for _, row := range rows {
		d, err := row.toDraft()
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, d)
	}
	return drafts, nil
}

func (s *Store) AppendMessages(ctx context.Context, page funnel.PageRef, msgs ...funnel.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO transcript_messages (funnel_id, page_id, role, content, created_at)
	          VALUES (?, ?, ?, ?, ?)`

	now := time.Now()
	for _, msg := range msgs {
		if _, err := tx.ExecContext(ctx, query, page.FunnelID, page.PageID, msg.Role, msg.Content, now); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) Transcript(ctx context.Context, page funnel.PageRef) ([]funnel.Message, error) {
	query := `SELECT role, content FROM transcript_messages
	          WHERE funnel_id = ? AND page_id = ?
	          ORDER BY seq ASC`

	messages := []funnel.Message{}
	if err := s.db.SelectContext(ctx, &messages, query, page.FunnelID, page.PageID); err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	return messages, nil
}

func (s *Store) ClearTranscript(ctx context.Context, page funnel.PageRef) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM transcript_messages WHERE funnel_id = ? AND page_id = ?`, page.FunnelID, page.PageID)
	if err != nil {
		return fmt.Errorf("failed to clear transcript: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (r draftRow) toDraft() (*storage.Draft, error) {
	d := &storage.Draft{
		VersionID: r.VersionID,
		Page:      funnel.PageRef{FunnelID: r.FunnelID, PageID: r.PageID},
		Source:    r.Source,
		CreatedAt: r.CreatedAt,
	}

	// Stored documents pass through the normalizer again so rows written by
	// older versions still satisfy the document invariants.
	doc, err := pagedoc.Parse([]byte(r.Document))
	if err != nil && strings.TrimSpace(r.Document) != "" {
		return nil, fmt.Errorf("failed to decode draft %s: %w", r.VersionID, err)
	}
	d.Document = doc
	return d, nil
}
