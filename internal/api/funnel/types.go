package funnel

import (
	"github.com/tjfontaine/funnel-draftkit/internal/pagedoc"
)

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// PageRef identifies one funnel page.
type PageRef struct {
	FunnelID string `json:"funnelId"`
	PageID   string `json:"pageId"`
}

// Valid reports whether both identifiers are set.
func (p PageRef) Valid() bool {
	return p.FunnelID != "" && p.PageID != ""
}

func (p PageRef) String() string {
	return p.FunnelID + "/" + p.PageID
}

// Message is one entry of the editor's AI conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest is the body sent to both generation endpoints.
type GenerateRequest struct {
	Prompt          string            `json:"prompt"`
	Messages        []Message         `json:"messages"`
	CurrentPuckData *pagedoc.Document `json:"currentPuckData"`
	GenerateImages  bool              `json:"generateImages"`
	MaxImages       int               `json:"maxImages"`
}

// GeneratedImage references an image the backend produced for the draft.
type GeneratedImage struct {
	URL     string `json:"url"`
	Alt     string `json:"alt,omitempty"`
	Prompt  string `json:"prompt,omitempty"`
	BlockID string `json:"blockId,omitempty"`
}
