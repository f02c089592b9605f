// Package domain defines the core domain models for the streaming engine.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one the chat endpoint accepts.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Content part types.
const (
	ContentTypeText     = "text"
	ContentTypeImageURL = "image_url"
)

// ContentPart is one element of a structured message body. Text parts carry
// Text; image parts carry ImageURL (a data URI or a remote URL).
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL wraps an image reference for vision-capable requests.
type ImageURL struct {
	URL string `json:"url"`
}

// Content is a message body. On the wire it is either a plain JSON string or
// an array of structured parts; a single text part round-trips as a string so
// text-only conversations stay in the compact form.
type Content []ContentPart

// Text builds a plain-text content body.
func Text(s string) Content {
	return Content{{Type: ContentTypeText, Text: s}}
}

// ImageContent builds a content body with a leading text part and an image.
func ImageContent(text, url string) Content {
	parts := Content{}
	if text != "" {
		parts = append(parts, ContentPart{Type: ContentTypeText, Text: text})
	}
	parts = append(parts, ContentPart{Type: ContentTypeImageURL, ImageURL: &ImageURL{URL: url}})
	return parts
}

// Flatten concatenates the text parts of the body.
func (c Content) Flatten() string {
	var b strings.Builder
	for _, p := range c {
		if p.Type == ContentTypeText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// HasImage reports whether the body carries at least one image part.
func (c Content) HasImage() bool {
	for _, p := range c {
		if p.Type == ContentTypeImageURL {
			return true
		}
	}
	return false
}

// MarshalJSON emits a plain string for text-only single-part bodies and an
// array of parts otherwise. An empty body marshals as "".
func (c Content) MarshalJSON() ([]byte, error) {
	if len(c) == 0 {
		return json.Marshal("")
	}
	if len(c) == 1 && c[0].Type == ContentTypeText {
		return json.Marshal(c[0].Text)
	}
	return json.Marshal([]ContentPart(c))
}

// UnmarshalJSON accepts both wire forms.
func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = Text(s)
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("content must be a string or an array of parts: %w", err)
	}
	*c = parts
	return nil
}

// Message represents a single message in a conversation payload. Immutable
// once constructed; owned by its Conversation.
type Message struct {
	Role    Role    `json:"role"`
	Content Content `json:"content"`
}

// Conversation is the ordered message sequence sent as the request payload.
type Conversation []Message

// Validate checks the payload invariants: the conversation is non-empty, the
// first message carries the system role (its content may be empty), and every
// role is known. Alternation of user/assistant turns is not enforced.
func (c Conversation) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("conversation is empty")
	}
	if c[0].Role != RoleSystem {
		return fmt.Errorf("first message must have role %q, got %q", RoleSystem, c[0].Role)
	}
	for i, m := range c {
		if !m.Role.Valid() {
			return fmt.Errorf("message %d has unknown role %q", i, m.Role)
		}
	}
	return nil
}

// PromptBytes returns the total size of the flattened message texts, used to
// gate oversized prompts.
func (c Conversation) PromptBytes() int {
	n := 0
	for _, m := range c {
		n += len(m.Content.Flatten())
	}
	return n
}
