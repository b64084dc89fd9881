package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// Row types mirror the table layout shared by the SQLite and Postgres
// backends. Both drivers scan into them; the mapping functions below are
// the only place where rows turn into domain values.

type userRow struct {
	ID           string
	Email        string
	PasswordHash string
	RiskProfile  *string
	CreatedAt    time.Time
}

type conversationRow struct {
	ID        string
	UserID    string
	Title     *string
	CreatedAt time.Time
	UpdatedAt time.Time
	Deleted   bool
}

type messageRow struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	CreatedAt      time.Time
	Metadata       []byte
}

func userFromRow(r userRow) User {
	return User{
		ID:           r.ID,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		RiskProfile:  r.RiskProfile,
		CreatedAt:    r.CreatedAt.UTC(),
	}
}

func conversationFromRow(r conversationRow) Conversation {
	var title *string
	if r.Title != nil {
		t := *r.Title
		title = &t
	}
	return Conversation{
		ID:        r.ID,
		UserID:    r.UserID,
		Title:     title,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
		Deleted:   r.Deleted,
	}
}

func messageFromRow(r messageRow) (Message, error) {
	role := Role(r.Role)
	if !role.Valid() {
		return Message{}, fmt.Errorf("message %s has unknown role %q", r.ID, r.Role)
	}

	var meta map[string]any
	if len(r.Metadata) > 0 && string(r.Metadata) != "null" {
		if err := json.Unmarshal(r.Metadata, &meta); err != nil {
			return Message{}, fmt.Errorf("message %s has malformed metadata: %w", r.ID, err)
		}
	}

	return Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		Role:           role,
		Content:        r.Content,
		CreatedAt:      r.CreatedAt.UTC(),
		Metadata:       meta,
	}, nil
}

func encodeMetadata(meta map[string]any) ([]byte, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message metadata: %w", err)
	}
	return b, nil
}

func reverseMessages(msgs []Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
