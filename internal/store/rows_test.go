package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConversationFromRowCopiesTitle(t *testing.T) {
	title := "Budgeting basics"
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	row := conversationRow{ID: "c1", UserID: "u1", Title: &title, CreatedAt: now, UpdatedAt: now}

	conv := conversationFromRow(row)
	title = "changed"

	require.Equal(t, "Budgeting basics", *conv.Title)
	require.Equal(t, time.UTC, conv.CreatedAt.Location())
	require.True(t, conv.CreatedAt.Equal(now))
}

func TestConversationFromRowNilTitle(t *testing.T) {
	conv := conversationFromRow(conversationRow{ID: "c1", UserID: "u1"})
	require.Nil(t, conv.Title)
}

func TestMessageFromRow(t *testing.T) {
	tests := []struct {
		name    string
		row     messageRow
		want    map[string]any
		wantErr string
	}{
		{
			name: "no metadata",
			row:  messageRow{ID: "m1", ConversationID: "c1", Role: "user", Content: "hi"},
		},
		{
			name: "json null metadata",
			row:  messageRow{ID: "m1", Role: "assistant", Metadata: []byte("null")},
		},
		{
			name: "metadata object",
			row:  messageRow{ID: "m1", Role: "assistant", Metadata: []byte(`{"fallback":true}`)},
			want: map[string]any{"fallback": true},
		},
		{
			name:    "unknown role",
			row:     messageRow{ID: "m1", Role: "model"},
			wantErr: "unknown role",
		},
		{
			name:    "malformed metadata",
			row:     messageRow{ID: "m1", Role: "user", Metadata: []byte("{")},
			wantErr: "malformed metadata",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := messageFromRow(tt.row)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, msg.Metadata)
			require.Equal(t, Role(tt.row.Role), msg.Role)
		})
	}
}

func TestEncodeMetadata(t *testing.T) {
	b, err := encodeMetadata(nil)
	require.NoError(t, err)
	require.Nil(t, b)

	b, err = encodeMetadata(map[string]any{"fallback": true})
	require.NoError(t, err)
	require.JSONEq(t, `{"fallback":true}`, string(b))
}

func TestReverseMessages(t *testing.T) {
	msgs := []Message{{ID: "3"}, {ID: "2"}, {ID: "1"}}
	reverseMessages(msgs)
	require.Equal(t, []Message{{ID: "1"}, {ID: "2"}, {ID: "3"}}, msgs)
}
