package store

import (
	"context"
	"time"
)

// ListChats returns chat rows, optionally filtered to one instance.
func (db *DB) ListChats(ctx context.Context, instanceID string) ([]ChatRow, error) {
	query := `
		SELECT id, "remoteJid", name, "unreadMessages", "updatedAt", "createdAt", "instanceId", labels
		FROM "Chat"`
	var args []any
	if instanceID != "" {
		query += ` WHERE "instanceId" = $1`
		args = append(args, instanceID)
	}

	var chats []ChatRow
	if err := db.SelectContext(ctx, &chats, query, args...); err != nil {
		return nil, err
	}
	return chats, nil
}

// UpdateChatUnread writes the unread counter back to the chat row,
// touching updatedAt. Last write wins across concurrent clients.
func (db *DB) UpdateChatUnread(ctx context.Context, instanceID, remoteJID string, unread int) error {
	_, err := db.ExecContext(ctx, `
		UPDATE "Chat" SET "unreadMessages" = $1, "updatedAt" = $2
		WHERE "instanceId" = $3 AND "remoteJid" = $4`,
		unread, time.Now().UTC(), instanceID, remoteJID)
	return err
}
