package store

import "context"

const messageColumns = `id, key, message, "messageType", "messageTimestamp", "pushName", status, source, "instanceId", "chatId"`

// RecentMessages returns the newest messages across all chats, newest first.
// The conversation loader derives per-remote last-message previews from it.
func (db *DB) RecentMessages(ctx context.Context, instanceID string, limit int) ([]MessageRow, error) {
	if limit <= 0 {
		limit = 200
	}
	query := `SELECT ` + messageColumns + ` FROM "Message"`
	var args []any
	if instanceID != "" {
		query += ` WHERE "instanceId" = $1`
		args = append(args, instanceID)
	}
	query += ` ORDER BY "messageTimestamp" DESC NULLS LAST LIMIT ` + placeholder(len(args)+1)
	args = append(args, limit)

	var msgs []MessageRow
	if err := db.SelectContext(ctx, &msgs, query, args...); err != nil {
		return nil, err
	}
	return msgs, nil
}

// MessagesForRemote returns up to limit messages of one conversation,
// oldest first.
func (db *DB) MessagesForRemote(ctx context.Context, remoteJID, instanceID string, limit int) ([]MessageRow, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + messageColumns + ` FROM "Message" WHERE key->>'remoteJid' = $1`
	args := []any{remoteJID}
	if instanceID != "" {
		query += ` AND "instanceId" = $2`
		args = append(args, instanceID)
	}
	query += ` ORDER BY "messageTimestamp" ASC NULLS FIRST LIMIT ` + placeholder(len(args)+1)
	args = append(args, limit)

	var msgs []MessageRow
	if err := db.SelectContext(ctx, &msgs, query, args...); err != nil {
		return nil, err
	}
	return msgs, nil
}

// UpdateMessageStatus overwrites the status of the given message rows.
func (db *DB) UpdateMessageStatus(ctx context.Context, messageIDs []string, status string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	query, args, err := inQuery(`UPDATE "Message" SET status = ? WHERE id IN (?)`, status, messageIDs)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, db.Rebind(query), args...)
	return err
}
