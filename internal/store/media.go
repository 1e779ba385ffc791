package store

import "context"

const mediaColumns = `id, "fileName", type, mimetype, "messageId", "fileUrl"`

// MediaForMessages returns media rows attached to any of the given messages.
func (db *DB) MediaForMessages(ctx context.Context, messageIDs []string) ([]MediaRow, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	query, args, err := inQuery(`SELECT `+mediaColumns+` FROM "Media" WHERE "messageId" IN (?)`, messageIDs)
	if err != nil {
		return nil, err
	}

	var media []MediaRow
	if err := db.SelectContext(ctx, &media, db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return media, nil
}

// MediaForMessage returns media rows for one message. Used by the late-media
// re-fetch when an inbound event carried a media type but no attachment yet.
func (db *DB) MediaForMessage(ctx context.Context, messageID string) ([]MediaRow, error) {
	var media []MediaRow
	err := db.SelectContext(ctx, &media,
		`SELECT `+mediaColumns+` FROM "Media" WHERE "messageId" = $1`, messageID)
	if err != nil {
		return nil, err
	}
	return media, nil
}
