package store

import "context"

// ListContacts returns contact rows, optionally filtered to one instance.
func (db *DB) ListContacts(ctx context.Context, instanceID string) ([]ContactRow, error) {
	query := `
		SELECT "remoteJid", "pushName", "profilePicUrl", "instanceId"
		FROM "Contact"`
	var args []any
	if instanceID != "" {
		query += ` WHERE "instanceId" = $1`
		args = append(args, instanceID)
	}

	var contacts []ContactRow
	if err := db.SelectContext(ctx, &contacts, query, args...); err != nil {
		return nil, err
	}
	return contacts, nil
}
