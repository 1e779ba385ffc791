package store

import "context"

// ListLabels returns all label rows.
func (db *DB) ListLabels(ctx context.Context) ([]LabelRow, error) {
	var labels []LabelRow
	err := db.SelectContext(ctx, &labels,
		`SELECT "labelId", name, color, "instanceId" FROM "Label"`)
	if err != nil {
		return nil, err
	}
	return labels, nil
}
