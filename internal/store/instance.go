package store

import "context"

// ListInstances returns all gateway instance rows.
func (db *DB) ListInstances(ctx context.Context) ([]InstanceRow, error) {
	var instances []InstanceRow
	err := db.SelectContext(ctx, &instances,
		`SELECT id, name, "connectionStatus" FROM "Instance"`)
	if err != nil {
		return nil, err
	}
	return instances, nil
}
