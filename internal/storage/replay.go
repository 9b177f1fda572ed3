package storage

import (
	"context"
	"fmt"
)

const logPageQuery = `
	SELECT l.log_id, l.time, l.log_type,
	       c.from_berth, c.to_berth, c.descr,
	       s.address, s.data
	FROM logs l
	LEFT JOIN cclass_logs c ON l.cclass_id = c.cclass_id
	LEFT JOIN sclass_logs s ON l.sclass_id = s.sclass_id
	ORDER BY l.time ASC, l.log_id ASC
	LIMIT $1 OFFSET $2
`

// ReadLogPage returns up to limit log rows in time order, skipping offset rows.
func (p *PostgresClient) ReadLogPage(ctx context.Context, limit, offset int) ([]LogRow, error) {
	rows, err := p.pool.Query(ctx, logPageQuery, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	page := make([]LogRow, 0, limit)
	for rows.Next() {
		var r LogRow
		err := rows.Scan(
			&r.LogID, &r.Time, &r.LogType,
			&r.FromBerth, &r.ToBerth, &r.Describer,
			&r.Address, &r.Data,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log row: %w", err)
		}
		page = append(page, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read logs: %w", err)
	}

	return page, nil
}

// CountLogs returns the number of logged messages.
func (p *PostgresClient) CountLogs(ctx context.Context) (int64, error) {
	var n int64
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM logs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count logs: %w", err)
	}
	return n, nil
}
