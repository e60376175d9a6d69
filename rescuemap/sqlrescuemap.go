package rescuemap

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/strata-tsdb/strata/nbtree"
	"github.com/strata-tsdb/strata/sample"
)

/*
SQL-backed rescuemap. We target sqlite via database/sql; the schema is one row
per (series, position) holding a logical address, so a series' rescue points
are reassembled by position order.
*/

////////////////////////////////////////////////////////////////////////////////

type sqlRescuemap struct {
	db *sql.DB
}

// NewSQLRescuemap returns a rescuemap over the given database, creating the
// schema if needed.
func NewSQLRescuemap(db *sql.DB) (Rescuemap, error) {
	rm := &sqlRescuemap{db: db}
	if err := rm.initialize(); err != nil {
		return nil, err
	}
	return rm, nil
}

func (rm *sqlRescuemap) initialize() error {
	var maxApplied int64
	err := rm.db.QueryRow("select max(version) from schema_migrations").Scan(&maxApplied)
	if err == nil && maxApplied == 1 {
		return nil
	}
	if _, err := rm.db.Exec(`
	create table if not exists rescue_points (
		series_id integer not null,
		position integer not null,
		addr integer not null,
		primary key (series_id, position)
	);

	create table schema_migrations(
		version bigint not null,
		timestamp text not null default current_timestamp
	);

	insert into schema_migrations(version) values (1);
	`); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func (rm *sqlRescuemap) Put(ctx context.Context, id sample.SeriesID, rescue []nbtree.LogicAddr) error {
	tx, err := rm.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	if err := putTx(ctx, tx, id, rescue); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rescue points: %w", err)
	}
	return nil
}

func putTx(ctx context.Context, tx *sql.Tx, id sample.SeriesID, rescue []nbtree.LogicAddr) error {
	if _, err := tx.ExecContext(ctx,
		`delete from rescue_points where series_id = $1`, int64(id),
	); err != nil {
		return fmt.Errorf("failed to clear rescue points: %w", err)
	}
	for pos, addr := range rescue {
		if _, err := tx.ExecContext(ctx, `
		insert into rescue_points (series_id, position, addr) values ($1, $2, $3)`,
			int64(id), pos, int64(addr),
		); err != nil {
			return fmt.Errorf("failed to store rescue point: %w", err)
		}
	}
	return nil
}

func (rm *sqlRescuemap) Get(ctx context.Context, id sample.SeriesID) ([]nbtree.LogicAddr, error) {
	rows, err := rm.db.QueryContext(ctx, `
	select addr from rescue_points where series_id = $1 order by position`,
		int64(id),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read rescue points: %w", err)
	}
	defer rows.Close()
	var rescue []nbtree.LogicAddr
	for rows.Next() {
		var addr int64
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("failed to scan rescue point: %w", err)
		}
		rescue = append(rescue, nbtree.LogicAddr(addr))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rescue points: %w", err)
	}
	if rescue == nil {
		return nil, ErrSeriesNotFound
	}
	return rescue, nil
}

func (rm *sqlRescuemap) PutAll(ctx context.Context, mapping map[sample.SeriesID][]nbtree.LogicAddr) error {
	tx, err := rm.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	for id, rescue := range mapping {
		if err := putTx(ctx, tx, id, rescue); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rescue points: %w", err)
	}
	return nil
}

func (rm *sqlRescuemap) GetAll(ctx context.Context) (map[sample.SeriesID][]nbtree.LogicAddr, error) {
	rows, err := rm.db.QueryContext(ctx, `
	select series_id, addr from rescue_points order by series_id, position`)
	if err != nil {
		return nil, fmt.Errorf("failed to read rescue points: %w", err)
	}
	defer rows.Close()
	out := make(map[sample.SeriesID][]nbtree.LogicAddr)
	for rows.Next() {
		var id, addr int64
		if err := rows.Scan(&id, &addr); err != nil {
			return nil, fmt.Errorf("failed to scan rescue point: %w", err)
		}
		out[sample.SeriesID(id)] = append(out[sample.SeriesID(id)], nbtree.LogicAddr(addr))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rescue points: %w", err)
	}
	return out, nil
}
