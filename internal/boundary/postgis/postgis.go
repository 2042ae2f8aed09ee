// Package postgis serves the boundary index straight from a PostGIS table
// through a pgx pool.
package postgis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bchartier/cadastre.gouv/internal/boundary"
	"github.com/bchartier/cadastre.gouv/internal/core/model"
)

func init() {
	boundary.Register("postgis", func(ctx context.Context, opts boundary.Options) (boundary.Index, error) {
		return Open(ctx, opts)
	})
}

// DBTX is the subset of pgxpool.Pool the index needs.
type DBTX interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Index struct {
	db     DBTX
	pool   *pgxpool.Pool
	q      queries
	native int
	log    *slog.Logger
}

type queries struct {
	table        string
	native       string
	foreign      string
	extent       string
	sampleSRID   string
	regclassName string
}

func buildQueries(layer, idField, geomField string) (queries, error) {
	parts := boundary.SplitLayer(layer)
	if len(parts) == 0 || len(parts) > 2 {
		return queries{}, fmt.Errorf("%w: %q", boundary.ErrLayerNotFound, layer)
	}
	table := pgx.Identifier(parts).Sanitize()
	id := pgx.Identifier{idField}.Sanitize()
	geom := pgx.Identifier{geomField}.Sanitize()

	return queries{
		table: table,
		native: fmt.Sprintf(
			`SELECT %[1]s::text FROM %[2]s WHERE ST_Intersects(%[3]s, ST_MakeEnvelope($1, $2, $3, $4, $5))`,
			id, table, geom),
		foreign: fmt.Sprintf(
			`SELECT %[1]s::text FROM %[2]s WHERE ST_Intersects(%[3]s, ST_Transform(ST_MakeEnvelope($1, $2, $3, $4, $5), $6))`,
			id, table, geom),
		extent: fmt.Sprintf(
			`SELECT ST_XMin(n), ST_YMin(n), ST_XMax(n), ST_YMax(n), ST_XMin(g), ST_YMin(g), ST_XMax(g), ST_YMax(g)
FROM (SELECT e AS n, ST_Transform(e, 4326) AS g
      FROM (SELECT ST_SetSRID(ST_Extent(%[1]s)::geometry, $1) AS e FROM %[2]s) s0) s`,
			geom, table),
		sampleSRID:   fmt.Sprintf(`SELECT ST_SRID(%[1]s) FROM %[2]s WHERE %[1]s IS NOT NULL LIMIT 1`, geom, table),
		regclassName: table,
	}, nil
}

func Open(ctx context.Context, opts boundary.Options) (*Index, error) {
	q, err := buildQueries(opts.Layer, opts.IDField, opts.GeomField)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, opts.Datasource)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	idx, err := newIndex(ctx, pool, q, opts)
	if err != nil {
		pool.Close()
		return nil, err
	}
	idx.pool = pool
	return idx, nil
}

func newIndex(ctx context.Context, db DBTX, q queries, opts boundary.Options) (*Index, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	var exists bool
	if err := db.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, q.regclassName).Scan(&exists); err != nil {
		return nil, fmt.Errorf("lookup layer: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", boundary.ErrLayerNotFound, opts.Layer)
	}

	native := opts.NativeEPSG
	var srid int
	err := db.QueryRow(ctx, q.sampleSRID).Scan(&srid)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("detect srid: %w", err)
	case srid > 0 && srid != native:
		log.Warn("boundary layer srid differs from configuration, using layer srid",
			"configured", native, "layer", srid)
		native = srid
	}
	return &Index{db: db, q: q, native: native, log: log}, nil
}

func (i *Index) Intersecting(ctx context.Context, b model.BBox) (model.RegionSet, error) {
	epsg := b.EPSG
	if epsg == 0 {
		epsg = i.native
	}
	var (
		rows pgx.Rows
		err  error
	)
	if epsg == i.native {
		rows, err = i.db.Query(ctx, i.q.native, b.XMin, b.YMin, b.XMax, b.YMax, epsg)
	} else {
		rows, err = i.db.Query(ctx, i.q.foreign, b.XMin, b.YMin, b.XMax, b.YMax, epsg, i.native)
	}
	if err != nil {
		return nil, fmt.Errorf("intersect query: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("intersect scan: %w", err)
	}
	return model.RegionSet(ids).Dedup(), nil
}

func (i *Index) Extent(ctx context.Context) (model.Extent, error) {
	var v [8]*float64
	err := i.db.QueryRow(ctx, i.q.extent, i.native).
		Scan(&v[0], &v[1], &v[2], &v[3], &v[4], &v[5], &v[6], &v[7])
	if err != nil {
		return model.Extent{}, fmt.Errorf("extent query: %w", err)
	}
	for _, p := range v {
		if p == nil {
			return model.Extent{}, boundary.ErrEmptyLayer
		}
	}
	return model.Extent{
		Native:     model.BBox{XMin: *v[0], YMin: *v[1], XMax: *v[2], YMax: *v[3], EPSG: i.native},
		Geographic: model.BBox{XMin: *v[4], YMin: *v[5], XMax: *v[6], YMax: *v[7], EPSG: 4326},
	}, nil
}

func (i *Index) NativeEPSG() int { return i.native }

func (i *Index) Ping(ctx context.Context) error {
	if i.pool != nil {
		return i.pool.Ping(ctx)
	}
	_, err := i.db.Exec(ctx, "SELECT 1")
	return err
}

func (i *Index) Close() error {
	if i.pool != nil {
		i.pool.Close()
	}
	return nil
}
