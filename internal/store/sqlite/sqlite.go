// Package sqlite is a single-file store.Store backed by mattn/go-sqlite3.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/signalsfoundry/flexgrid-rsa/internal/logging"
	"github.com/signalsfoundry/flexgrid-rsa/internal/store"
	"github.com/signalsfoundry/flexgrid-rsa/model"
	"github.com/signalsfoundry/flexgrid-rsa/spectrum"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS devices (
		id     TEXT PRIMARY KEY,
		name   TEXT NOT NULL UNIQUE,
		type   TEXT NOT NULL,
		vendor TEXT NOT NULL DEFAULT '',
		model  TEXT NOT NULL DEFAULT ''
	);`,
	`CREATE TABLE IF NOT EXISTS endpoints (
		id               TEXT PRIMARY KEY,
		device_id        TEXT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
		name             TEXT NOT NULL,
		otn_type         TEXT NOT NULL,
		in_use           INTEGER NOT NULL DEFAULT 0,
		min_frequency_hz REAL,
		max_frequency_hz REAL,
		flex_slots       INTEGER NOT NULL DEFAULT 0,
		bitmap           TEXT NOT NULL DEFAULT '',
		version          INTEGER NOT NULL DEFAULT 0,
		UNIQUE (device_id, name),
		UNIQUE (id, device_id)
	);`,
	`CREATE TABLE IF NOT EXISTS optical_links (
		id              TEXT PRIMARY KEY,
		name            TEXT NOT NULL UNIQUE,
		src_device_id   TEXT NOT NULL,
		src_endpoint_id TEXT NOT NULL,
		dst_device_id   TEXT NOT NULL,
		dst_endpoint_id TEXT NOT NULL,
		FOREIGN KEY (src_endpoint_id, src_device_id) REFERENCES endpoints(id, device_id),
		FOREIGN KEY (dst_endpoint_id, dst_device_id) REFERENCES endpoints(id, device_id)
	);`,
}

// Store persists the inventory in a SQLite database file.
type Store struct {
	db  *sql.DB
	log logging.Logger
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the
// schema. Write transactions take the database lock immediately so commits
// serialize.
func Open(ctx context.Context, path string, log logging.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	s := &Store{db: db, log: logging.OrNoop(log)}
	s.log.Info(ctx, "sqlite store ready", logging.String("path", path))
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// PutDevice inserts a device.
func (s *Store) PutDevice(ctx context.Context, d *model.Device) error {
	if err := d.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO devices (id, name, type, vendor, model) VALUES (?, ?, ?, ?, ?)`,
		d.ID, d.Name, string(d.Type), d.Vendor, d.Model)
	return mapError(err, "device", d.Name)
}

// PutEndpoint inserts an endpoint.
func (s *Store) PutEndpoint(ctx context.Context, ep *model.Endpoint) error {
	if err := ep.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO endpoints (id, device_id, name, otn_type, in_use, min_frequency_hz, max_frequency_hz, flex_slots, bitmap, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ep.ID, ep.DeviceID, ep.Name, string(ep.OTNType), ep.InUse,
		nullFloat(ep.MinFrequencyHz), nullFloat(ep.MaxFrequencyHz),
		ep.FlexSlots, ep.Bitmap.String(), ep.Version)
	return mapError(err, "endpoint", ep.Name)
}

// PutLink inserts an optical link. Both endpoints must exist on the
// referenced devices.
func (s *Store) PutLink(ctx context.Context, l *model.OpticalLink) error {
	if err := l.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO optical_links (id, name, src_device_id, src_endpoint_id, dst_device_id, dst_endpoint_id)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		l.ID, l.Name, l.SrcDeviceID, l.SrcEndpointID, l.DstDeviceID, l.DstEndpointID)
	return mapError(err, "link", l.Name)
}

// Snapshot reads the whole inventory inside one transaction.
func (s *Store) Snapshot(ctx context.Context) (*model.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback()

	devices, err := queryDevices(ctx, tx)
	if err != nil {
		return nil, err
	}
	endpoints, err := queryEndpoints(ctx, tx, "")
	if err != nil {
		return nil, err
	}
	links, err := queryLinks(ctx, tx)
	if err != nil {
		return nil, err
	}
	return model.NewSnapshot(devices, endpoints, links), nil
}

// ApplyEndpointUpdates applies every update in one immediate transaction,
// checking guards and each endpoint's version first. Any failure rolls the
// whole batch back.
func (s *Store) ApplyEndpointUpdates(ctx context.Context, updates []store.EndpointUpdate, guards store.Guards) ([]model.Endpoint, error) {
	if err := store.DedupeUpdates(updates); err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	for _, id := range guards.IDs(updates) {
		eps, err := queryEndpoints(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if len(eps) == 0 {
			return nil, fmt.Errorf("endpoint %q: %w", id, store.ErrNotFound)
		}
		if err := store.CheckGuard(&eps[0], guards[id]); err != nil {
			return nil, err
		}
	}

	out := make([]model.Endpoint, 0, len(updates))
	for _, u := range updates {
		eps, err := queryEndpoints(ctx, tx, u.ID)
		if err != nil {
			return nil, err
		}
		if len(eps) == 0 {
			return nil, fmt.Errorf("endpoint %q: %w", u.ID, store.ErrNotFound)
		}
		cur := eps[0]
		if err := store.CheckUpdate(&cur, u); err != nil {
			return nil, err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE endpoints SET bitmap = ?, in_use = ?, version = version + 1 WHERE id = ? AND version = ?`,
			u.Bitmap.String(), u.InUse, u.ID, u.ExpectedVersion)
		if err != nil {
			return nil, fmt.Errorf("update endpoint %q: %w", cur.Name, err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return nil, fmt.Errorf("%w: endpoint %q changed during commit", store.ErrConflict, cur.Name)
		}
		cur.Bitmap = u.Bitmap
		cur.InUse = u.InUse
		cur.Version++
		out = append(out, cur)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit endpoint updates: %w", err)
	}
	s.log.Debug(ctx, "endpoint updates committed", logging.Int("endpoints", len(out)))
	return out, nil
}

func queryDevices(ctx context.Context, tx *sql.Tx) ([]model.Device, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, name, type, vendor, model FROM devices ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	var out []model.Device
	for rows.Next() {
		var d model.Device
		var typ string
		if err := rows.Scan(&d.ID, &d.Name, &typ, &d.Vendor, &d.Model); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		d.Type = model.DeviceType(typ)
		out = append(out, d)
	}
	return out, rows.Err()
}

func queryEndpoints(ctx context.Context, tx *sql.Tx, id string) ([]model.Endpoint, error) {
	q := `SELECT id, device_id, name, otn_type, in_use, min_frequency_hz, max_frequency_hz, flex_slots, bitmap, version FROM endpoints`
	var args []any
	if id != "" {
		q += ` WHERE id = ?`
		args = append(args, id)
	}
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query endpoints: %w", err)
	}
	defer rows.Close()

	var out []model.Endpoint
	for rows.Next() {
		var (
			ep     model.Endpoint
			otn    string
			minHz  sql.NullFloat64
			maxHz  sql.NullFloat64
			bitmap string
		)
		if err := rows.Scan(&ep.ID, &ep.DeviceID, &ep.Name, &otn, &ep.InUse, &minHz, &maxHz, &ep.FlexSlots, &bitmap, &ep.Version); err != nil {
			return nil, fmt.Errorf("scan endpoint: %w", err)
		}
		ep.OTNType = model.OTNType(otn)
		if minHz.Valid {
			ep.MinFrequencyHz = &minHz.Float64
		}
		if maxHz.Valid {
			ep.MaxFrequencyHz = &maxHz.Float64
		}
		b, err := spectrum.ParseBitmapWidth(bitmap, ep.FlexSlots)
		if err != nil {
			return nil, fmt.Errorf("endpoint %q bitmap: %w", ep.Name, err)
		}
		ep.Bitmap = b
		out = append(out, ep)
	}
	return out, rows.Err()
}

func queryLinks(ctx context.Context, tx *sql.Tx) ([]model.OpticalLink, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, name, src_device_id, src_endpoint_id, dst_device_id, dst_endpoint_id FROM optical_links ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query links: %w", err)
	}
	defer rows.Close()

	var out []model.OpticalLink
	for rows.Next() {
		var l model.OpticalLink
		if err := rows.Scan(&l.ID, &l.Name, &l.SrcDeviceID, &l.SrcEndpointID, &l.DstDeviceID, &l.DstEndpointID); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// mapError translates SQLite constraint failures into store sentinels.
func mapError(err error, kind, name string) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%s %q: %w", kind, name, store.ErrExists)
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%s %q references a missing record: %w", kind, name, store.ErrNotFound)
		}
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%s %q: %w", kind, name, store.ErrExists)
	}
	return fmt.Errorf("insert %s %q: %w", kind, name, err)
}
