// Package devicestore persists device descriptors in SQLite.
package devicestore

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/caio-sobreiro/dicomnode/interfaces"
	"github.com/caio-sobreiro/dicomnode/types"
)

var (
	// ErrNotFound is returned for an unknown device ID.
	ErrNotFound = errors.New("device not found")
	// ErrDuplicate is returned when another device already has the same
	// AE title, address and query/retrieve port.
	ErrDuplicate = errors.New("device already exists")
)

const schema = `
CREATE TABLE IF NOT EXISTS devices (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	ae_title         TEXT    NOT NULL,
	calling_ae_title TEXT    NOT NULL DEFAULT '',
	address          TEXT    NOT NULL,
	qr_port          INTEGER NOT NULL,
	store_port       INTEGER NOT NULL DEFAULT 0,
	qr_enabled       INTEGER NOT NULL DEFAULT 0,
	store_enabled    INTEGER NOT NULL DEFAULT 0,
	description      TEXT    NOT NULL DEFAULT '',
	institution      TEXT    NOT NULL DEFAULT '',
	is_default       INTEGER NOT NULL DEFAULT 0,
	UNIQUE (ae_title, address, qr_port)
);`

const columns = `id, ae_title, calling_ae_title, address, qr_port, store_port,
	qr_enabled, store_enabled, description, institution, is_default`

// Store implements interfaces.DeviceStore.
type Store struct {
	db *sql.DB
}

var _ interfaces.DeviceStore = (*Store)(nil)

// Open opens (and creates if needed) the database at dbPath.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create database directory failed")
		}
	}

	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrap(err, "open device database failed")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "connect to device database failed")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate device database failed")
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add inserts device and returns it with its assigned ID.
func (s *Store) Add(ctx context.Context, device types.Device) (types.Device, error) {
	result, err := s.db.ExecContext(ctx, `INSERT INTO devices
		(ae_title, calling_ae_title, address, qr_port, store_port,
		 qr_enabled, store_enabled, description, institution, is_default)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		device.AETitle, device.CallingAETitle, device.Address, device.QueryRetrievePort, device.StorePort,
		device.QueryRetrieveEnabled, device.StoreEnabled, device.Description, device.Institution, device.Default)
	if err != nil {
		return types.Device{}, wrapWrite(err, device)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return types.Device{}, errors.Wrap(err, "read device id failed")
	}
	device.ID = id
	return device, nil
}

// Update replaces every field of the device with the same ID.
func (s *Store) Update(ctx context.Context, device types.Device) error {
	result, err := s.db.ExecContext(ctx, `UPDATE devices SET
		ae_title = ?, calling_ae_title = ?, address = ?, qr_port = ?, store_port = ?,
		qr_enabled = ?, store_enabled = ?, description = ?, institution = ?, is_default = ?
		WHERE id = ?`,
		device.AETitle, device.CallingAETitle, device.Address, device.QueryRetrievePort, device.StorePort,
		device.QueryRetrieveEnabled, device.StoreEnabled, device.Description, device.Institution, device.Default,
		device.ID)
	if err != nil {
		return wrapWrite(err, device)
	}
	return requireRow(result, device.ID)
}

// Delete removes the device with the given ID.
func (s *Store) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "delete device %d failed", id)
	}
	return requireRow(result, id)
}

// Get returns the device with the given ID.
func (s *Store) Get(ctx context.Context, id int64) (types.Device, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM devices WHERE id = ?`, id)
	device, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return types.Device{}, errors.Wrapf(ErrNotFound, "device %d", id)
	}
	if err != nil {
		return types.Device{}, errors.Wrapf(err, "read device %d failed", id)
	}
	return device, nil
}

// List returns the devices passing filter ordered by AE title.
func (s *Store) List(ctx context.Context, filter interfaces.DeviceFilter) ([]types.Device, error) {
	query := `SELECT ` + columns + ` FROM devices`
	var where []string
	if filter.QueryRetrieve {
		where = append(where, "qr_enabled = 1")
	}
	if filter.Store {
		where = append(where, "store_enabled = 1")
	}
	if filter.DefaultOnly {
		where = append(where, "is_default = 1")
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ae_title, address, qr_port"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "list devices failed")
	}
	defer rows.Close()

	var devices []types.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan device failed")
		}
		devices = append(devices, device)
	}
	return devices, errors.Wrap(rows.Err(), "list devices failed")
}

// FindByKey returns the device with the same identity as key.
func (s *Store) FindByKey(ctx context.Context, key types.DeviceKey) (types.Device, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM devices
		WHERE ae_title = ? AND address = ? AND qr_port = ?`,
		key.AETitle, key.Address, key.QueryRetrievePort)
	device, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return types.Device{}, errors.Wrapf(ErrNotFound, "device %s@%s:%d", key.AETitle, key.Address, key.QueryRetrievePort)
	}
	if err != nil {
		return types.Device{}, errors.Wrap(err, "find device failed")
	}
	return device, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(row scanner) (types.Device, error) {
	var d types.Device
	err := row.Scan(&d.ID, &d.AETitle, &d.CallingAETitle, &d.Address, &d.QueryRetrievePort, &d.StorePort,
		&d.QueryRetrieveEnabled, &d.StoreEnabled, &d.Description, &d.Institution, &d.Default)
	return d, err
}

func requireRow(result sql.Result, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "read affected rows failed")
	}
	if n == 0 {
		return errors.Wrapf(ErrNotFound, "device %d", id)
	}
	return nil
}

func wrapWrite(err error, device types.Device) error {
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return errors.Wrapf(ErrDuplicate, "device %s", device)
	}
	return errors.Wrapf(err, "write device %s failed", device)
}
