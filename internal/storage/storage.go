// Package storage persists capture session metadata to a SQLite database:
// one session row per run, one row per accepted beacon, and periodic
// downsampled carrier-spectrum snapshots for offline diagnostics.
package storage

import (
	"database/sql"
	_ "embed"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Store handles database operations.
type Store struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// New creates a store for the database at dbPath. Connections are opened
// lazily on first use.
func New(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("empty database path")
	}
	return &Store{dbPath: dbPath}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(schemaSQL)
	return err
}

func (s *Store) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", s.dbPath+"?_journal_mode=WAL&_synchronous=NORMAL")
		if err != nil {
			s.writeDBErr = err
			return
		}

		if err = initSchema(db); err != nil {
			_ = db.Close()
			s.writeDBErr = err
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *Store) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", s.dbPath+"?mode=ro")
		if err != nil {
			s.readDBErr = err
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

const insertSessionSQL = `
INSERT INTO sessions (start_time, receiver_id, source, latitude, longitude, altitude, config)
VALUES (?, ?, ?, ?, ?, ?, ?)`

// CreateSession creates a new session row and returns its ID. config is
// stored as JSON unless it is already a string or raw bytes.
func (s *Store) CreateSession(receiverID int, source string, latitude, longitude, altitude *float64, config any) (sessionID int64, err error) {
	var configData sql.NullString

	if config != nil {
		switch v := config.(type) {
		case string:
			configData = sql.NullString{String: v, Valid: true}

		case []byte:
			configData = sql.NullString{String: string(v), Valid: true}

		default:
			var p []byte
			if p, err = json.Marshal(config); err != nil {
				err = fmt.Errorf("marshaling config: %w", err)
				return
			}
			configData = sql.NullString{String: string(p), Valid: true}
		}
	}

	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	stmt, err := db.Prepare(insertSessionSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer func() {
		if cErr := stmt.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("closing statement: %w", cErr)
		}
	}()

	result, err := stmt.Exec(
		time.Now().UTC(),
		receiverID,
		source,
		nullFloat(latitude),
		nullFloat(longitude),
		nullFloat(altitude),
		configData,
	)
	if err != nil {
		err = fmt.Errorf("inserting session: %w", err)
		return
	}

	return result.LastInsertId()
}

const insertBeaconSQL = `
INSERT INTO beacons (session_id,
                     timestamp,
                     block_idx,
                     beacon_count,
                     soa,
                     clock_error_ppm,
                     carrier_pos,
                     carrier_amplitude,
                     beacon_amplitude,
                     beacon_noise,
                     preamp_on)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// InsertBeacon records one accepted beacon and returns its ID.
func (s *Store) InsertBeacon(b BeaconData) (beaconID int64, err error) {
	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	stmt, err := db.Prepare(insertBeaconSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer func() {
		if cErr := stmt.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("closing statement: %w", cErr)
		}
	}()

	result, err := stmt.Exec(
		b.SessionID,
		b.Timestamp.UTC(),
		b.BlockIdx,
		b.BeaconCount,
		b.SOA,
		b.ClockErrorPPM,
		b.CarrierPos,
		b.CarrierAmplitude,
		b.BeaconAmplitude,
		b.BeaconNoise,
		b.PreampOn,
	)
	if err != nil {
		err = fmt.Errorf("inserting beacon: %w", err)
		return
	}

	return result.LastInsertId()
}

const insertSpectrumSQL = `
INSERT INTO spectra (session_id, timestamp, block_idx, carrier_pos, num_bins, power)
VALUES (?, ?, ?, ?, ?, ?)`

// BatchInsertSpectra inserts spectrum snapshots in a single transaction.
func (s *Store) BatchInsertSpectra(spectra []SpectrumData) (err error) {
	if len(spectra) == 0 {
		return
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if cErr := tx.Rollback(); cErr != nil && !errors.Is(cErr, sql.ErrTxDone) && err == nil {
			err = fmt.Errorf("rolling back transaction: %w", cErr)
		}
	}()

	stmt, err := tx.Prepare(insertSpectrumSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer func() {
		if cErr := stmt.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("closing statement: %w", cErr)
		}
	}()

	for _, sp := range spectra {
		_, err = stmt.Exec(
			sp.SessionID,
			sp.Timestamp.UTC(),
			sp.BlockIdx,
			sp.CarrierPos,
			len(sp.Power),
			encodePower(sp.Power),
		)
		if err != nil {
			return fmt.Errorf("inserting spectrum: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return
}

// Close closes the database connections.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		switch {
		case writeErr != nil && readErr != nil:
			s.closeErr = errors.Join(writeErr, readErr)
		case writeErr != nil:
			s.closeErr = writeErr
		case readErr != nil:
			s.closeErr = readErr
		}
	})

	return s.closeErr
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// encodePower packs a power vector as little-endian float32.
func encodePower(power []float64) []byte {
	raw := make([]byte, 4*len(power))
	for i, v := range power {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(float32(v)))
	}
	return raw
}

// decodePower unpacks a power vector stored by encodePower.
func decodePower(raw []byte) []float64 {
	power := make([]float64, len(raw)/4)
	for i := range power {
		power[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:])))
	}
	return power
}
