package storage

import (
	"errors"
	"fmt"
)

// ErrNoData indicates that no rows exist for the given parameters.
var ErrNoData = errors.New("no data available")

const selectSessionsSQL = `
SELECT id,
       start_time,
       receiver_id,
       source,
       latitude,
       longitude,
       altitude,
       config
FROM sessions
ORDER BY id`

// Sessions returns all capture sessions in the database.
func (s *Store) Sessions() (sessions []SessionData, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.Query(selectSessionsSQL)
	if err != nil {
		err = fmt.Errorf("querying sessions: %w", err)
		return
	}
	defer func() {
		if cErr := rows.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("closing rows: %w", cErr)
		}
	}()

	for rows.Next() {
		var sess SessionData
		if err = rows.Scan(
			&sess.ID,
			&sess.StartTime,
			&sess.ReceiverID,
			&sess.Source,
			&sess.Latitude,
			&sess.Longitude,
			&sess.Altitude,
			&sess.Config,
		); err != nil {
			err = fmt.Errorf("scanning session: %w", err)
			return
		}
		sessions = append(sessions, sess)
	}
	err = rows.Err()
	return
}

const selectBeaconsSQL = `
SELECT id,
       session_id,
       timestamp,
       block_idx,
       beacon_count,
       soa,
       clock_error_ppm,
       carrier_pos,
       carrier_amplitude,
       beacon_amplitude,
       beacon_noise,
       preamp_on
FROM beacons
WHERE session_id = ?
ORDER BY block_idx`

// Beacons returns all accepted beacons of a session.
func (s *Store) Beacons(sessionID int64) (beacons []BeaconData, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.Query(selectBeaconsSQL, sessionID)
	if err != nil {
		err = fmt.Errorf("querying beacons: %w", err)
		return
	}
	defer func() {
		if cErr := rows.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("closing rows: %w", cErr)
		}
	}()

	for rows.Next() {
		var b BeaconData
		if err = rows.Scan(
			&b.ID,
			&b.SessionID,
			&b.Timestamp,
			&b.BlockIdx,
			&b.BeaconCount,
			&b.SOA,
			&b.ClockErrorPPM,
			&b.CarrierPos,
			&b.CarrierAmplitude,
			&b.BeaconAmplitude,
			&b.BeaconNoise,
			&b.PreampOn,
		); err != nil {
			err = fmt.Errorf("scanning beacon: %w", err)
			return
		}
		beacons = append(beacons, b)
	}
	err = rows.Err()
	return
}

const selectSpectraSQL = `
SELECT id,
       session_id,
       timestamp,
       block_idx,
       carrier_pos,
       power
FROM spectra
WHERE session_id = ?
ORDER BY block_idx`

// Spectra returns all spectrum snapshots of a session in block order.
func (s *Store) Spectra(sessionID int64) (spectra []SpectrumData, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.Query(selectSpectraSQL, sessionID)
	if err != nil {
		err = fmt.Errorf("querying spectra: %w", err)
		return
	}
	defer func() {
		if cErr := rows.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("closing rows: %w", cErr)
		}
	}()

	for rows.Next() {
		var sp SpectrumData
		var raw []byte
		if err = rows.Scan(
			&sp.ID,
			&sp.SessionID,
			&sp.Timestamp,
			&sp.BlockIdx,
			&sp.CarrierPos,
			&raw,
		); err != nil {
			err = fmt.Errorf("scanning spectrum: %w", err)
			return
		}
		sp.Power = decodePower(raw)
		spectra = append(spectra, sp)
	}
	if err = rows.Err(); err != nil {
		return
	}
	if len(spectra) == 0 {
		err = ErrNoData
	}
	return
}
