package storage

import (
	"database/sql"
	"time"
)

// SessionData describes one capture run.
type SessionData struct {
	ID         int64
	StartTime  time.Time
	ReceiverID int
	Source     string
	Latitude   sql.NullFloat64
	Longitude  sql.NullFloat64
	Altitude   sql.NullFloat64
	Config     sql.NullString
}

// BeaconData records one accepted beacon detection.
type BeaconData struct {
	ID               int64
	SessionID        int64
	Timestamp        time.Time
	BlockIdx         int
	BeaconCount      int
	SOA              float64
	ClockErrorPPM    float64
	CarrierPos       float64
	CarrierAmplitude float64
	BeaconAmplitude  float64
	BeaconNoise      float64
	PreampOn         bool
}

// SpectrumData is one downsampled carrier-spectrum snapshot.
type SpectrumData struct {
	ID         int64
	SessionID  int64
	Timestamp  time.Time
	BlockIdx   int
	CarrierPos float64
	Power      []float64
}
