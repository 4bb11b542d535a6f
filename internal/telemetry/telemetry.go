// Package telemetry provides the receiver station's position context. TDOA
// processing needs every receiver's antenna location; a fixed station gets it
// from configuration.
package telemetry

import "time"

// Provider yields the station state at sampling time.
type Provider interface {
	Get() *Station
}

// Station is the receiver's physical context recorded with each session.
type Station struct {
	Timestamp time.Time
	Latitude  *float64 // GPS latitude in degrees
	Longitude *float64 // GPS longitude in degrees
	Altitude  *float64 // Antenna altitude in meters
}

// StaticProvider serves a fixed position from configuration.
type StaticProvider struct {
	station Station
}

// NewStaticProvider creates a provider for a stationary antenna. Any of the
// coordinates may be nil when unknown.
func NewStaticProvider(latitude, longitude, altitude *float64) *StaticProvider {
	return &StaticProvider{station: Station{
		Latitude:  latitude,
		Longitude: longitude,
		Altitude:  altitude,
	}}
}

func (p *StaticProvider) Get() *Station {
	s := p.station
	s.Timestamp = time.Now()
	return &s
}
