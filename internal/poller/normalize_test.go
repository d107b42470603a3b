// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package poller

import (
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/fleetiq/fleetiq/internal/models"
)

func TestNormalizeRecordCoercion(t *testing.T) {
	t.Parallel()

	serverTime := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		rec        models.GP51PositionRecord
		wantDrop   string
		checkAfter func(t *testing.T, p *models.DevicePosition)
	}{
		{
			name: "clean record",
			rec: models.GP51PositionRecord{
				DeviceID: "d1", Latitude: "22.5", Longitude: "114.1",
				Speed: "30", Course: "90", UpdateTime: "1735689600", Moving: "1",
			},
			checkAfter: func(t *testing.T, p *models.DevicePosition) {
				if p.Latitude != 22.5 || p.Longitude != 114.1 {
					t.Errorf("coordinates = %v,%v", p.Latitude, p.Longitude)
				}
				if !p.Moving {
					t.Error("moving flag lost")
				}
			},
		},
		{
			name: "quoted numerics",
			rec: models.GP51PositionRecord{
				DeviceID: "d2", Latitude: "-33.86", Longitude: "151.20",
				Speed: "0", Course: "0", UpdateTime: "1735689600",
			},
			checkAfter: func(t *testing.T, p *models.DevicePosition) {
				if p.Latitude != -33.86 {
					t.Errorf("latitude = %v", p.Latitude)
				}
			},
		},
		{
			name:     "missing device id",
			rec:      models.GP51PositionRecord{Latitude: "1", Longitude: "2"},
			wantDrop: "missing_device_id",
		},
		{
			name:     "non-numeric latitude",
			rec:      models.GP51PositionRecord{DeviceID: "d3", Latitude: "not-a-number", Longitude: "2"},
			wantDrop: "invalid_coordinate",
		},
		{
			name:     "NaN longitude",
			rec:      models.GP51PositionRecord{DeviceID: "d4", Latitude: "1", Longitude: "NaN"},
			wantDrop: "invalid_coordinate",
		},
		{
			name:     "empty coordinates",
			rec:      models.GP51PositionRecord{DeviceID: "d5"},
			wantDrop: "invalid_coordinate",
		},
		{
			name:     "latitude out of range",
			rec:      models.GP51PositionRecord{DeviceID: "d6", Latitude: "91.5", Longitude: "10"},
			wantDrop: "invalid_coordinate",
		},
		{
			name: "garbage speed degrades to zero",
			rec: models.GP51PositionRecord{
				DeviceID: "d7", Latitude: "1", Longitude: "2",
				Speed: "??", UpdateTime: "1735689600",
			},
			checkAfter: func(t *testing.T, p *models.DevicePosition) {
				if p.Speed != 0 {
					t.Errorf("speed = %v, want 0", p.Speed)
				}
				if p.Moving {
					t.Error("unparsable speed should not imply movement")
				}
			},
		},
		{
			name: "moving derived from speed when flag absent",
			rec: models.GP51PositionRecord{
				DeviceID: "d8", Latitude: "1", Longitude: "2",
				Speed: "45", UpdateTime: "1735689600",
			},
			checkAfter: func(t *testing.T, p *models.DevicePosition) {
				if !p.Moving {
					t.Error("speed > 0 should imply moving when flag is missing")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			pos, reason := normalizeRecord(&tt.rec, serverTime)
			if tt.wantDrop != "" {
				if pos != nil {
					t.Fatalf("expected drop (%s), got position %+v", tt.wantDrop, pos)
				}
				if reason != tt.wantDrop {
					t.Errorf("drop reason = %q, want %q", reason, tt.wantDrop)
				}
				return
			}
			if pos == nil {
				t.Fatalf("unexpected drop: %s", reason)
			}
			if pos.ServerTime != serverTime {
				t.Errorf("server time = %v", pos.ServerTime)
			}
			if tt.checkAfter != nil {
				tt.checkAfter(t, pos)
			}
		})
	}
}

func TestNormalizeEpochMagnitude(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value json.Number
		want  time.Time
	}{
		{
			name:  "seconds",
			value: "1735689600",
			want:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "milliseconds",
			value: "1735689600000",
			want:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "zero is unusable",
			value: "0",
			want:  time.Time{},
		},
		{
			name:  "negative is unusable",
			value: "-5",
			want:  time.Time{},
		},
		{
			name:  "garbage is unusable",
			value: "soon",
			want:  time.Time{},
		},
		{
			name:  "fractional seconds",
			value: "1735689600.5",
			want:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := normalizeEpoch(tt.value)
			if !got.Equal(tt.want) {
				t.Errorf("normalizeEpoch(%s) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestNormalizeRecordFallsBackToServerTime(t *testing.T) {
	t.Parallel()

	serverTime := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	rec := models.GP51PositionRecord{DeviceID: "d1", Latitude: "1", Longitude: "2", UpdateTime: "0"}

	pos, _ := normalizeRecord(&rec, serverTime)
	if pos == nil {
		t.Fatal("record dropped")
	}
	if !pos.GPSTime.Equal(serverTime) {
		t.Errorf("gps time = %v, want fallback to server time %v", pos.GPSTime, serverTime)
	}
}

func TestNormalizeRecordsWatermark(t *testing.T) {
	t.Parallel()

	serverTime := time.Now()
	records := []models.GP51PositionRecord{
		{DeviceID: "a", Latitude: "1", Longitude: "2", UpdateTime: "1735689600000"},
		{DeviceID: "b", Latitude: "3", Longitude: "4", UpdateTime: "1735689700000"},
		{Latitude: "5", Longitude: "6", UpdateTime: "1735689990000"}, // dropped but still advances watermark
	}

	positions, dropped, watermark := normalizeRecords(records, serverTime)
	if len(positions) != 2 {
		t.Errorf("positions = %d, want 2", len(positions))
	}
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	if watermark != 1735689990000 {
		t.Errorf("watermark = %d, want 1735689990000", watermark)
	}
}

func TestNormalizeRecordKeepsRawPayload(t *testing.T) {
	t.Parallel()

	rec := models.GP51PositionRecord{
		DeviceID: "d1", Latitude: "1", Longitude: "2",
		StrStatus: "ACC off", UpdateTime: "1735689600",
	}

	pos, _ := normalizeRecord(&rec, time.Now())
	if pos == nil {
		t.Fatal("record dropped")
	}
	if pos.StatusText != "ACC off" {
		t.Errorf("status text = %q", pos.StatusText)
	}

	var round map[string]any
	if err := json.Unmarshal(pos.Raw, &round); err != nil {
		t.Fatalf("raw payload not valid JSON: %v", err)
	}
	if round["deviceid"] != "d1" {
		t.Errorf("raw deviceid = %v", round["deviceid"])
	}
}
