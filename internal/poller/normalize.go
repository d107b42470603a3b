// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package poller

import (
	"math"
	"time"

	"github.com/goccy/go-json"

	"github.com/fleetiq/fleetiq/internal/metrics"
	"github.com/fleetiq/fleetiq/internal/models"
)

// Vendor numeric fields arrive as bare numbers or quoted strings, and
// epoch timestamps arrive in seconds or milliseconds depending on the
// endpoint revision. Records are parsed leniently and validated strictly:
// a record with a missing device id or a non-finite coordinate is dropped
// and counted, never written.

// epochMillisThreshold separates second-resolution epochs from
// millisecond ones by magnitude. 1e12 seconds is the year 33658, 1e12
// milliseconds is 2001; no GPS fix falls in between.
const epochMillisThreshold = 1e12

// normalizeRecords coerces a vendor batch into storable positions.
// Returns the surviving positions, the dropped count, and the highest raw
// vendor timestamp seen (the watermark passed back on the next request).
func normalizeRecords(records []models.GP51PositionRecord, serverTime time.Time) ([]models.DevicePosition, int, int64) {
	positions := make([]models.DevicePosition, 0, len(records))
	dropped := 0
	var watermark int64

	for i := range records {
		rec := &records[i]

		if raw, err := rec.UpdateTime.Int64(); err == nil && raw > watermark {
			watermark = raw
		}

		pos, reason := normalizeRecord(rec, serverTime)
		if pos == nil {
			dropped++
			metrics.PositionsDropped.WithLabelValues(reason).Inc()
			continue
		}
		positions = append(positions, *pos)
	}
	return positions, dropped, watermark
}

// normalizeRecord coerces a single record. A nil result carries the drop
// reason ("missing_device_id" or "invalid_coordinate").
func normalizeRecord(rec *models.GP51PositionRecord, serverTime time.Time) (*models.DevicePosition, string) {
	if rec.DeviceID == "" {
		return nil, "missing_device_id"
	}

	lat, latOK := coerceFloat(rec.Latitude)
	lon, lonOK := coerceFloat(rec.Longitude)
	if !latOK || !lonOK {
		return nil, "invalid_coordinate"
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil, "invalid_coordinate"
	}

	// Non-coordinate numerics degrade to zero rather than dropping the fix.
	speed, _ := coerceFloat(rec.Speed)
	course, _ := coerceFloat(rec.Course)
	altitude, _ := coerceFloat(rec.Altitude)
	distance, _ := coerceFloat(rec.TotalDistance)

	moving := false
	if m, err := rec.Moving.Int64(); err == nil {
		moving = m != 0
	} else {
		moving = speed > 0
	}

	gpsTime := normalizeEpoch(rec.UpdateTime)
	if gpsTime.IsZero() {
		// No usable fix time; the receipt time is the best we have.
		gpsTime = serverTime
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		raw = nil
	}

	return &models.DevicePosition{
		DeviceID:      rec.DeviceID,
		Latitude:      lat,
		Longitude:     lon,
		Speed:         speed,
		Heading:       course,
		Altitude:      altitude,
		Moving:        moving,
		GPSTime:       gpsTime,
		ServerTime:    serverTime,
		StatusText:    rec.StrStatus,
		TotalDistance: distance,
		Raw:           raw,
	}, ""
}

// coerceFloat converts a vendor numeric to a finite float64. NaN and
// infinities fail the check just like unparsable strings.
func coerceFloat(n json.Number) (float64, bool) {
	if n.String() == "" {
		return 0, false
	}
	f, err := n.Float64()
	if err != nil {
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// normalizeEpoch converts a vendor epoch value to a time.Time, detecting
// by magnitude whether the value is in seconds or milliseconds. Zero,
// negative, and unparsable values return the zero time.
func normalizeEpoch(n json.Number) time.Time {
	v, err := n.Int64()
	if err != nil {
		// Some payloads quote timestamps with a fractional part.
		f, ferr := n.Float64()
		if ferr != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return time.Time{}
		}
		v = int64(f)
	}
	if v <= 0 {
		return time.Time{}
	}
	if v >= epochMillisThreshold {
		return time.UnixMilli(v).UTC()
	}
	return time.Unix(v, 0).UTC()
}
