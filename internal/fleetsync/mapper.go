// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package fleetsync

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/fleetiq/fleetiq/internal/models"
)

// epochMillisThreshold distinguishes second from millisecond epochs in
// vendor timestamps. Values at or above it are treated as milliseconds.
const epochMillisThreshold = 1e12

// workItem is one device record queued for reconciliation. groupOK is
// false when the enclosing group's id could not be parsed, which leaves
// the device without a valid group reference.
type workItem struct {
	device  models.Device
	groupOK bool
}

// flattenMonitorList converts the vendor device tree into upsertable
// groups and a flat device work list. Groups with an unparsable id are
// skipped; their devices are still queued so the sync can surface them
// as conflicts instead of dropping them silently.
func flattenMonitorList(resp *models.GP51MonitorListResponse, now time.Time) ([]models.DeviceGroup, []workItem) {
	var groups []models.DeviceGroup
	var items []workItem

	for _, g := range resp.Groups {
		groupID, err := g.GroupID.Int64()
		groupOK := err == nil

		if groupOK {
			groups = append(groups, models.DeviceGroup{
				GroupID:   groupID,
				GroupName: g.GroupName,
				Remark:    g.Remark,
			})
		}

		for _, rec := range g.Devices {
			deviceType, _ := rec.DeviceType.Int64()
			d := models.Device{
				DeviceID:     rec.DeviceID,
				Name:         rec.DeviceName,
				DeviceType:   int(deviceType),
				SIMNumber:    rec.SIMNumber,
				GroupName:    g.GroupName,
				LastActiveAt: lastActiveTime(rec.LastActiveTime),
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if groupOK {
				d.GroupID = groupID
			}
			items = append(items, workItem{device: d, groupOK: groupOK})
		}
	}

	return groups, items
}

// lastActiveTime normalizes the vendor's last-active epoch, which arrives
// in seconds or milliseconds depending on endpoint version. Unusable
// values map to nil rather than a zero time.
func lastActiveTime(n json.Number) *time.Time {
	if n.String() == "" {
		return nil
	}

	epoch, err := n.Int64()
	if err != nil {
		f, ferr := n.Float64()
		if ferr != nil {
			return nil
		}
		epoch = int64(f)
	}
	if epoch <= 0 {
		return nil
	}

	var t time.Time
	if epoch >= epochMillisThreshold {
		t = time.UnixMilli(epoch).UTC()
	} else {
		t = time.Unix(epoch, 0).UTC()
	}
	return &t
}

// deviceDiffers reports whether the vendor copy disagrees with the local
// row on an operator-visible field. Timestamps are excluded; they change
// on every sync.
func deviceDiffers(local *models.Device, remote *models.Device) bool {
	return local.Name != remote.Name ||
		local.SIMNumber != remote.SIMNumber ||
		local.DeviceType != remote.DeviceType ||
		local.GroupID != remote.GroupID
}

// deviceDoc renders a device as a loosely-typed document for conflict
// storage, so the dashboard can diff local and remote without knowing
// the schema.
func deviceDoc(d *models.Device) map[string]any {
	if d == nil {
		return nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}
	return doc
}

// docDevice is the inverse of deviceDoc, used when applying a conflict
// resolution that writes one of the stored versions back.
func docDevice(doc map[string]any) (*models.Device, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var d models.Device
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// mergeDevices combines a local and remote device: operator-entered
// fields keep the local value when present, everything else follows the
// vendor.
func mergeDevices(local, remote *models.Device) *models.Device {
	merged := *remote
	if local.Name != "" {
		merged.Name = local.Name
	}
	if local.SIMNumber != "" {
		merged.SIMNumber = local.SIMNumber
	}
	merged.CreatedAt = local.CreatedAt
	return &merged
}
