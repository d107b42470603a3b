// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package models

import "github.com/goccy/go-json"

// GP51 wire payloads. Numeric fields arrive from the vendor in
// inconsistent shapes (quoted strings, floats, integer epoch values in
// either seconds or milliseconds), so everything numeric is decoded as
// json.Number and coerced by the caller.

// GP51LoginRequest is the body for action=login.
type GP51LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"` // md5 hex, never the plaintext
	From     string `json:"from,omitempty"`
	Type     string `json:"type,omitempty"`
}

// GP51LoginResponse is the vendor reply to action=login.
type GP51LoginResponse struct {
	Status  json.Number `json:"status"`
	Cause   string      `json:"cause,omitempty"`
	Token   string      `json:"token,omitempty"`
	Expires json.Number `json:"expires,omitempty"`
}

// GP51GenericResponse covers replies that carry only a status and cause
// (logout, token refresh acknowledgements).
type GP51GenericResponse struct {
	Status json.Number `json:"status"`
	Cause  string      `json:"cause,omitempty"`
	Token  string      `json:"token,omitempty"`
}

// GP51PositionRecord is one device record from action=lastposition.
type GP51PositionRecord struct {
	DeviceID      string      `json:"deviceid"`
	DeviceName    string      `json:"devicename,omitempty"`
	Latitude      json.Number `json:"callat"`
	Longitude     json.Number `json:"callon"`
	Speed         json.Number `json:"speed"`
	Course        json.Number `json:"course"`
	Altitude      json.Number `json:"altitude"`
	UpdateTime    json.Number `json:"updatetime"`
	ArrivedTime   json.Number `json:"arrivedtime,omitempty"`
	Moving        json.Number `json:"moving"`
	StrStatus     string      `json:"strstatus,omitempty"`
	TotalDistance json.Number `json:"totaldistance,omitempty"`
}

// GP51PositionResponse is the vendor reply to action=lastposition.
type GP51PositionResponse struct {
	Status  json.Number          `json:"status"`
	Cause   string               `json:"cause,omitempty"`
	Records []GP51PositionRecord `json:"records"`
}

// GP51DeviceRecord is one device entry from action=querymonitorlist.
type GP51DeviceRecord struct {
	DeviceID       string      `json:"deviceid"`
	DeviceName     string      `json:"devicename"`
	DeviceType     json.Number `json:"devicetype,omitempty"`
	SIMNumber      string      `json:"simnum,omitempty"`
	LastActiveTime json.Number `json:"lastactivetime,omitempty"`
	Remark         string      `json:"remark,omitempty"`
}

// GP51DeviceGroup is one group entry from action=querymonitorlist.
type GP51DeviceGroup struct {
	GroupID   json.Number        `json:"groupid"`
	GroupName string             `json:"groupname"`
	Remark    string             `json:"remark,omitempty"`
	Devices   []GP51DeviceRecord `json:"devices"`
}

// GP51MonitorListResponse is the vendor reply to action=querymonitorlist.
type GP51MonitorListResponse struct {
	Status json.Number       `json:"status"`
	Cause  string            `json:"cause,omitempty"`
	Groups []GP51DeviceGroup `json:"groups"`
}
