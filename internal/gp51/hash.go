// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package gp51

import (
	"crypto/md5" //nolint:gosec // vendor protocol requires MD5 password digests
	"encoding/hex"
)

// HashPassword returns the MD5 digest of the plaintext password as a
// 32-character lowercase hex string. The GP51 API only ever accepts this
// digest form; the plaintext must not leave the process.
//
// MD5 is mandated by the vendor wire protocol and is not used here for
// any security purpose on our side.
func HashPassword(password string) string {
	sum := md5.Sum([]byte(password)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}
