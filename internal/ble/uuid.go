package ble

import "github.com/google/uuid"

// GATT layout of the node: one primary service with a settings
// characteristic (write) and a data characteristic (write, notify,
// indicate, read).
var (
	ServiceUUID      = uuid.MustParse("5f97247b-4474-424c-a826-f8ec299b6937")
	SettingsCharUUID = uuid.MustParse("5f97247b-4474-424c-a826-f8ec299b6938")
	DataCharUUID     = uuid.MustParse("5f97247b-4474-424c-a826-f8ec299b6939")
)
