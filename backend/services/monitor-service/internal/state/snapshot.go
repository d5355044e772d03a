package state

// Snapshot is the outward view of one pack: telemetry with derived values
// and the link status.
type Snapshot struct {
	DeviceID  string       `json:"device_id"`
	Telemetry Telemetry    `json:"telemetry"`
	Cells     CellStats    `json:"cells"`
	PackPower float64      `json:"pack_power"`
	Link      LinkSnapshot `json:"link"`
}

// NewSnapshot combines telemetry and link status.
func NewSnapshot(deviceID string, t Telemetry, link LinkSnapshot) Snapshot {
	return Snapshot{
		DeviceID:  deviceID,
		Telemetry: t,
		Cells:     t.CellStats(),
		PackPower: t.PackPower(),
		Link:      link,
	}
}
