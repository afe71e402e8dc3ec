package model

import "encoding/json"

// DeviceSnapshot is the published composite view of one device: the registry
// entry plus whatever pairing, plugin, and suppression state exists for it.
type DeviceSnapshot struct {
	Device
	Pairing     *PairingSession  `json:"pairing,omitempty"`
	Plugins     []PluginRecord   `json:"plugins,omitempty"`
	Suppression *SuppressionRule `json:"suppression,omitempty"`
}

// PairingState returns the effective pairing state for the snapshot.
// Devices without a session are plain unpaired.
func (d *DeviceSnapshot) PairingState() PairState {
	if d.Pairing != nil {
		return d.Pairing.State
	}
	if d.Paired {
		return PairStatePaired
	}
	return PairStateUnpaired
}

// Plugin returns the record for kind, or nil when the device never reported
// the kind.
func (d *DeviceSnapshot) Plugin(kind PluginKind) *PluginRecord {
	for i := range d.Plugins {
		if d.Plugins[i].Kind == kind {
			return &d.Plugins[i]
		}
	}
	return nil
}

// Snapshot is the immutable composite state published to consumers after
// each settled mutation. Seq increases strictly within one manager instance;
// consumers receiving sequence N after N+1 must discard N.
type Snapshot struct {
	Seq     uint64 `json:"seq"`
	TakenAt int64  `json:"taken_at"`
	// Degraded is set while the bus gateway is disconnected from the daemon.
	Degraded bool             `json:"degraded,omitempty"`
	Devices  []DeviceSnapshot `json:"devices"`
}

// Device returns the snapshot entry for id, or nil.
func (s *Snapshot) Device(id string) *DeviceSnapshot {
	for i := range s.Devices {
		if s.Devices[i].ID == id {
			return &s.Devices[i]
		}
	}
	return nil
}

// Encode produces the wire form carried on the consumer snapshot signal.
func (s *Snapshot) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// DecodeSnapshot parses the wire form produced by Encode.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
