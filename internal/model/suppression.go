package model

// EventClass names one notification class the arbiter can redirect from the
// daemon's notifier to the native path.
type EventClass string

const (
	// EventClassPairRequest covers the daemon's own pairing popups.
	EventClassPairRequest EventClass = "pair-request"
	// EventClassTransferComplete covers file transfer completion popups.
	EventClassTransferComplete EventClass = "transfer-complete"
	// EventClassDeviceNotification covers forwarded Android notifications.
	EventClassDeviceNotification EventClass = "device-notification"
)

// AllEventClasses returns every redirectable class.
func AllEventClasses() []EventClass {
	return []EventClass{
		EventClassPairRequest,
		EventClassTransferComplete,
		EventClassDeviceNotification,
	}
}

// ValidEventClass reports whether c names a known class.
func ValidEventClass(c EventClass) bool {
	for _, known := range AllEventClasses() {
		if c == known {
			return true
		}
	}
	return false
}

// SuppressionRule records which producer owns notification delivery for one
// device. Suppressed means the daemon's notifier is silenced for Classes and
// the native path is the sole deliverer.
type SuppressionRule struct {
	DeviceID   string       `json:"device_id"`
	Suppressed bool         `json:"suppressed"`
	Classes    []EventClass `json:"classes,omitempty"`
	AppliedAt  int64        `json:"applied_at"`
}

// Clone creates a deep copy of the rule.
func (r *SuppressionRule) Clone() *SuppressionRule {
	clone := *r
	if r.Classes != nil {
		clone.Classes = make([]EventClass, len(r.Classes))
		copy(clone.Classes, r.Classes)
	}
	return &clone
}
