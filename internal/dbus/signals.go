package dbus

import (
	"fmt"

	"github.com/kcbridge/kcbridge/internal/model"
)

// forward emits a SnapshotChanged signal for every published snapshot
// until the subscription closes or the service stops.
func (s *Service) forward(sub <-chan model.Snapshot, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			return
		case snap, ok := <-sub:
			if !ok {
				return
			}
			if err := s.emitSnapshotChanged(&snap); err != nil {
				s.logger.Warn("failed to emit SnapshotChanged signal",
					"seq", snap.Seq, "error", err)
			}
		}
	}
}

// emitSnapshotChanged emits the SnapshotChanged signal.
func (s *Service) emitSnapshotChanged(snap *model.Snapshot) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected to D-Bus")
	}

	payload, err := snap.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return conn.Emit(ServicePath, ServiceIface+"."+SnapshotChangedSignal, snap.Seq, string(payload))
}
