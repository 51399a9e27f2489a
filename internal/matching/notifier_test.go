package matching

import (
	"testing"
	"time"
)

func TestNotifier_ReserveSlotSpacing(t *testing.T) {
	n := &Notifier{}
	now := time.Now()

	// Three callers arriving at the same instant get slots spaced by the
	// send interval, first one immediately.
	if wait := n.reserveSlot(now); wait != 0 {
		t.Errorf("first wait = %v, want 0", wait)
	}
	if wait := n.reserveSlot(now); wait != telegramSendInterval {
		t.Errorf("second wait = %v, want %v", wait, telegramSendInterval)
	}
	if wait := n.reserveSlot(now); wait != 2*telegramSendInterval {
		t.Errorf("third wait = %v, want %v", wait, 2*telegramSendInterval)
	}

	// A caller arriving after the interval has passed sends immediately.
	later := now.Add(3 * telegramSendInterval)
	if wait := n.reserveSlot(later); wait != 0 {
		t.Errorf("late wait = %v, want 0", wait)
	}
}

func TestNotifier_NilSend(t *testing.T) {
	var n *Notifier
	n.Send("dropped")
}
