// Package systemd reports service state to systemd over the notify socket.
// Outside a Type=notify unit ($NOTIFY_SOCKET unset) every call is a no-op.
package systemd

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends sd_notify state updates.
type Notifier struct {
	// notify is daemon.SdNotify; swapped in tests.
	notify func(unsetEnvironment bool, state string) (bool, error)

	watchdog time.Duration
}

func New() *Notifier {
	n := &Notifier{notify: daemon.SdNotify}
	if d, err := daemon.SdWatchdogEnabled(false); err == nil {
		n.watchdog = d
	}
	return n
}

// WatchdogInterval is the unit's WatchdogSec, or 0 when the watchdog is off.
func (n *Notifier) WatchdogInterval() time.Duration { return n.watchdog }

// Ready signals that startup finished.
func (n *Notifier) Ready() (bool, error) { return n.notify(false, daemon.SdNotifyReady) }

// Watchdog pings the watchdog. It is skipped when the unit has none.
func (n *Notifier) Watchdog() (bool, error) {
	if n.watchdog <= 0 {
		return false, nil
	}
	return n.notify(false, daemon.SdNotifyWatchdog)
}

// Stopping signals that shutdown began.
func (n *Notifier) Stopping() (bool, error) { return n.notify(false, daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(s string) (bool, error) { return n.notify(false, "STATUS="+s) }
