package systemd

import (
	"fmt"

	"github.com/coreos/go-systemd/v22/daemon"
)

type (
	Notifier interface {
		Ready()
		Status(msg string)
		Stopping()
	}

	SdNotifier struct {
		// called with errors from the notify socket, may be nil
		OnError func(error)
	}
)

var _ Notifier = SdNotifier{}

func (n SdNotifier) Ready() {
	n.send(daemon.SdNotifyReady)
}

func (n SdNotifier) Status(msg string) {
	n.send(fmt.Sprintf("STATUS=%s", msg))
}

func (n SdNotifier) Stopping() {
	n.send(daemon.SdNotifyStopping)
}

func (n SdNotifier) send(state string) {
	// sent=false with no error means NOTIFY_SOCKET is unset, nothing to do.
	if _, err := daemon.SdNotify(false, state); err != nil && n.OnError != nil {
		n.OnError(err)
	}
}
