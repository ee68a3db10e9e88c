package render

import (
	"github.com/gen2brain/beeep"

	"github.com/omochice/cats-chat/pkg/protocol"
)

// NotifyFunc raises a desktop notification.
type NotifyFunc func(title, body string) error

// Notifier raises a desktop notification per message.
type Notifier struct {
	notify NotifyFunc
}

// NewNotifier creates a Notifier. A nil notify uses the system notifier.
func NewNotifier(notify NotifyFunc) *Notifier {
	if notify == nil {
		notify = func(title, body string) error {
			return beeep.Notify(title, body, "")
		}
	}
	return &Notifier{notify: notify}
}

// Render implements Renderer.
func (n *Notifier) Render(msg protocol.Message) error {
	body := Comment(msg)
	if body == "" {
		body = Timestamp(msg)
	}
	return n.notify("Message from "+msg.From(), body)
}
