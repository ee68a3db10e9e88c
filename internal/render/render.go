// Package render turns inbound chat messages into something a person sees.
package render

import (
	"fmt"
	"html"
	"io"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/ncruces/go-strftime"

	"github.com/omochice/cats-chat/pkg/protocol"
)

// TimestampLayout is the strftime layout of rendered receive times.
const TimestampLayout = "%Y-%m-%d %H:%M:%S"

// Renderer displays a single message.
type Renderer interface {
	Render(msg protocol.Message) error
}

var textPolicy = bluemonday.StrictPolicy()

// Timestamp formats the receive time in UTC.
func Timestamp(msg protocol.Message) string {
	return strftime.Format(TimestampLayout, msg.ReceivedAt.UTC()) + " UTC"
}

// Comment returns the comment as plain single-line text: markup is stripped
// and line breaks are folded into spaces.
func Comment(msg protocol.Message) string {
	text := html.UnescapeString(textPolicy.Sanitize(msg.Comment))
	return strings.Join(strings.Fields(text), " ")
}

// Line formats msg as "timestamp  CALL-SSID  comment".
func Line(msg protocol.Message) string {
	return fmt.Sprintf("%s  %s  %s", Timestamp(msg), msg.From(), Comment(msg))
}

// Terminal writes one line per message.
type Terminal struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTerminal creates a Terminal renderer writing to w.
func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{w: w}
}

// Render implements Renderer.
func (t *Terminal) Render(msg protocol.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := fmt.Fprintln(t.w, Line(msg))
	return err
}
