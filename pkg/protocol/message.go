// Package protocol defines the JSON wire format spoken between the chat
// client and a CATS node.
package protocol

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// ErrMalformedMessage is returned when an inbound frame does not match the
// chat message schema.
var ErrMalformedMessage = errors.New("malformed chat message")

// Heartbeat is the keep-alive payload sent on an idle channel.
var Heartbeat = []byte("{}")

// Message represents a chat message received by the node.
type Message struct {
	ReceivedAt   time.Time
	FromCallsign string
	FromSSID     uint8
	Comment      string
}

// From returns the sender in CALL-SSID notation.
func (m Message) From() string {
	return Destination{Callsign: m.FromCallsign, SSID: int(m.FromSSID)}.String()
}

// wireMessage mirrors the JSON object pushed on /chat/ws.
// Pointers distinguish absent fields from zero values.
type wireMessage struct {
	ReceivedAt   *json.Number `json:"received_at"`
	FromCallsign *string      `json:"from_callsign"`
	FromSSID     *json.Number `json:"from_ssid"`
	Comment      *string      `json:"comment"`
}

// Encode encodes the message into its JSON wire form.
func (m *Message) Encode() ([]byte, error) {
	received := json.Number(strconv.FormatInt(m.ReceivedAt.Unix(), 10))
	ssid := json.Number(strconv.Itoa(int(m.FromSSID)))
	data, err := json.Marshal(wireMessage{
		ReceivedAt:   &received,
		FromCallsign: &m.FromCallsign,
		FromSSID:     &ssid,
		Comment:      &m.Comment,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode message")
	}
	return data, nil
}

// Decode decodes a JSON frame into the message.
// Every field except comment is required; a null comment decodes as empty.
func (m *Message) Decode(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return errors.Wrapf(ErrMalformedMessage, "decode json: %v", err)
	}

	if w.ReceivedAt == nil {
		return errors.Wrap(ErrMalformedMessage, "missing received_at")
	}
	if w.FromCallsign == nil {
		return errors.Wrap(ErrMalformedMessage, "missing from_callsign")
	}
	if w.FromSSID == nil {
		return errors.Wrap(ErrMalformedMessage, "missing from_ssid")
	}

	receivedAt, err := parseUnix(*w.ReceivedAt)
	if err != nil {
		return err
	}
	ssid, err := w.FromSSID.Int64()
	if err != nil || ssid < 0 || ssid > math.MaxUint8 {
		return errors.Wrapf(ErrMalformedMessage, "from_ssid %q out of range 0..255", w.FromSSID.String())
	}

	m.ReceivedAt = receivedAt
	m.FromCallsign = *w.FromCallsign
	m.FromSSID = uint8(ssid)
	m.Comment = ""
	if w.Comment != nil {
		m.Comment = *w.Comment
	}
	return nil
}

// DecodeMessage decodes a single inbound frame.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := m.Decode(data); err != nil {
		return Message{}, err
	}
	return m, nil
}

// parseUnix converts unix seconds, possibly fractional, to UTC.
func parseUnix(n json.Number) (time.Time, error) {
	if sec, err := n.Int64(); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, errors.Wrapf(ErrMalformedMessage, "received_at %q is not a number", n.String())
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC(), nil
}
