package protocol

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidSSID is returned for a destination SSID outside 0..255.
	ErrInvalidSSID = errors.New("SSID must be between 0 and 255")
	// ErrEmptyCallsign is returned for a destination without a callsign.
	ErrEmptyCallsign = errors.New("callsign is required")
)

// Destination addresses a station by callsign and SSID.
type Destination struct {
	Callsign string `json:"callsign"`
	SSID     int    `json:"ssid"`
}

// String returns the destination in CALL-SSID notation.
func (d Destination) String() string {
	return d.Callsign + "-" + strconv.Itoa(d.SSID)
}

// Validate checks the callsign is present and the SSID fits in a byte.
func (d Destination) Validate() error {
	if strings.TrimSpace(d.Callsign) == "" {
		return ErrEmptyCallsign
	}
	if d.SSID < 0 || d.SSID > 255 {
		return errors.Wrapf(ErrInvalidSSID, "%s has SSID %d", d.Callsign, d.SSID)
	}
	return nil
}

// ParseDestination parses "CALL" or "CALL-SSID". A missing SSID means 0.
func ParseDestination(s string) (Destination, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, "-")

	d := Destination{Callsign: parts[0]}
	switch len(parts) {
	case 1:
	case 2:
		ssid, err := strconv.Atoi(parts[1])
		if err != nil {
			return Destination{}, errors.Wrapf(ErrInvalidSSID, "parse %q", s)
		}
		d.SSID = ssid
	default:
		return Destination{}, errors.Errorf("invalid destination %q: expected CALL or CALL-SSID", s)
	}

	if err := d.Validate(); err != nil {
		return Destination{}, err
	}
	return d, nil
}

// SendPacketRequest is the body of POST /api/send_packet.
type SendPacketRequest struct {
	Comment      *string       `json:"comment"`
	Destinations []Destination `json:"destinations"`
}

// NewSendPacketRequest builds a request carrying comment to the given
// destinations. An empty comment is sent as null.
func NewSendPacketRequest(comment string, destinations ...Destination) SendPacketRequest {
	req := SendPacketRequest{Destinations: []Destination{}}
	if comment != "" {
		req.Comment = &comment
	}
	req.Destinations = append(req.Destinations, destinations...)
	return req
}

// Validate checks every destination.
func (r SendPacketRequest) Validate() error {
	for i, d := range r.Destinations {
		if err := d.Validate(); err != nil {
			return errors.Wrapf(err, "destination %d", i)
		}
	}
	return nil
}
