// Package tele is the relay wire model: readings, envelopes, broker connection
// and error kinds shared by relay components.
package tele

import (
	"bytes"
	"encoding/json"
	"io"
	"time"

	"github.com/juju/errors"
	"github.com/relvacode/iso8601"
	"github.com/temoto/telerelay/tele/codec"
)

// Reading is one sensor measurement. Immutable once produced.
type Reading struct {
	Temperature float64
	Humidity    float64
	DeviceID    string
	Timestamp   string // ISO-8601
}

// Envelope is the unit persisted in buffer and published to broker.
type Envelope struct {
	DeviceID  string `json:"device_id"`
	Payload   string `json:"payload"`
	Timestamp string `json:"timestamp"`
}

func NewEnvelope(r Reading) (Envelope, error) {
	payload, err := codec.Encode(r.Temperature, r.Humidity)
	if err != nil {
		return Envelope{}, errors.Annotatef(err, "device=%s", r.DeviceID)
	}
	return Envelope{DeviceID: r.DeviceID, Payload: payload, Timestamp: r.Timestamp}, nil
}

func (e Envelope) Marshal() ([]byte, error) {
	b, err := json.Marshal(e)
	return b, errors.Trace(err)
}

// MustMarshal for tests and tools, Envelope has only string fields.
func (e Envelope) MustMarshal() []byte {
	b, err := e.Marshal()
	if err != nil {
		panic(err)
	}
	return b
}

// Decode payload into Reading, device and timestamp copied as is.
func (e Envelope) Decode() (Reading, error) {
	t, h, err := codec.Decode(e.Payload)
	if err != nil {
		return Reading{}, WrapKind(err, ErrDecode)
	}
	return Reading{Temperature: t, Humidity: h, DeviceID: e.DeviceID, Timestamp: e.Timestamp}, nil
}

func (e Envelope) Time() (time.Time, error) {
	t, err := iso8601.ParseString(e.Timestamp)
	if err != nil {
		return time.Time{}, WrapKind(err, ErrDecode)
	}
	return t, nil
}

// ParseEnvelope accepts exactly one JSON object with exactly the three envelope fields.
// Payload content is not checked here, see Envelope.Decode.
func ParseEnvelope(b []byte) (Envelope, error) {
	var raw struct {
		DeviceID  *string `json:"device_id"`
		Payload   *string `json:"payload"`
		Timestamp *string `json:"timestamp"`
	}
	d := json.NewDecoder(bytes.NewReader(b))
	d.DisallowUnknownFields()
	if err := d.Decode(&raw); err != nil {
		return Envelope{}, WrapKind(err, ErrDecode)
	}
	if _, err := d.Token(); err != io.EOF {
		return Envelope{}, WrapKind(errors.New("trailing data after envelope"), ErrDecode)
	}
	switch {
	case raw.DeviceID == nil:
		return Envelope{}, WrapKind(errors.New("device_id missing"), ErrDecode)
	case raw.Payload == nil:
		return Envelope{}, WrapKind(errors.New("payload missing"), ErrDecode)
	case raw.Timestamp == nil:
		return Envelope{}, WrapKind(errors.New("timestamp missing"), ErrDecode)
	}
	e := Envelope{DeviceID: *raw.DeviceID, Payload: *raw.Payload, Timestamp: *raw.Timestamp}
	if _, err := e.Time(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// FormatTime is the envelope timestamp format.
func FormatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }
