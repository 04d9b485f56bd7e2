package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// utimeLayout is the sample-time format the field units emit. No zero
// padding on month/day/hour.
const utimeLayout = "2006/1/2 15:04:05"

var (
	ErrBadJSON      = errors.New("mqtt decode: invalid json")
	ErrMissingDID   = errors.New("mqtt decode: missing did")
	ErrBadTimestamp = errors.New("mqtt decode: bad utime")
	ErrEmptyContent = errors.New("mqtt decode: empty content")
	ErrBadValue     = errors.New("mqtt decode: bad register value")
)

type wirePayload struct {
	DID     string         `json:"did"`
	Utime   string         `json:"Utime"`
	Content []wireRegister `json:"content"`
}

type wireRegister struct {
	Addr  string `json:"Addr"`
	Addrv string `json:"Addrv"`
}

// DecodedReading is the transport-level result of payload decoding.
type DecodedReading struct {
	ClientID  string
	Timestamp time.Time
	Values    map[string]float64
}

// DecodePayload parses a raw device message. Every malformed shape is
// rejected here so nothing downstream sees a partial reading.
func DecodePayload(raw []byte) (DecodedReading, error) {
	var wire wirePayload
	if err := json.Unmarshal(raw, &wire); err != nil {
		return DecodedReading{}, fmt.Errorf("%w: %v", ErrBadJSON, err)
	}
	if strings.TrimSpace(wire.DID) == "" {
		return DecodedReading{}, ErrMissingDID
	}
	at, err := time.ParseInLocation(utimeLayout, wire.Utime, time.UTC)
	if err != nil {
		return DecodedReading{}, fmt.Errorf("%w: %q", ErrBadTimestamp, wire.Utime)
	}
	if len(wire.Content) == 0 {
		return DecodedReading{}, ErrEmptyContent
	}

	values := make(map[string]float64, len(wire.Content))
	for _, register := range wire.Content {
		addr := strings.TrimSpace(register.Addr)
		if addr == "" {
			return DecodedReading{}, fmt.Errorf("%w: empty addr", ErrBadValue)
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(register.Addrv), 64)
		if err != nil {
			return DecodedReading{}, fmt.Errorf("%w: %s=%q", ErrBadValue, addr, register.Addrv)
		}
		values[addr] = value
	}
	return DecodedReading{ClientID: wire.DID, Timestamp: at, Values: values}, nil
}

// rejectReason buckets a decode error for the malformed counter.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingDID):
		return "missing_did"
	case errors.Is(err, ErrBadTimestamp):
		return "bad_timestamp"
	case errors.Is(err, ErrEmptyContent):
		return "empty_content"
	case errors.Is(err, ErrBadValue):
		return "bad_value"
	case errors.Is(err, ErrBadJSON):
		return "bad_json"
	default:
		return "unknown"
	}
}
