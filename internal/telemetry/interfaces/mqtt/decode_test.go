package mqtt

import (
	"errors"
	"testing"
	"time"
)

func TestDecodePayload(t *testing.T) {
	raw := []byte(`{"did":"SMS-001","Utime":"2026/8/3 14:05:09","content":[{"Addr":"T12","Addrv":"71.5"},{"Addr":"T11","Addrv":"3.25"}]}`)

	decoded, err := DecodePayload(raw)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if decoded.ClientID != "SMS-001" {
		t.Fatalf("client id = %q", decoded.ClientID)
	}
	want := time.Date(2026, 8, 3, 14, 5, 9, 0, time.UTC)
	if !decoded.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", decoded.Timestamp, want)
	}
	if len(decoded.Values) != 2 {
		t.Fatalf("values = %v", decoded.Values)
	}
	if decoded.Values["T12"] != 71.5 {
		t.Fatalf("T12 = %v", decoded.Values["T12"])
	}
}

func TestDecodePayloadRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want error
	}{
		{"not json", `{{{`, ErrBadJSON},
		{"missing did", `{"Utime":"2026/8/3 14:05:09","content":[{"Addr":"T12","Addrv":"1"}]}`, ErrMissingDID},
		{"blank did", `{"did":"  ","Utime":"2026/8/3 14:05:09","content":[{"Addr":"T12","Addrv":"1"}]}`, ErrMissingDID},
		{"bad utime", `{"did":"d","Utime":"2026-08-03T14:05:09Z","content":[{"Addr":"T12","Addrv":"1"}]}`, ErrBadTimestamp},
		{"no content", `{"did":"d","Utime":"2026/8/3 14:05:09","content":[]}`, ErrEmptyContent},
		{"bad value", `{"did":"d","Utime":"2026/8/3 14:05:09","content":[{"Addr":"T12","Addrv":"hot"}]}`, ErrBadValue},
		{"empty addr", `{"did":"d","Utime":"2026/8/3 14:05:09","content":[{"Addr":"","Addrv":"1"}]}`, ErrBadValue},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodePayload([]byte(tc.raw))
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestRejectReasonBuckets(t *testing.T) {
	if got := rejectReason(ErrBadTimestamp); got != "bad_timestamp" {
		t.Fatalf("reason = %q", got)
	}
	if got := rejectReason(errors.New("other")); got != "unknown" {
		t.Fatalf("reason = %q", got)
	}
}
