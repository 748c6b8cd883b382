package occid

import (
	"errors"
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	start := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		baseID string
	}{
		{"plain", "a1b2c3"},
		{"uuid", "8f14e45f-ceea-4e07-8c3a-1f0d93f3b1aa"},
		{"with delimiter", "weird@base@id"},
		{"with percent", "50%off"},
		{"with both", "a%40b@c"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id := Encode(tc.baseID, start)
			base, got, virtual, err := Decode(id)
			if err != nil {
				t.Fatalf("decode %q: %v", id, err)
			}
			if !virtual {
				t.Fatalf("decode %q: expected virtual", id)
			}
			if base != tc.baseID {
				t.Fatalf("base mismatch: got %q want %q", base, tc.baseID)
			}
			if !got.Equal(start) {
				t.Fatalf("start mismatch: got %v want %v", got, start)
			}
			if again := Encode(base, got); again != id {
				t.Fatalf("re-encode not idempotent: %q vs %q", again, id)
			}
		})
	}
}

func TestEncodeNormalizesToUTC(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	utc := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	local := utc.In(seoul)

	if Encode("ev1", utc) != Encode("ev1", local) {
		t.Fatalf("same instant in different zones produced different IDs")
	}
}

func TestDecodePlainBaseID(t *testing.T) {
	base, _, virtual, err := Decode("plain-event-id")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if virtual {
		t.Fatalf("plain ID reported as virtual")
	}
	if base != "plain-event-id" {
		t.Fatalf("base mismatch: %q", base)
	}
}

func TestDecodeMalformedFailsClosed(t *testing.T) {
	cases := []string{
		"ev1@notatimestamp",
		"ev1@2024-01-15",
		"ev1@20240115T090000", // missing Z
		"@",
	}
	for _, id := range cases {
		if _, err := BaseID(id); !errors.Is(err, ErrMalformedID) {
			t.Fatalf("BaseID(%q): expected ErrMalformedID, got %v", id, err)
		}
	}
}

func TestBaseID(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	id := Encode("base", start)

	got, err := BaseID(id)
	if err != nil {
		t.Fatalf("BaseID: %v", err)
	}
	if got != "base" {
		t.Fatalf("got %q want %q", got, "base")
	}

	got, err = BaseID("base")
	if err != nil || got != "base" {
		t.Fatalf("plain BaseID: got %q, %v", got, err)
	}
}
