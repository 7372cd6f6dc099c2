package packet

import (
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	h := Header{ID: 7, Sequence: 42, TimestampNs: 123456789, PayloadSize: 16, Flags: FlagPriority | FlagTestData}

	buf := make([]byte, HeaderSize)
	h.Encode(buf)

	got, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if got != h {
		t.Fatalf("DecodeHeader(Encode(h)) = %+v, want %+v", got, h)
	}
}

func TestDecodeHeaderTooShort(t *testing.T) {
	if _, err := DecodeHeader(make([]byte, HeaderSize-1)); err == nil {
		t.Fatal("expected short buffer to fail decoding")
	}
}

func TestValidateRejectsReservedBits(t *testing.T) {
	h := Header{Flags: Flag(1 << 9)}
	if _, err := Validate(h, DefaultMaxPayloadSize, time.Now()); err == nil {
		t.Fatal("expected reserved bit to fail validation")
	}
}

func TestValidateRejectsOversizePayload(t *testing.T) {
	h := Header{PayloadSize: DefaultMaxPayloadSize + 1}
	if _, err := Validate(h, DefaultMaxPayloadSize, time.Now()); err == nil {
		t.Fatal("expected oversize payload to fail validation")
	}
}

func TestValidateWarnsOnFutureTimestamp(t *testing.T) {
	now := time.Now()
	h := Header{TimestampNs: uint64(now.Add(5 * time.Second).UnixNano())}

	warnings, err := Validate(h, DefaultMaxPayloadSize, now)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(warnings) != 1 || warnings[0] != WarnTimestampFuture {
		t.Fatalf("warnings = %v, want [%s]", warnings, WarnTimestampFuture)
	}
}

func TestValidateWarnsOnStaleTimestamp(t *testing.T) {
	now := time.Now()
	h := Header{TimestampNs: uint64(now.Add(-90 * time.Second).UnixNano())}

	warnings, err := Validate(h, DefaultMaxPayloadSize, now)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(warnings) != 1 || warnings[0] != WarnTimestampStale {
		t.Fatalf("warnings = %v, want [%s]", warnings, WarnTimestampStale)
	}
}

func TestValidateNoWarningForFreshTimestamp(t *testing.T) {
	now := time.Now()
	h := Header{TimestampNs: uint64(now.UnixNano())}

	warnings, err := Validate(h, DefaultMaxPayloadSize, now)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("warnings = %v, want none", warnings)
	}
}

func TestValidateAcceptsKnownFlagCombination(t *testing.T) {
	h := Header{Flags: FlagPriority | FlagCompressed | FlagEncrypted | FlagFragmented |
		FlagTestData | FlagSimulation | FlagNetwork | FlagOffline}
	if _, err := Validate(h, DefaultMaxPayloadSize, time.Now()); err != nil {
		t.Fatalf("Validate with all known flags: %v", err)
	}
}
