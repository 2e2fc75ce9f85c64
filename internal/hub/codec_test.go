package hub

import (
	"strings"
	"testing"

	"yankcord/internal/constants"
)

func TestDecodeFrameRejectsOversized(t *testing.T) {
	raw := []byte(`{"type":"send_message","content":"` + strings.Repeat("a", constants.MaxFrameBytes) + `"}`)
	_, err := decodeFrame(raw)
	if err == nil {
		t.Fatal("expected error for oversized frame")
	}
	herr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if herr.Kind != constants.ErrKindPayloadTooLarge {
		t.Fatalf("expected payload_too_large, got %q", herr.Kind)
	}
}

func TestDecodeFrameRejectsMissingType(t *testing.T) {
	_, err := decodeFrame([]byte(`{"content":"hi"}`))
	if err == nil {
		t.Fatal("expected error for missing type")
	}
	herr := err.(*Error)
	if herr.Kind != constants.ErrKindValidationFailed {
		t.Fatalf("expected validation_failed, got %q", herr.Kind)
	}
}

func TestDecodeFrameRejectsMalformedJSON(t *testing.T) {
	_, err := decodeFrame([]byte(`{not json`))
	if err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestDecodeFrameHappyPath(t *testing.T) {
	env, err := decodeFrame([]byte(`{"type":"send_message","channel_id":"c1","request_id":"r1"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Type != "send_message" || env.ChannelID != "c1" || env.RequestID != "r1" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestCheckTextLen(t *testing.T) {
	if err := checkTextLen("", 10); err == nil {
		t.Fatal("expected error for empty string")
	}
	if err := checkTextLen(strings.Repeat("a", 11), 10); err == nil {
		t.Fatal("expected error for over-length string")
	}
	if err := checkTextLen("hello", 10); err != nil {
		t.Fatalf("unexpected error for valid string: %v", err)
	}
}
