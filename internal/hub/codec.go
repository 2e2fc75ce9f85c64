package hub

import (
	"encoding/json"
	"fmt"

	"yankcord/internal/constants"
)

// decodeFrame peeks the discriminator, enforces the frame-level size cap
// (spec §4.1), and returns the envelope for routing by handleFrame.
// Grounded on the teacher's ws/client.go dispatch loop, generalized from a
// single Data-wrapped struct to flat per-type payloads (see types.go).
func decodeFrame(raw []byte) (peekEnvelope, error) {
	if len(raw) > constants.MaxFrameBytes {
		return peekEnvelope{}, errPayloadTooLarge(fmt.Sprintf("frame exceeds %d bytes", constants.MaxFrameBytes))
	}
	var env peekEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return peekEnvelope{}, newErr(constants.ErrKindValidationFailed, "malformed frame")
	}
	if env.Type == "" {
		return peekEnvelope{}, newErr(constants.ErrKindValidationFailed, "missing type")
	}
	return env, nil
}

// decodePayload re-unmarshals the raw frame into a type-specific struct.
// Called after decodeFrame has already validated size and discriminator.
func decodePayload(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return newErr(constants.ErrKindValidationFailed, "malformed payload")
	}
	return nil
}

func encodeFrame(v any) ([]byte, error) {
	return json.Marshal(v)
}

func checkTextLen(s string, max int) error {
	if len(s) == 0 || len(s) > max {
		return ErrValidationFailed
	}
	return nil
}
