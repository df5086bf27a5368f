package backend

import (
	"encoding/json"

	"github.com/tomyedwab/enginebridge/bridge/engine"
	"github.com/tomyedwab/enginebridge/bridge/types"
)

// unpack turns a two-slot engine result into its success bytes or a typed
// error. The error slot takes precedence when both are present.
func unpack(out engine.Output) ([]byte, error) {
	if out.Err != nil {
		var be types.BackendError
		if err := json.Unmarshal(out.Err, &be); err != nil {
			return nil, newError(KindProtocolDecode, "failed to decode engine error", err)
		}
		if be.Kind == "" {
			return nil, newError(KindProtocolDecode, "engine error without a kind", nil)
		}
		return nil, translate(be)
	}
	if out.Data == nil {
		return nil, newError(KindInternal, "both outcomes nil", nil)
	}
	return out.Data, nil
}

// decode unmarshals a success payload, reporting failures as protocol errors.
func decode(payload []byte, v any, what string) error {
	if err := types.Decode(payload, v); err != nil {
		return newError(KindProtocolDecode, "failed to decode "+what, err)
	}
	return nil
}

// encode marshals a request payload. Failures here are caller bugs such as
// unencodable argument values.
func encode(v any, what string) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, newError(KindInvalidInput, "failed to encode "+what, err)
	}
	return payload, nil
}
