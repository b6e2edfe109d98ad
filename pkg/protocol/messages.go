// Package protocol defines the battle challenge wire messages and the subjects they travel on.
package protocol

import (
	"github.com/argus-labs/beacon/pkg/micro"
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

// ErrMalformed is returned for payloads that are not valid protocol messages.
var ErrMalformed = eris.New("malformed message")

// BattleRequest asks DefenderID to battle AggressorID.
type BattleRequest struct {
	MessageID   string `json:"MessageID,omitempty"`
	AggressorID string `json:"AggressorID"`
	DefenderID  string `json:"DefenderID,omitempty"`
}

// BattleResponse is the defender's answer to a BattleRequest. RequestID echoes the answered
// request's MessageID when the request carried one.
type BattleResponse struct {
	MessageID   string `json:"MessageID,omitempty"`
	RequestID   string `json:"RequestID,omitempty"`
	AggressorID string `json:"AggressorID"`
	DefenderID  string `json:"DefenderID,omitempty"`
	Accepted    bool   `json:"Accepted"`
}

func (r BattleRequest) Validate() error {
	if err := ValidateDeviceID(r.AggressorID); err != nil {
		return eris.Wrap(err, "invalid AggressorID")
	}
	if r.DefenderID != "" {
		if err := ValidateDeviceID(r.DefenderID); err != nil {
			return eris.Wrap(err, "invalid DefenderID")
		}
	}
	return nil
}

func (r BattleResponse) Validate() error {
	if err := ValidateDeviceID(r.AggressorID); err != nil {
		return eris.Wrap(err, "invalid AggressorID")
	}
	if r.DefenderID != "" {
		if err := ValidateDeviceID(r.DefenderID); err != nil {
			return eris.Wrap(err, "invalid DefenderID")
		}
	}
	return nil
}

// ValidateDeviceID reports whether id can address a device. Ids are used as subject tokens.
func ValidateDeviceID(id string) error {
	return micro.ValidateToken(id)
}

// Encode marshals a protocol message.
func Encode[T BattleRequest | BattleResponse](msg T) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, eris.Wrap(err, "failed to encode message")
	}
	return data, nil
}

// DecodeRequest parses and validates a BattleRequest.
func DecodeRequest(data []byte) (BattleRequest, error) {
	var req BattleRequest
	if err := decode(data, &req); err != nil {
		return BattleRequest{}, err
	}
	if err := req.Validate(); err != nil {
		return BattleRequest{}, eris.Wrapf(ErrMalformed, "battle request: %v", err)
	}
	return req, nil
}

// DecodeResponse parses and validates a BattleResponse. Accepted must be present.
func DecodeResponse(data []byte) (BattleResponse, error) {
	var raw struct {
		MessageID   string `json:"MessageID"`
		RequestID   string `json:"RequestID"`
		AggressorID string `json:"AggressorID"`
		DefenderID  string `json:"DefenderID"`
		Accepted    *bool  `json:"Accepted"`
	}
	if err := decode(data, &raw); err != nil {
		return BattleResponse{}, err
	}
	if raw.Accepted == nil {
		return BattleResponse{}, eris.Wrap(ErrMalformed, "battle response: missing Accepted")
	}

	resp := BattleResponse{
		MessageID:   raw.MessageID,
		RequestID:   raw.RequestID,
		AggressorID: raw.AggressorID,
		DefenderID:  raw.DefenderID,
		Accepted:    *raw.Accepted,
	}
	if err := resp.Validate(); err != nil {
		return BattleResponse{}, eris.Wrapf(ErrMalformed, "battle response: %v", err)
	}
	return resp, nil
}

func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return eris.Wrapf(ErrMalformed, "invalid json: %v", err)
	}
	return nil
}
