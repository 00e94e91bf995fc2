package message

import (
	"encoding/json"
	"fmt"
)

// Envelopes travel as flat JSON objects: {"action":"scanImages","options":{...}}.

type envelopeHeader struct {
	Action Action `json:"action"`
}

// Encode serializes m with its action tag.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, ErrUnknownAction
	}
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Action(), err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Action(), err)
	}
	tag, _ := json.Marshal(m.Action())
	fields["action"] = tag
	return json.Marshal(fields)
}

// Decode parses an envelope produced by Encode.
func Decode(data []byte) (Message, error) {
	var hdr envelopeHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch hdr.Action {
	case ActionPing:
		return decodeAs[Ping](data)
	case ActionPong:
		return decodeAs[Pong](data)
	case ActionScanImages:
		return decodeAs[ScanImages](data)
	case ActionScanResult:
		return decodeAs[ScanResult](data)
	case ActionShowImageGrid:
		return decodeAs[ShowImageGrid](data)
	case ActionDownloadImages:
		return decodeAs[DownloadImages](data)
	case ActionUpdateSelection:
		return decodeAs[UpdateSelection](data)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, hdr.Action)
}

func decodeAs[T Message](data []byte) (Message, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", v.Action(), err)
	}
	return v, nil
}

// Clone round-trips m through the wire format, so the receiver never shares
// memory with the sender.
func Clone(m Message) (Message, error) {
	data, err := Encode(m)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}
