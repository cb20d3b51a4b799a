package connection

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Frames the group chat server uses for its connect handshake and keepalive.
var (
	handshakeFrame = []byte(`{"connect":{"name":"js"},"id":1}`)
	heartbeatFrame = []byte(`{}`)
)

// errorCommands are reply tags that fail the matching request.
var errorCommands = map[string]struct{}{
	"neo_error": {},
	"error":     {},
}

type inboundFrame struct {
	Command   string          `json:"command"`
	RequestID string          `json:"request_id"`
	OriginID  string          `json:"origin_id"`
	Payload   json.RawMessage `json:"payload"`
	Turn      json.RawMessage `json:"turn"`
	IsFinal   *bool           `json:"is_final"`
	Push      *struct {
		Pub *struct {
			Data json.RawMessage `json:"data"`
		} `json:"pub"`
	} `json:"push"`
}

type turnFinality struct {
	Author struct {
		IsHuman bool `json:"is_human"`
	} `json:"author"`
	Candidates []struct {
		IsFinal bool `json:"is_final"`
	} `json:"candidates"`
}

// DecodeResponse parses an inbound frame. Group chat publications arrive
// wrapped as {"push":{"pub":{"data":{...}}}}; the inner frame is returned
// with Raw still holding the full envelope.
//
// A frame is final when it says so explicitly (is_final) or when it carries
// a non-human turn with a finished candidate. The service echoes the user's
// own turn before generating a reply, so human turns never count as final.
func DecodeResponse(data []byte) (Response, error) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	if f.Push != nil && f.Push.Pub != nil && len(f.Push.Pub.Data) > 0 {
		inner, err := DecodeResponse(f.Push.Pub.Data)
		if err != nil {
			return Response{}, err
		}
		inner.Raw = json.RawMessage(data)
		return inner, nil
	}

	resp := Response{
		Command:   f.Command,
		RequestID: f.RequestID,
		OriginID:  f.OriginID,
		Payload:   f.Payload,
		Turn:      f.Turn,
		Raw:       json.RawMessage(data),
	}

	switch {
	case f.IsFinal != nil:
		resp.Final = *f.IsFinal
	case len(f.Turn) > 0:
		resp.Final = turnIsFinal(f.Turn)
	}

	return resp, nil
}

func turnIsFinal(raw json.RawMessage) bool {
	var t turnFinality
	if err := json.Unmarshal(raw, &t); err != nil || t.Author.IsHuman {
		return false
	}
	for _, c := range t.Candidates {
		if c.IsFinal {
			return true
		}
	}
	return false
}

func isErrorCommand(command string) bool {
	_, ok := errorCommands[command]
	return ok
}

func isHeartbeat(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), heartbeatFrame)
}

// isHandshakeAck reports whether data acknowledges handshakeFrame.
func isHandshakeAck(data []byte) bool {
	if !bytes.Contains(data, []byte(`"connect"`)) {
		return false
	}

	var ack struct {
		ID      int             `json:"id"`
		Connect json.RawMessage `json:"connect"`
	}
	if err := json.Unmarshal(data, &ack); err != nil {
		return false
	}
	return ack.ID == 1 && len(ack.Connect) > 0
}
