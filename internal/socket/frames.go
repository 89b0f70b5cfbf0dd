package socket

import "encoding/json"

// inbound is a client frame: {"type": "...", "data": {...}}.
type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type identifyReq struct {
	Credential string `json:"credential"`
}

type roomReq struct {
	RoomRef string `json:"roomRef"`
}

type sendReq struct {
	RoomRef       string `json:"roomRef"`
	Text          string `json:"text"`
	CorrelationID string `json:"correlationId"`
	ParentID      string `json:"parentId,omitempty"`
}

type recoveryReq struct {
	RoomRef     string `json:"roomRef"`
	LastSeenSeq int64  `json:"lastSeenSeq"`
}
