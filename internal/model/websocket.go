package model

// WebSocket message types
const (
	WSMessageTypeSnapshot = "snapshot"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSSnapshotMessage carries a controller snapshot to the session's sockets.
type WSSnapshotMessage struct {
	Type     string   `json:"type"`
	Snapshot Snapshot `json:"snapshot"`
}
