package protocol

import "encoding/json"

// Client -> server message kinds. The set is closed: dispatch is an
// exhaustive switch, unknown kinds are dropped at the transport edge.
const (
	KindJoin      = "join"
	KindHeartbeat = "heartbeat"
	KindChat      = "chat"
	KindUser      = "user"
	KindAuth      = "auth"
	KindCommand   = "command"
	KindBlock     = "block"
	KindEcho      = "echo"
	KindSkip      = "skip"
	KindUnqueue   = "unqueue"

	KindQueueByID   = "queue-by-id"
	KindQueueByPath = "queue-by-path"
	KindQueueLucky  = "queue-lucky"
	KindQueueBanger = "queue-banger"
)

// Server -> client message kinds.
const (
	KindAssign = "assign"
	KindReject = "reject"
	KindUsers  = "users"
	KindLeave  = "leave"
	KindQueue  = "queue"
	KindPlay   = "play"
	KindBlocks = "blocks"
	KindEchoes = "echoes"
	KindStatus = "status"
)

// Websocket close codes with protocol meaning. Codes at or above 4000 are
// server-intentional: a client must not auto-reconnect after receiving one.
const (
	CloseRejected = 4000
	CloseBanned   = 4001
)

const (
	closeNormal    = 1000
	closeGoingAway = 1001
)

// CleanClose reports whether a close code represents an expected shutdown.
// Clean closes evict the session immediately; anything else starts the
// reconnection grace timer.
func CleanClose(code int) bool {
	return code == closeNormal || code == closeGoingAway
}

// Retryable reports whether a client seeing this close code should attempt
// to reconnect and resume.
func Retryable(code int) bool {
	return !CleanClose(code) && code < CloseRejected
}

// BaseMessage routes unknown JSON messages by kind.
type BaseMessage struct {
	Type string `json:"type"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// Encode marshals a typed message for the wire. Messages are flat JSON
// objects carrying their own "type" field.
func Encode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
