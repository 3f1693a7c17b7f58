package v1

// Message type tags (wire-stable).
const (
	TypeConnected  = "connected"
	TypePing       = "ping"
	TypePong       = "pong"
	TypeSubscribe  = "subscribe"
	TypeSubscribed = "subscribed"
)

// ConnectedPayload acknowledges a successful handshake.
type ConnectedPayload struct {
	SubjectID string `json:"subject_id"`
	Role      string `json:"role"`
}

// SubscribePayload carries client subscribe intents. Delivery is push-based and not filtered by them.
type SubscribePayload struct {
	Channels []string `json:"channels"`
}

type SubscribedPayload struct {
	Channels []string `json:"channels"`
}
