package domain

// Offer is what the receiving device hands to the out-of-band collaborator:
// the routing token plus an optional hint naming the host the credential is
// meant for.
type Offer struct {
	Token RoutingToken
	Host  string
}

// NotificationType names a cross-context pairing message.
type NotificationType string

const (
	// NotificationReceiverInit carries a routing token to the sending side.
	NotificationReceiverInit NotificationType = "pfp_receiver_init"

	// NotificationReceiverReceived is the optional confirmation the
	// receiving side posts once pairing completes.
	NotificationReceiverReceived NotificationType = "pfp_receiver_received"
)

// Notification is a structured message on a cross-context notification
// channel. Origin is filled in by the channel, not by the sender, and is
// what allow-lists are checked against.
type Notification struct {
	Type     NotificationType `json:"type"`
	Receiver RoutingToken     `json:"receiver,omitempty"`
	Host     string           `json:"host,omitempty"`
	Origin   string           `json:"-"`
}
