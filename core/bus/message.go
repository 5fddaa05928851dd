// Package bus routes typed messages between actor mailboxes. Delivery is
// at-least-once with a bounded number of attempts; messages from one sender
// reach a given recipient in send order.
package bus

import (
	"fmt"
	"time"
)

// MessageType tags the envelope so receivers can dispatch without inspecting
// the payload.
type MessageType string

// Negotiation messages.
const (
	TypeCFP     MessageType = "CFP"
	TypePropose MessageType = "PROPOSE"
	TypeAccept  MessageType = "ACCEPT"
	TypeReject  MessageType = "REJECT"
	TypeAck     MessageType = "ACK"
	TypeInform  MessageType = "INFORM"
	TypeFailure MessageType = "FAILURE"
	// TypeCancel tells the winner that the initiator aborted its contract.
	TypeCancel MessageType = "CANCEL"
)

// Lifecycle and coordination messages.
const (
	TypeBreakdown        MessageType = "BREAKDOWN"
	TypeResourceGranted  MessageType = "RESOURCE_GRANTED"
	TypeResourceExpired  MessageType = "RESOURCE_EXPIRED"
	TypeCrewArrived      MessageType = "CREW_ARRIVED"
	TypeRepairComplete   MessageType = "REPAIR_COMPLETE"
	TypeVehicleArrived   MessageType = "VEHICLE_ARRIVED"
	TypeBoarded          MessageType = "BOARDED"
	TypeDeploy           MessageType = "DEPLOY"
	TypeWeather          MessageType = "WEATHER"
	TypeDemandSurge      MessageType = "DEMAND_SURGE"
	TypeSnapshotRequest  MessageType = "SNAPSHOT_REQUEST"
	TypeSnapshotResponse MessageType = "SNAPSHOT_RESPONSE"
)

// External is the sender id used for messages injected from outside the
// actor population (CLI, scenario runner, tests).
const External = "external"

// Message is an immutable envelope. Payloads are passed by value and must not
// be mutated after sending.
type Message struct {
	ID            string      `json:"id"`
	Type          MessageType `json:"type"`
	Sender        string      `json:"sender"`
	Recipient     string      `json:"recipient"`
	Payload       any         `json:"payload,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
	CorrelationID string      `json:"correlation_id,omitempty"`
}

// New builds a message for a single recipient. The bus assigns the id and
// timestamp on send when they are empty.
func New(typ MessageType, sender, recipient string, payload any) Message {
	return Message{Type: typ, Sender: sender, Recipient: recipient, Payload: payload}
}

// Correlate returns a copy of m bound to the given contract id.
func (m Message) Correlate(id string) Message {
	m.CorrelationID = id
	return m
}

// To returns a copy of m addressed to recipient.
func (m Message) To(recipient string) Message {
	m.Recipient = recipient
	return m
}

func (m Message) String() string {
	return fmt.Sprintf("%s %s->%s (%s)", m.Type, m.Sender, m.Recipient, m.ID)
}
