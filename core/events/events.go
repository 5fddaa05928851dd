package events

import "time"

// Event is implemented by every event published by the core.
type Event interface {
	Kind() string
	At() time.Time
}

// Emitter receives core events. internal/eventbus.TypedBus[Event] satisfies it.
type Emitter interface {
	Publish(Event)
}

// NopEmitter discards events.
type NopEmitter struct{}

// Publish implements Emitter.
func (NopEmitter) Publish(Event) {}

// ContractEvent is emitted on every contract state change.
type ContractEvent struct {
	ContractID string    `json:"contract_id"`
	Initiator  string    `json:"initiator"`
	Task       string    `json:"task"`
	State      string    `json:"state"`
	Winner     string    `json:"winner,omitempty"`
	Score      float64   `json:"score,omitempty"`
	Proposals  int       `json:"proposals"`
	Attempt    int       `json:"attempt"`
	Reason     string    `json:"reason,omitempty"`
	Time       time.Time `json:"time"`
}

func (e ContractEvent) Kind() string  { return "contract" }
func (e ContractEvent) At() time.Time { return e.Time }

// Resource actions.
const (
	ResourceGranted     = "granted"
	ResourceQueued      = "queued"
	ResourceReleased    = "released"
	ResourceExpired     = "expired"
	ResourceRejected    = "rejected"
	ResourceCancelled   = "cancelled"
	ResourceWaitWarning = "wait_warning"
)

// ResourceEvent is emitted by the resource pool.
type ResourceEvent struct {
	JobID        string         `json:"job_id"`
	Action       string         `json:"action"`
	Requirements map[string]int `json:"requirements,omitempty"`
	Available    map[string]int `json:"available,omitempty"`
	Backlog      int            `json:"backlog"`
	Wait         time.Duration  `json:"wait"`
	Time         time.Time      `json:"time"`
}

func (e ResourceEvent) Kind() string  { return "resource" }
func (e ResourceEvent) At() time.Time { return e.Time }

// Occupancy actions.
const (
	OccupancyGranted     = "granted"
	OccupancyBlocked     = "blocked"
	OccupancyRailBlocked = "rail_blocked"
	OccupancyReleased    = "released"
	OccupancyUnblocked   = "unblocked"
)

// OccupancyEvent is emitted by the traffic coordinator.
type OccupancyEvent struct {
	VehicleID string    `json:"vehicle_id"`
	Class     string    `json:"class"`
	Segment   string    `json:"segment"`
	Direction string    `json:"direction"`
	Action    string    `json:"action"`
	BlockedBy string    `json:"blocked_by,omitempty"`
	Time      time.Time `json:"time"`
}

func (e OccupancyEvent) Kind() string  { return "occupancy" }
func (e OccupancyEvent) At() time.Time { return e.Time }

// Lifecycle axes.
const (
	AxisFuel   = "fuel"
	AxisHealth = "health"
)

// LifecycleEvent is emitted when an actor changes fuel or health state.
type LifecycleEvent struct {
	ActorID  string    `json:"actor_id"`
	Role     string    `json:"role"`
	Axis     string    `json:"axis"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	Fault    string    `json:"fault,omitempty"`
	Position string    `json:"position"`
	Time     time.Time `json:"time"`
}

func (e LifecycleEvent) Kind() string  { return "lifecycle" }
func (e LifecycleEvent) At() time.Time { return e.Time }

// DeliveryEvent is emitted when the bus gives up on a message.
type DeliveryEvent struct {
	MessageID string    `json:"message_id"`
	Type      string    `json:"type"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error"`
	Time      time.Time `json:"time"`
}

func (e DeliveryEvent) Kind() string  { return "delivery" }
func (e DeliveryEvent) At() time.Time { return e.Time }

// ConditionEvent reports a weather or demand change injected from outside.
type ConditionEvent struct {
	Condition  string    `json:"condition"`
	Value      string    `json:"value"`
	Multiplier float64   `json:"multiplier"`
	Time       time.Time `json:"time"`
}

func (e ConditionEvent) Kind() string  { return "condition" }
func (e ConditionEvent) At() time.Time { return e.Time }
