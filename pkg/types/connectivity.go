package types

import "time"

// Mode is the data source the provider was asked to use.
type Mode string

const (
	ModeLive      Mode = "live"
	ModeSimulated Mode = "simulated"
)

// ConnectionState is the provider's connectivity state.
type ConnectionState string

const (
	StateLiveConnected ConnectionState = "live-connected"
	StateLiveError     ConnectionState = "live-error"
	StateSimulated     ConnectionState = "simulated"
)

// Loop identifies which recurring update loop is running.
type Loop string

const (
	LoopNone     Loop = "none"
	LoopPoll     Loop = "poll"
	LoopSimulate Loop = "simulate"
)

// ConnectivityState is what a consumer needs to render the connection badge.
type ConnectivityState struct {
	Mode       Mode            `json:"mode"`
	State      ConnectionState `json:"state"`
	LastError  string          `json:"lastError,omitempty"`
	ActiveLoop Loop            `json:"activeLoop"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// Live reports whether the provider is in live mode.
func (c ConnectivityState) Live() bool {
	return c.Mode == ModeLive
}

// ActivityEntry is one message observed on the bus.
type ActivityEntry struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// UpdateKind describes what changed in an Update.
type UpdateKind string

const (
	UpdateSnapshot     UpdateKind = "snapshot"
	UpdateConnectivity UpdateKind = "connectivity"
	UpdateActivity     UpdateKind = "activity"
)

// Update is pushed to subscribers whenever the provider's state changes. It
// always carries the full current snapshot and connectivity.
type Update struct {
	Kind         UpdateKind        `json:"kind"`
	Snapshot     DashboardSnapshot `json:"snapshot"`
	Connectivity ConnectivityState `json:"connectivity"`
}
