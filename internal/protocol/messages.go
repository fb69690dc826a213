package protocol

type ItemStack struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ClientName      string            `json:"client_name"`
	Capabilities    HelloCapabilities `json:"capabilities"`
}

type HelloCapabilities struct {
	Deltas   bool `json:"deltas,omitempty"`
	MaxQueue int  `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	NetworkID       string `json:"network_id"`
	Tick            uint64 `json:"tick"`
	TickRateHz      int    `json:"tick_rate_hz"`
	ItemsDigest     string `json:"items_digest,omitempty"`
}

// CONTENTS (server -> client): full network view, sent once after WELCOME.
type ContentsMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Tick            uint64      `json:"tick"`
	Items           []ItemStack `json:"items"`
	Probes          []ProbeObs  `json:"probes,omitempty"`
}

// DELTA (server -> client): kinds whose aggregate quantity changed.
// A count <= 0 means the kind must be removed from the client view.
type DeltaMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Tick            uint64      `json:"tick"`
	Changes         []ItemStack `json:"changes"`
}

type ProbeObs struct {
	ID        string      `json:"id"`                  // PROBE@x,y,z
	Container string      `json:"container,omitempty"` // e.g. CHEST@x,y,z; empty while unresolved
	Pos       [3]int      `json:"pos"`
	Target    [3]int      `json:"target"`
	Name      string      `json:"name,omitempty"`
	Mode      string      `json:"mode"`
	Category  string      `json:"category,omitempty"`
	Priority  int         `json:"priority"`
	Tier      string      `json:"tier"`
	Fullness  float64     `json:"fullness"`
	Items     []ItemStack `json:"items,omitempty"`
}

// ACT (client -> server)
type ActMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	ID              string      `json:"id"`
	Action          string      `json:"action"`
	Pos             *[3]int     `json:"pos,omitempty"`
	Target          *[3]int     `json:"target,omitempty"` // LINK: container the probe points at
	Stack           *ItemStack  `json:"stack,omitempty"`
	Item            string      `json:"item,omitempty"`
	Count           int         `json:"count,omitempty"`
	Config          *ConfigEdit `json:"config,omitempty"`
	Priority        *int        `json:"priority,omitempty"` // SET_PRIORITY: clamped to [1, N]
}

// ConfigEdit carries the optional fields of a CONFIGURE action; nil fields are left unchanged.
type ConfigEdit struct {
	Name     *string `json:"name,omitempty"`
	Mode     *string `json:"mode,omitempty"`
	Category *string `json:"category,omitempty"`
	Tier     *string `json:"tier,omitempty"`
}

// ACT_RESULT (server -> client)
type ActResultMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	ID              string     `json:"id"`
	Tick            uint64     `json:"tick"`
	OK              bool       `json:"ok"`
	Code            string     `json:"code,omitempty"`
	Message         string     `json:"message,omitempty"`
	Moved           int        `json:"moved,omitempty"`
	Remainder       *ItemStack `json:"remainder,omitempty"`
	Overflowed      bool       `json:"overflowed,omitempty"`
	Destination     *[3]int    `json:"destination,omitempty"`
	DestinationName string     `json:"destination_name,omitempty"`
}
