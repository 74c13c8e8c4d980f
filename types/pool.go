package types

// Pool is one configured upstream endpoint.
type Pool struct {
	URL    string `json:"url" mapstructure:"url"`
	User   string `json:"user" mapstructure:"user"`
	Pass   string `json:"pass" mapstructure:"pass"`
	Algo   string `json:"algo" mapstructure:"algo"`
	Active bool   `json:"active,omitempty" mapstructure:"active"`
}

type PoolConnectionStates int

const (
	Disconnected PoolConnectionStates = iota
	Connecting
	Subscribed
	Authorized
	Active
)

func (s PoolConnectionStates) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	case Authorized:
		return "authorized"
	case Active:
		return "active"
	}
	return "unknown"
}

type PoolStates struct {
	Status       PoolConnectionStates `json:"status"`
	User         string               `json:"user"`
	PoolAddr     string               `json:"pooladdr"`
	Algo         string               `json:"algo"`
	Accept       uint64               `json:"accept"`
	Reject       uint64               `json:"reject"`
	Discard      uint64               `json:"discard"`
	Retries      uint32               `json:"retries"`
	Diff         float64              `json:"diff"`
	LastAccepted int64                `json:"lastaccepted"`
	Active       bool                 `json:"active"`
}

type HardwareStats int

const (
	Building HardwareStats = iota + 1
	Running
	Idle
	Stopped
)

// DeviceStates describes one GPU worker for the status surface.
type DeviceStates struct {
	ID       int           `json:"id"`
	Platform string        `json:"platform"`
	Name     string        `json:"name"`
	Status   HardwareStats `json:"status"`
	Hashes   uint64        `json:"hashes"`
	Hashrate uint64        `json:"hashrate"`
	Algo     string        `json:"algo"`
}

// MinerStats is the payload of the stats endpoint.
type MinerStats struct {
	Hashes   uint64 `json:"hashes"`
	Uptime   int64  `json:"uptime"`
	Ver      string `json:"ver"`
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
	Dropped  uint64 `json:"dropped"`
}
