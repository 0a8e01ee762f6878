package connection

import "time"

// Defaults for Config.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultReconnectDelay    = 3 * time.Second
	DefaultConnectTimeout    = 30 * time.Second
)

// ReconnectPolicy decides how long to wait before reconnect attempt n
// (1 for the first attempt after a failure).
type ReconnectPolicy interface {
	Delay(attempt int) time.Duration
}

// FixedDelay waits the same duration before every attempt, forever.
type FixedDelay time.Duration

// Delay implements ReconnectPolicy.
func (d FixedDelay) Delay(int) time.Duration {
	return time.Duration(d)
}

var _ ReconnectPolicy = FixedDelay(0)
