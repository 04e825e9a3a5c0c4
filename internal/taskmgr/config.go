package taskmgr

import "time"

// MaxActiveLimit caps Config.MaxActive. Keep in sync with the validate tag.
const MaxActiveLimit = 10000

// Config holds task manager configuration. Values are fixed for the lifetime
// of a Manager.
type Config struct {
	// MaxActive is the number of tasks allowed to run at once.
	MaxActive int `mapstructure:"max_active" validate:"gt=0,lte=10000"`

	// MaxWaiting is the queue length at which producers are throttled once
	// every active slot is taken. It is not a hard cap.
	MaxWaiting int `mapstructure:"max_waiting" validate:"gte=0"`

	// PollInterval is the delay between monitor ticks.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`

	// CallTimeout bounds each Start and Status call made under the lock. Zero
	// means no deadline.
	CallTimeout time.Duration `mapstructure:"call_timeout" validate:"gte=0"`

	// Verbose promotes retirement and promotion logs from DEBUG to INFO.
	Verbose bool `mapstructure:"verbose"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxActive:    3,
		MaxWaiting:   7,
		PollInterval: 2 * time.Second,
	}
}
