package programmer

import (
	"time"

	"github.com/moffa90/go-machxo2/device"
)

// Config holds the programmer configuration.
type Config struct {
	// ProgressCallback is called during programming to report progress (optional)
	ProgressCallback ProgressCallback

	// Logger is used for logging operations (optional)
	Logger Logger

	// Sleeper implements the settle delays and poll intervals
	Sleeper Sleeper

	// Poll bounds the busy-wait loops
	Poll PollPolicy

	// Table provides the device parameters
	Table device.Table

	// RefreshAttempts is how often Program retries the final refresh
	RefreshAttempts int

	// Address is the bus address of the device, used in log messages only
	Address uint16
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		Sleeper:         time.Sleep,
		Poll:            DefaultPollPolicy,
		Table:           device.DefaultTable(),
		RefreshAttempts: 10,
		Address:         0x40,
	}
}

// Option is a functional option for configuring the Programmer and Device.
type Option func(*Config)

// WithProgressCallback sets a callback function to track programming progress.
//
// Example:
//
//	prog, err := programmer.New(bus, variant,
//	    programmer.WithProgressCallback(func(p programmer.Progress) {
//	        fmt.Printf("%.1f%% complete\n", p.Percentage)
//	    }),
//	)
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithLogger sets a logger for the programmer operations.
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithSleeper replaces time.Sleep for all delays. Tests use it to run the
// timing-heavy sequences instantly.
func WithSleeper(s Sleeper) Option {
	return func(c *Config) {
		if s != nil {
			c.Sleeper = s
		}
	}
}

// WithPollPolicy sets the busy poll interval and attempt budget.
//
// Example:
//
//	prog, err := programmer.New(bus, variant,
//	    programmer.WithPollPolicy(programmer.PollPolicy{Interval: 5 * time.Millisecond, Attempts: 2000}),
//	)
func WithPollPolicy(p PollPolicy) Option {
	return func(c *Config) {
		if p.Attempts > 0 && p.Interval >= 0 {
			c.Poll = p
		}
	}
}

// WithTable sets the device parameter table.
func WithTable(t device.Table) Option {
	return func(c *Config) {
		c.Table = t
	}
}

// WithRefreshAttempts sets how often the final refresh is tried. Default is 10.
func WithRefreshAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.RefreshAttempts = n
		}
	}
}

// WithAddress records the bus address of the device for log messages.
func WithAddress(addr uint16) Option {
	return func(c *Config) {
		c.Address = addr
	}
}
