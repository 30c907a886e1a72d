package programmer

import "time"

// Transport performs one bus transaction with the device.
//
// Tx writes w and, if r is not empty, reads len(r) bytes using a repeated
// start. Implementations report bus-level failures only; status bits are
// interpreted by this package.
//
// A *i2c.Dev from periph.io satisfies this interface.
//
//go:generate mockgen -destination=../mocks/transport.go -package=mocks github.com/moffa90/go-machxo2/programmer Transport
type Transport interface {
	Tx(w, r []byte) error
}

// Sleeper blocks for the given duration. It is used for the settle delays
// and poll intervals and can be replaced in tests.
type Sleeper func(time.Duration)

// PollPolicy bounds the busy-wait loops.
type PollPolicy struct {
	// Interval is the delay between status reads while BUSY is set
	Interval time.Duration

	// Attempts is the maximum number of status reads
	Attempts int
}

// DefaultPollPolicy polls every millisecond for up to ten seconds.
var DefaultPollPolicy = PollPolicy{
	Interval: time.Millisecond,
	Attempts: 10000,
}

// Fixed settle delays of the configuration logic.
const (
	// PageProgramDelay is the time a page or feature row write needs
	PageProgramDelay = 200 * time.Microsecond

	// SetDoneDelay is the time the DONE bit write needs
	SetDoneDelay = 10 * time.Millisecond

	// MinEraseDelay is the erase wait when neither the configuration nor the
	// user flash sector is selected
	MinEraseDelay = 50 * time.Millisecond
)
