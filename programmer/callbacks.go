package programmer

import "time"

// Progress phase names reported in Progress.Phase.
const (
	ProgressOpening        = "opening"
	ProgressErasing        = "erasing"
	ProgressProgrammingCfg = "programming-cfg"
	ProgressVerifyingCfg   = "verifying-cfg"
	ProgressProgrammingUFM = "programming-ufm"
	ProgressVerifyingUFM   = "verifying-ufm"
	ProgressFeatureRow     = "feature-row"
	ProgressFinalizing     = "finalizing"
	ProgressRefreshing     = "refreshing"
	ProgressComplete       = "complete"

	// User flash transfers
	ProgressReadingUFM = "reading-ufm"
	ProgressWritingUFM = "writing-ufm"
)

// Progress contains information about the programming progress.
// Passed to ProgressCallback during Program, VerifyImage and the user flash
// transfers.
type Progress struct {
	// Phase is one of the Progress* constants
	Phase string

	// CurrentPage is the number of pages done in the current phase
	CurrentPage int

	// TotalPages is the number of pages of the current phase
	TotalPages int

	// Percentage is the overall completion percentage (0.0 to 100.0)
	Percentage float64

	// BytesWritten is the total number of bytes programmed so far
	BytesWritten int

	// ElapsedTime is the time elapsed since the operation started
	ElapsedTime time.Duration
}

// ProgressCallback is called periodically to report progress.
// Implementations should return quickly to avoid blocking the programming operation.
//
// Example:
//
//	prog, _ := programmer.New(bus, device.MachXO2_1200,
//	    programmer.WithProgressCallback(func(p programmer.Progress) {
//	        fmt.Printf("[%s] %.1f%% - Page %d/%d\n",
//	            p.Phase, p.Percentage, p.CurrentPage, p.TotalPages)
//	    }),
//	)
type ProgressCallback func(Progress)

// Logger is an optional logging interface that can be provided to the programmer.
// This allows integration with any logging framework.
//
// Example with glog:
//
//	type glogLogger struct{}
//	func (glogLogger) Debug(msg string, kv ...interface{}) { glog.V(1).Info(msg, kv) }
//	func (glogLogger) Info(msg string, kv ...interface{})  { glog.Info(msg, kv) }
//	func (glogLogger) Error(msg string, kv ...interface{}) { glog.Error(msg, kv) }
//
//	prog, _ := programmer.New(bus, variant, programmer.WithLogger(glogLogger{}))
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, keysAndValues ...interface{})

	// Info logs an info message with optional key-value pairs
	Info(msg string, keysAndValues ...interface{})

	// Error logs an error message with optional key-value pairs
	Error(msg string, keysAndValues ...interface{})
}
