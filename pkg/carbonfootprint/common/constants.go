package common

import "time"

// Process exit codes used by the isolated measurement worker
const (
	// ExitCodeSuccess is returned when the worker wrote a result to its conduit
	ExitCodeSuccess = 0

	// ExitCodeBadRequest is returned when the worker could not decode its request
	ExitCodeBadRequest = 1

	// ExitCodeUnsupported signals that the hardware cannot be instrumented.
	// The supervisor checks it before looking at the result conduit.
	ExitCodeUnsupported = 70
)

// WorkerCommand is the hidden subcommand that runs a single measurement
const WorkerCommand = "worker"

// Outcome labels shared by error payloads, metrics and history rows
const (
	OutcomeSuccess     = "success"
	OutcomeTimeout     = "timeout"
	OutcomeUnsupported = "unsupported"
	OutcomeFailure     = "failure"

	// OutcomeMetadata marks a publish-time metadata decoding error
	OutcomeMetadata = "metadata"
)

// Failure reasons produced by the supervisor itself
const (
	ReasonNoEntry         = "no non-zero entry found"
	ReasonNoResult        = "no result obtained"
	ReasonCancelled       = "measurement cancelled"
	ReasonInvalidSample   = "invalid sample"
	ReasonPanic           = "measurement panicked"
	ReasonConfigRejection = "Carbon footprint configuration not supported."
)

// Telemetry backend names
const (
	BackendModel      = "model"
	BackendRAPL       = "rapl"
	BackendPrometheus = "prometheus"
)

// Unit conversions
const (
	MillisPerHour   = 3_600_000.0
	JoulesPerKWh    = 3_600_000.0
	GramsPerKg      = 1000.0
	WattHoursPerKWh = 1000.0
)

// Defaults for measurement and grid lookups
const (
	DefaultDeadline         = 30 * time.Second
	DefaultEpochs           = 1
	DefaultMaxWindow        = 5 * time.Second
	DefaultGridIntensity    = 475.0 // gCO2eq/kWh, global average
	DefaultKeplerQuery      = "sum(kepler_node_platform_joules_total)"
	DefaultRAPLPath         = "/sys/class/powercap"
	DefaultTeardownDelay    = 2 * time.Second
	DefaultListenAddr       = ":8080"
	DefaultMetricsAddr      = ":9100"
	DefaultHistoryRetention = 30 * 24 * time.Hour
)
