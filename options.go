package rushit

import (
	"fmt"
	"math"
	"strconv"

	"github.com/jsitnicki/rushit/internal/sockopt"
)

// Options mirrors the workload command line. Shared read-only with every
// worker once the run starts.
type Options struct {
	Magic     int
	MinRTO    int
	MaxEvents int

	NumFlows   int
	NumThreads int
	NumClients int

	TestLength    int
	RequestSize   int
	ResponseSize  int
	BufferSize    int
	ListenBacklog int
	SuicideLength int

	IPv4        bool
	IPv6        bool
	Client      bool
	Debug       bool
	DryRun      bool
	PinCPU      bool
	LogToStderr bool
	Nonblocking bool

	Interval      float64
	MaxPacingRate int64

	LocalHost   string
	Host        string
	ControlPort string
	Port        string

	// AllSamples names the per-interval sample output file; empty
	// disables it.
	AllSamples string

	// Percentiles are the latency percentiles to report, each in (0, 100].
	Percentiles []float64

	// Script is the path of the workload script to run; empty runs
	// without hooks.
	Script string

	// Fixed mode: always multiplex the server data port.
	ReusePort bool
}

// DefaultOptions returns the documented flag defaults.
func DefaultOptions() *Options {
	return &Options{
		Magic:         42,
		MaxEvents:     1000,
		NumFlows:      1,
		NumThreads:    1,
		NumClients:    1,
		TestLength:    10,
		RequestSize:   1,
		ResponseSize:  1,
		BufferSize:    65536,
		ListenBacklog: 128,
		Interval:      1.0,
		ControlPort:   "12866",
		Port:          "12867",
		ReusePort:     true,
	}
}

// Check validates the options, rejecting configuration errors before any
// worker is spawned.
func (o *Options) Check() error {
	if o.TestLength < 1 {
		return NewError("check_options", ErrCodeConfig, "test length must be at least 1 second")
	}
	if o.MaxEvents < 1 {
		return NewError("check_options", ErrCodeConfig, "number of epoll events must be positive")
	}
	if o.NumFlows < 1 {
		return NewError("check_options", ErrCodeConfig, "there must be at least 1 flow")
	}
	if o.NumThreads < 1 {
		return NewError("check_options", ErrCodeConfig, "there must be at least 1 thread")
	}
	if o.Client && o.NumFlows < o.NumThreads {
		return NewError("check_options", ErrCodeConfig, "there should not be less flows than threads")
	}
	if o.RequestSize <= 0 {
		return NewError("check_options", ErrCodeConfig, "request size must be positive")
	}
	if o.ResponseSize <= 0 {
		return NewError("check_options", ErrCodeConfig, "response size must be positive")
	}
	if o.MinRTO < 0 {
		return NewError("check_options", ErrCodeConfig, "TCP_MIN_RTO must be non-negative")
	}
	if o.MinRTO >= (1<<31)/1000000 {
		return NewError("check_options", ErrCodeConfig, "TCP_MIN_RTO in nanoseconds must fit in 2^31")
	}
	if o.Interval <= 0 {
		return NewError("check_options", ErrCodeConfig, "interval must be positive")
	}
	if o.MaxPacingRate < 0 {
		return NewError("check_options", ErrCodeConfig, "max pacing rate must be non-negative")
	}
	if o.MaxPacingRate > math.MaxUint32 {
		return NewError("check_options", ErrCodeConfig, "max pacing rate cannot exceed 32 bits")
	}
	if o.BufferSize <= 0 {
		return NewError("check_options", ErrCodeConfig, "buffer size must be positive")
	}
	if o.LocalHost != "" && !o.Client {
		return NewError("check_options", ErrCodeConfig, "local_host may only be set for clients")
	}
	if o.IPv4 && o.IPv6 {
		return NewError("check_options", ErrCodeConfig, "ipv4 and ipv6 are mutually exclusive")
	}
	for _, p := range o.Percentiles {
		if p <= 0 || p > 100 {
			return NewError("check_options", ErrCodeConfig,
				fmt.Sprintf("percentile %v out of range (0, 100]", p))
		}
	}
	if _, err := parsePort(o.Port); err != nil {
		return err
	}
	if _, err := parsePort(o.ControlPort); err != nil {
		return err
	}
	if somaxconn, err := sockopt.Somaxconn(); err == nil && o.ListenBacklog > somaxconn {
		return NewError("check_options", ErrCodeConfig,
			fmt.Sprintf("listen() backlog cannot exceed %d", somaxconn))
	}
	return nil
}

func parsePort(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return 0, NewError("check_options", ErrCodeConfig, fmt.Sprintf("invalid port %q", s))
	}
	return n, nil
}
