// Package rushit provides the main API for the script-driven network
// micro-benchmark workloads. A workload binary parses its flags into
// Options and hands them to Run together with the data-plane variant; the
// harness compiles the workload script once on the master, clones its
// hooks onto every worker thread, drives the flows through epoll-based
// event loops, and aggregates per-flow measurements into samples.
package rushit

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jsitnicki/rushit/internal/interfaces"
	"github.com/jsitnicki/rushit/internal/logging"
	"github.com/jsitnicki/rushit/internal/script"
	"github.com/jsitnicki/rushit/internal/worker"
)

// Compile-time interface check
var _ interfaces.Observer = (*MetricsObserver)(nil)

// Workload selects the data-plane variant a binary runs.
type Workload int

const (
	// WorkloadDummy exercises the common worker and script paths with no
	// data plane. It serves as a template for new workload variants.
	WorkloadDummy Workload = iota

	// WorkloadTCPRR is the request/response TCP workload.
	WorkloadTCPRR
)

// Run executes one benchmark: validate options, run the workload script
// on the master engine, spawn the workers, measure, report.
func Run(opts *Options, w Workload) error {
	logCfg := logging.DefaultConfig()
	if opts.Debug {
		logCfg.Level = logging.LevelDebug
	}
	log := logging.NewLogger(logCfg)
	logging.SetDefault(log)

	if err := opts.Check(); err != nil {
		return err
	}

	if opts.SuicideLength > 0 {
		armSuicideTimer(opts.SuicideLength, log)
	}

	engine, err := script.NewEngine(script.Config{
		IsClient:   opts.Client,
		NumThreads: opts.NumThreads,
		Logger:     log,
	})
	if err != nil {
		return WrapError("script_engine", err)
	}
	defer engine.Close()

	if opts.Script != "" {
		if err := engine.RunFile(opts.Script, nil); err != nil {
			return &Error{Op: "script_run", Thread: -1, Flow: -1, Code: ErrCodeScript, Msg: err.Error(), Inner: err}
		}
	}

	if opts.DryRun {
		log.Info("dry run: configuration and script accepted")
		return nil
	}

	metrics := NewMetrics()
	recorder := NewSampleRecorder()

	port, err := parsePort(opts.Port)
	if err != nil {
		return err
	}

	cfg := &worker.Config{
		Client:        opts.Client,
		NumFlows:      opts.NumFlows,
		NumThreads:    opts.NumThreads,
		MaxEvents:     opts.MaxEvents,
		Nonblocking:   opts.Nonblocking,
		PinCPU:        opts.PinCPU,
		BufferSize:    opts.BufferSize,
		RequestSize:   opts.RequestSize,
		ResponseSize:  opts.ResponseSize,
		ListenBacklog: opts.ListenBacklog,
		MaxPacingRate: uint32(opts.MaxPacingRate),
		Debug:         opts.Debug,
		Host:          opts.Host,
		LocalHost:     opts.LocalHost,
		Port:          port,
		IPv6:          opts.IPv6,
		TestLength:    opts.TestLength,
		Interval:      opts.Interval,
	}

	params := worker.Params{
		Config:   cfg,
		Engine:   engine,
		Log:      log,
		Observer: NewMetricsObserver(metrics),
		OnSample: func(elapsed time.Duration) {
			recorder.Record(elapsed, metrics.Snapshot())
		},
		Report: func(threads []*worker.Thread) {
			metrics.Stop()
			reportRun(opts, log, metrics, engine, threads)
		},
	}
	switch w {
	case WorkloadTCPRR:
		params.Transport = worker.TCPTransport{}
	case WorkloadDummy:
		params.NewPoll = func() worker.PollFunc {
			return worker.FakePoll(opts.Client)
		}
	default:
		return NewError("run", ErrCodeProgrammer, fmt.Sprintf("unknown workload %d", w))
	}

	if err := worker.Run(params); err != nil {
		return err
	}

	if opts.AllSamples != "" {
		if err := recorder.WriteCSV(opts.AllSamples); err != nil {
			return err
		}
		log.Info("wrote samples", "file", opts.AllSamples, "count", len(recorder.Samples()))
	}
	return nil
}

// reportRun logs the final statistics and pulls every named collector
// from each worker's interpreter.
func reportRun(opts *Options, log *logging.Logger, metrics *Metrics, engine *script.Engine, threads []*worker.Thread) {
	snap := metrics.Snapshot()
	log.Info("run complete",
		"flows", snap.FlowsOpened,
		"transactions", snap.Transactions,
		"send_bytes", snap.SendBytes,
		"recv_bytes", snap.RecvBytes,
		"tps", fmt.Sprintf("%.1f", snap.TransactionsPerSecond),
		"avg_latency_ns", snap.AvgLatencyNs,
		"error_rate", fmt.Sprintf("%.2f%%", snap.ErrorRate),
	)
	if len(opts.Percentiles) > 0 && snap.Transactions > 0 {
		log.Info("latency percentiles", "values", FormatPercentiles(metrics, opts.Percentiles))
	}

	for name, id := range engine.Collectors() {
		total := 0.0
		numeric := true
		for _, t := range threads {
			v, err := t.Slave.CollectedValue(id)
			if err != nil {
				log.Errorf("collector %s: thread %d: %v", name, t.Index, err)
				numeric = false
				continue
			}
			log.Debug("collector value", "name", name, "thread", t.Index, "kind", v.Kind.String())
			if v.Kind == script.KindNumber {
				total += v.Number
			} else {
				numeric = false
			}
		}
		if numeric {
			log.Info("collector", "name", name, "total", total)
		}
	}
}

// armSuicideTimer SIGKILLs the process after the configured bound, as a
// last-resort safeguard against a wedged run.
func armSuicideTimer(seconds int, log *logging.Logger) {
	log.Debugf("arming suicide timer for %d seconds", seconds)
	time.AfterFunc(time.Duration(seconds)*time.Second, func() {
		_ = unix.Kill(unix.Getpid(), unix.SIGKILL)
	})
}
