package worker

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/jsitnicki/rushit/internal/event"
	"github.com/jsitnicki/rushit/internal/interfaces"
	"github.com/jsitnicki/rushit/internal/logging"
	"github.com/jsitnicki/rushit/internal/script"
)

// SampleFunc runs once per configured interval during the measurement
// window.
type SampleFunc func(elapsed time.Duration)

// ReportFunc runs after every worker has been joined, while the slaves
// are still alive, so collector values can still be pulled from them.
type ReportFunc func(threads []*Thread)

// Params wires one benchmark run.
type Params struct {
	Config    *Config
	Engine    *script.Engine
	Log       *logging.Logger
	Observer  interfaces.Observer
	Transport Transport

	// NewPoll, when set, supplies each thread its own poll function so
	// any cursor state stays thread-local. Nil means the real wait.
	NewPoll  func() PollFunc
	OnSample SampleFunc
	Report   ReportFunc
}

// Run spawns the workers, releases them together through the ready
// barrier, runs the measurement window, signals the stop eventfd, joins
// every worker, and hands the threads to the report callback.
func Run(p Params) error {
	cfg := p.Config
	log := p.Log
	if log == nil {
		log = logging.Default()
	}
	obs := p.Observer
	if obs == nil {
		obs = interfaces.NoOpObserver{}
	}

	stop, err := event.NewEventFD()
	if err != nil {
		return err
	}
	defer stop.Close()

	// The barrier counts every worker plus the reporter.
	ready := NewBarrier(cfg.NumThreads + 1)

	threads := make([]*Thread, cfg.NumThreads)
	for i := range threads {
		slave, err := script.NewSlave(p.Engine)
		if err != nil {
			for _, t := range threads[:i] {
				t.Slave.Close()
			}
			return fmt.Errorf("thread %d: %w", i, err)
		}
		threads[i] = &Thread{
			Index:     i,
			Config:    cfg,
			Ready:     ready,
			Stop:      stop,
			Slave:     slave,
			Log:       log,
			Observer:  obs,
			Transport: p.Transport,
		}
		if p.NewPoll != nil {
			threads[i].Poll = p.NewPoll()
		}
	}
	defer func() {
		for _, t := range threads {
			t.Slave.Close()
		}
	}()

	var wg sync.WaitGroup
	ncpu := runtime.NumCPU()
	for _, t := range threads {
		wg.Add(1)
		go func(t *Thread) {
			defer wg.Done()
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			if cfg.PinCPU {
				pinToCPU(t, ncpu)
			}
			if cfg.Client {
				_ = RunClient(t)
			} else {
				_ = RunServer(t)
			}
		}(t)
	}

	ready.Wait()
	log.Debugf("all %d workers ready", cfg.NumThreads)

	interval := time.Duration(p.Config.Interval * float64(time.Second))
	if interval <= 0 {
		interval = time.Second
	}
	deadline := time.NewTimer(time.Duration(cfg.TestLength) * time.Second)
	defer deadline.Stop()
	tick := time.NewTicker(interval)
	defer tick.Stop()

	start := time.Now()
window:
	for {
		select {
		case <-deadline.C:
			break window
		case <-tick.C:
			if p.OnSample != nil {
				p.OnSample(time.Since(start))
			}
		}
	}

	if err := stop.Signal(); err != nil {
		return err
	}
	wg.Wait()
	log.Debugf("all workers stopped after %v", time.Since(start))

	if p.Report != nil {
		p.Report(threads)
	}
	return nil
}
