package rushit

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

// AddFlags registers the shared workload flag surface on fs with the
// documented defaults already present in o.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.IntVar(&o.Magic, "magic", o.Magic, "Magic number used by control connections")
	fs.IntVar(&o.MinRTO, "min_rto", o.MinRTO, "TCP_MIN_RTO (ms)")
	fs.IntVar(&o.MaxEvents, "maxevents", o.MaxEvents, "Number of epoll events per epoll_wait() call")
	fs.IntVarP(&o.NumFlows, "num_flows", "F", o.NumFlows, "Total number of flows")
	fs.IntVarP(&o.NumThreads, "num_threads", "T", o.NumThreads, "Number of threads")
	fs.IntVar(&o.NumClients, "num_clients", o.NumClients, "Number of clients")
	fs.IntVarP(&o.TestLength, "test_length", "l", o.TestLength, "Test length in seconds")
	fs.IntVarP(&o.RequestSize, "request_size", "Q", o.RequestSize, "Number of bytes in a request from client to server")
	fs.IntVarP(&o.ResponseSize, "response_size", "R", o.ResponseSize, "Number of bytes in a response from server to client")
	fs.IntVarP(&o.BufferSize, "buffer_size", "B", o.BufferSize, "Number of bytes that each read()/send() can transfer at once")
	fs.IntVar(&o.ListenBacklog, "listen_backlog", o.ListenBacklog, "Backlog size for listen()")
	fs.IntVarP(&o.SuicideLength, "suicide_length", "s", o.SuicideLength, "Suicide length in seconds")
	fs.BoolVarP(&o.IPv4, "ipv4", "4", o.IPv4, "Set desired address family to AF_INET")
	fs.BoolVarP(&o.IPv6, "ipv6", "6", o.IPv6, "Set desired address family to AF_INET6")
	fs.BoolVarP(&o.Client, "client", "c", o.Client, "Is client?")
	fs.BoolVarP(&o.Debug, "debug", "d", o.Debug, "Set SO_DEBUG socket option")
	fs.BoolVarP(&o.DryRun, "dry_run", "n", o.DryRun, "Turn on dry-run mode")
	fs.BoolVarP(&o.PinCPU, "pin_cpu", "U", o.PinCPU, "Pin threads to CPU cores")
	fs.BoolVarP(&o.LogToStderr, "logtostderr", "V", o.LogToStderr, "Log to stderr")
	fs.BoolVar(&o.Nonblocking, "nonblocking", o.Nonblocking, "Make sure syscalls are all nonblocking")
	fs.Float64VarP(&o.Interval, "interval", "I", o.Interval, "For how many seconds that a sample is generated")
	fs.Int64VarP(&o.MaxPacingRate, "max_pacing_rate", "m", o.MaxPacingRate, "SO_MAX_PACING_RATE value; use as 32-bit unsigned")
	fs.StringVarP(&o.LocalHost, "local_host", "L", o.LocalHost, "Local hostname or IP address")
	fs.StringVarP(&o.Host, "host", "H", o.Host, "Server hostname or IP address")
	fs.StringVarP(&o.ControlPort, "control_port", "C", o.ControlPort, "Server control port")
	fs.StringVarP(&o.Port, "port", "P", o.Port, "Server data port")
	fs.StringVarP(&o.AllSamples, "all_samples", "A", o.AllSamples, "Print all samples? If yes, this is the output file name")
	fs.Lookup("all_samples").NoOptDefVal = "samples.csv"
	fs.VarP(newPercentilesValue(&o.Percentiles), "percentiles", "p", "Latency percentiles, comma separated")
	fs.StringVar(&o.Script, "script", o.Script, "Path of the workload script")
}

// percentilesValue parses a comma-separated percentile list flag.
type percentilesValue struct {
	target *[]float64
}

func newPercentilesValue(target *[]float64) *percentilesValue {
	return &percentilesValue{target: target}
}

func (v *percentilesValue) String() string {
	if v.target == nil || len(*v.target) == 0 {
		return ""
	}
	parts := make([]string, len(*v.target))
	for i, p := range *v.target {
		parts[i] = strconv.FormatFloat(p, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func (v *percentilesValue) Set(s string) error {
	var parsed []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		p, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return fmt.Errorf("invalid percentile %q", part)
		}
		parsed = append(parsed, p)
	}
	*v.target = parsed
	return nil
}

func (v *percentilesValue) Type() string {
	return "percentiles"
}
