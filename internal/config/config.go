// Package config registers and parses the CLI flags that control live
// interface vs. capture file, BPF filter, stop conditions, output
// mode, and the aging/summary intervals the Dispatcher needs. It uses
// a flat flag.FlagSet with manually registered short/long aliases
// rather than a third-party flag library.
package config

import (
	"flag"
	"fmt"
	"io"
	"os"
)

const (
	defaultSumInt      = 10.0
	defaultTsvalMaxAge = 10.0
	defaultFlowMaxIdle = 300.0
	defaultSnapLen     = 144
	defaultMaxFlows    = 10000
)

// Config holds every value the CLI flags populate.
type Config struct {
	Interface string
	ReadFile  string
	Filter    string

	MaxPackets float64
	Seconds    float64

	Quiet       bool
	Verbose     bool
	ShowLocal   bool
	Machine     bool

	SumInt      float64
	TsvalMaxAge float64
	FlowMaxIdle float64

	Help bool

	SnapLen  int32
	MaxFlows int
}

// Parse parses args (typically os.Args[1:]) into a Config, writing
// usage/help text to stderr. It returns an error for a usage mistake;
// the caller is expected to print it and exit 1.
func Parse(args []string, stderr io.Writer) (*Config, error) {
	fs := flag.NewFlagSet("dlyloc", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &Config{
		FlowMaxIdle: defaultFlowMaxIdle,
		TsvalMaxAge: defaultTsvalMaxAge,
		SumInt:      defaultSumInt,
		SnapLen:     defaultSnapLen,
		MaxFlows:    defaultMaxFlows,
		ShowLocal:   false, // filtLocal defaults on; -l/--showLocal turns it off
	}

	alias := func(dst *string, short, long, def, usage string) {
		fs.StringVar(dst, short, def, usage)
		fs.StringVar(dst, long, def, usage)
	}
	aliasFloat := func(dst *float64, short, long string, def float64, usage string) {
		fs.Float64Var(dst, short, def, usage)
		fs.Float64Var(dst, long, def, usage)
	}
	aliasBool := func(dst *bool, short, long, usage string) {
		fs.BoolVar(dst, short, false, usage)
		fs.BoolVar(dst, long, false, usage)
	}

	alias(&cfg.Interface, "i", "interface", "", "live capture from named interface")
	alias(&cfg.ReadFile, "r", "read", "", "read capture file")
	alias(&cfg.Filter, "f", "filter", "", "AND-extend the BPF filter")
	aliasFloat(&cfg.MaxPackets, "c", "count", 0, "stop after N packets")
	aliasFloat(&cfg.Seconds, "s", "seconds", 0, "stop after T seconds of capture time")
	aliasBool(&cfg.Quiet, "q", "quiet", "disable summary lines")
	aliasBool(&cfg.Verbose, "v", "verbose", "enable summary lines (default on)")
	aliasBool(&cfg.ShowLocal, "l", "showLocal", "include RTTs via local host apps")
	aliasBool(&cfg.Machine, "m", "machine", "emit machine-readable lines")
	aliasBool(&cfg.Help, "h", "help", "print help, exit 0")

	fs.Float64Var(&cfg.SumInt, "sumInt", defaultSumInt, "summary report print interval")
	fs.Float64Var(&cfg.TsvalMaxAge, "tsvalMaxAge", defaultTsvalMaxAge, "max age of an unmatched tsval")
	fs.Float64Var(&cfg.FlowMaxIdle, "flowMaxIdle", defaultFlowMaxIdle, "flows idle longer than this are deleted")

	fs.Usage = func() { Usage(stderr, fs) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.Help {
		return cfg, nil
	}

	if cfg.Quiet {
		cfg.SumInt = 0
	}

	if cfg.Interface == "" && cfg.ReadFile == "" {
		fs.Usage()
		return nil, fmt.Errorf("must give -i/--interface or -r/--read")
	}
	if cfg.Interface != "" && cfg.ReadFile != "" {
		fs.Usage()
		return nil, fmt.Errorf("give only one of -i/--interface or -r/--read")
	}

	return cfg, nil
}

// Usage writes a one-line usage banner to w, printed on a bad
// invocation.
func Usage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, "usage: %s [flags] -i interface | -r pcapFile\n", fs.Name())
}

// Help writes the usage banner and the full flag reference to w.
func Help(w io.Writer, fs *flag.FlagSet) {
	Usage(w, fs)
	fmt.Fprint(w, ` flags:
  -i|--interface ifname   do live capture from interface <ifname>

  -r|--read pcap     process capture file <pcap>

  -f|--filter expr   pcap filter applied to packets.
                     Eg., "-f 'net 74.125.0.0/16 or 45.57.0.0/17'"
                     only shows traffic to/from youtube or netflix.

  -m|--machine       'machine readable' output format suitable
                     for graphing or post-processing. Timestamps
                     are printed as seconds since the Unix epoch.
                     RTT and minRTT are printed as seconds. All
                     times have a resolution of 1us (6 digits after
                     decimal point).

  -c|--count num     stop after capturing <num> packets

  -s|--seconds num   stop after capturing for <num> seconds

  -q|--quiet         don't print summary reports to stderr

  -v|--verbose       print summary reports to stderr every sumInt (10) seconds

  -l|--showLocal     show RTTs through local host applications

  --sumInt num       summary report print interval (default 10s)

  --tsvalMaxAge num  max age of an unmatched tsval (default 10s)

  --flowMaxIdle num  flows idle longer than <num> are deleted (default 300s)

  -h|--help          print help then exit
`)
}

// ExitUsageError prints err to stderr and returns the exit code main
// should use. The usage banner, where one applies, has already been
// printed by Parse.
func ExitUsageError(err error) int {
	fmt.Fprintln(os.Stderr, err)
	return 1
}
