// xspress3-iocgen generates the substitution file, startup script,
// post-iocInit script and NDAttributes file of an xspress3 areaDetector IOC
// for a given number of channels.
//
// Settings are layered: built-in defaults, then a hardware profile, then a
// settings file (--config), then command line flags.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"
)

// Version can be set during build time
var Version = "dev"

const watchDebounce = 500 * time.Millisecond

// usageError marks errors caused by bad command line input.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }
func (e *usageError) ExitCode() int { return 2 }

func usagef(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		os.Exit(1)
	}
}

// options holds everything parsed from the command line.
type options struct {
	flags       Settings
	outputs     Outputs
	configFile  string
	profilesDir string
	watch       bool
	verbose     bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, done, err := parseArgs(args, stderr)
	if err != nil || done {
		return err
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	generate := func() error {
		topo, err := buildTopology(opts, logger)
		if err != nil {
			return err
		}
		logger.Debug("topology built", "topology", topo.String())
		return Generate(topo, opts.outputs, stdout, logger)
	}

	if err := generate(); err != nil {
		if errors.Is(err, ErrInvalidArgument) {
			return &usageError{err: err}
		}
		return err
	}

	if !opts.watch {
		return nil
	}

	watcher, err := NewConfigWatcher(opts.configFile, opts.profilesDir, watchDebounce, generate, logger)
	if err != nil {
		return err
	}
	return watcher.Run(ctx)
}

// buildTopology layers the settings file and flags over the selected hardware
// profile and builds the topology.
func buildTopology(opts *options, logger *slog.Logger) (*Topology, error) {
	var user Settings
	if opts.configFile != "" {
		fileSettings, err := LoadSettingsFile(opts.configFile)
		if err != nil {
			return nil, err
		}
		logger.Debug("loaded settings file", "path", opts.configFile)
		user = fileSettings
	}
	user = Overlay(user, opts.flags)

	profiles, err := NewProfileManager(opts.profilesDir)
	if err != nil {
		return nil, err
	}
	if names := profiles.ListProfiles(); len(names) > 0 {
		logger.Debug("loaded hardware profiles", "dir", opts.profilesDir, "profiles", names)
	}

	merged, err := profiles.MergeUserSettingsWithDefaults(user)
	if err != nil {
		return nil, err
	}
	if merged.Profile != "" {
		logger.Info("applied hardware profile", "profile", merged.Profile)
	}

	return FromSettings(merged)
}

// parseArgs parses the command line. done is true when the invocation was
// fully handled (help or version) and nothing should be generated.
func parseArgs(args []string, stderr io.Writer) (opts *options, done bool, err error) {
	opts = &options{}

	var (
		rois, cards, maxFrames, debug    int
		prefix1, prefix2, port, baseIP   string
		configPath, profile              string
		sim, noHighlevel, noROIStats     bool
		noArrays, noROIData, showVersion bool
	)

	flagSet := pflag.NewFlagSet("xspress3-iocgen", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.IntVarP(&rois, "rois", "r", 4, "number of ROIs per channel")
	flagSet.StringVarP(&prefix1, "prefix1", "p", "XSPRESS3", "first PV prefix")
	flagSet.StringVarP(&prefix2, "prefix2", "s", ":", "second PV prefix")
	flagSet.IntVar(&cards, "cards", 1, "number of cards in the system")
	flagSet.IntVar(&maxFrames, "max_frames", 16384, "maximum frames per acquisition")
	flagSet.StringVar(&port, "port", "XSP3", "asyn port name of the driver")
	flagSet.StringVar(&baseIP, "base_ip", "192.168.0.1", "base IP address of the xspress3 interfaces")
	flagSet.StringVar(&configPath, "config_path", "", "xspress3 configuration directory set after iocInit")
	flagSet.BoolVar(&sim, "sim", false, "run the driver in simulation mode")
	flagSet.IntVar(&debug, "debug", 0, "debug level passed to the xspress3 API")
	flagSet.BoolVar(&noHighlevel, "no-highlevel", false, "do not load xspress3_highlevel.template")
	flagSet.BoolVar(&noROIStats, "no-roistats", false, "do not configure ROI statistics plugins")
	flagSet.BoolVar(&noArrays, "no-arrays", false, "do not configure per-channel array export plugins")
	flagSet.BoolVar(&noROIData, "no-roidata", false, "feed the HDF5 writer directly from the driver")
	flagSet.StringVarP(&opts.outputs.Substitution, "substitution", "b", "", "substitution file name (default stdout)")
	flagSet.StringVarP(&opts.outputs.Startup, "startup_script", "t", "", "iocsh startup script file name (default stdout)")
	flagSet.StringVarP(&opts.outputs.PostInit, "post_init", "i", "", "iocsh post iocInit file name (default stdout)")
	flagSet.StringVarP(&opts.outputs.Attributes, "attributes", "a", "", "NDAttributes XML file name")
	flagSet.StringVarP(&opts.configFile, "config", "c", "", "settings file (YAML, JSON or JSONC)")
	flagSet.StringVar(&profile, "profile", "", "hardware profile to take defaults from")
	flagSet.StringVar(&opts.profilesDir, "profiles-dir", "profiles", "directory of hardware profile YAML files")
	flagSet.BoolVar(&opts.watch, "watch", false, "regenerate whenever the settings file or a profile changes")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	flagSet.BoolVar(&showVersion, "version", false, "print version and exit")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet, stderr)
			return nil, true, nil
		}
		return nil, false, &usageError{err: err}
	}

	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet, stderr)
		return nil, true, nil
	}
	if showVersion {
		fmt.Fprintf(stderr, "xspress3-iocgen %s\n", Version)
		return nil, true, nil
	}

	positional := flagSet.Args()
	if len(positional) > 1 {
		return nil, false, usagef("unexpected argument: %s", positional[1])
	}
	if len(positional) == 1 {
		n, err := strconv.Atoi(positional[0])
		if err != nil {
			return nil, false, usagef("n_channels must be an integer, got %q", positional[0])
		}
		opts.flags.Channels = &n
	} else if opts.configFile == "" {
		return nil, false, usagef("missing required argument n_channels")
	}

	if opts.watch && opts.configFile == "" {
		return nil, false, usagef("--watch requires --config")
	}

	// Only flags given explicitly form the command line layer; the defaults
	// shown in --help come from DefaultSettings.
	changed := flagSet.Changed
	if changed("rois") {
		opts.flags.ROIs = &rois
	}
	if changed("prefix1") {
		opts.flags.Prefix1 = &prefix1
	}
	if changed("prefix2") {
		opts.flags.Prefix2 = &prefix2
	}
	if changed("cards") {
		opts.flags.Cards = &cards
	}
	if changed("max_frames") {
		opts.flags.MaxFrames = &maxFrames
	}
	if changed("port") {
		opts.flags.Port = &port
	}
	if changed("base_ip") {
		opts.flags.BaseIP = &baseIP
	}
	if changed("config_path") {
		opts.flags.ConfigPath = &configPath
	}
	if changed("sim") {
		opts.flags.Simulation = &sim
	}
	if changed("debug") {
		opts.flags.Debug = &debug
	}
	if changed("profile") {
		opts.flags.Profile = profile
	}

	caps := &CapabilitySettings{}
	disable := func(name string, value bool, field **bool) {
		if changed(name) {
			enabled := !value
			*field = &enabled
			opts.flags.Capabilities = caps
		}
	}
	disable("no-highlevel", noHighlevel, &caps.Highlevel)
	disable("no-roistats", noROIStats, &caps.ROIStats)
	disable("no-arrays", noArrays, &caps.ArrayExport)
	disable("no-roidata", noROIData, &caps.ROIData)

	return opts, false, nil
}

func printHelp(flagSet *pflag.FlagSet, w io.Writer) {
	fmt.Fprintf(w, `xspress3-iocgen %s: generate xspress3 IOC configuration.

Writes a records substitution file, an iocsh startup script and an iocsh
post-iocInit script for an xspress3 detector with n_channels channels.
Outputs without a file name go to stdout.

Usage:
  xspress3-iocgen [flags] n_channels

Examples:
  # Four channels, four ROIs each, everything on stdout
  xspress3-iocgen 4

  # Eight channels into files
  xspress3-iocgen 8 -b xspress3.substitutions -t st.cmd -i post_init.cmd

  # Take defaults from a hardware profile and a settings file, keep regenerating
  xspress3-iocgen --profile xspress3-mini-4 --config ioc.yaml --watch

Flags:
`, Version)
	flagSet.SetOutput(w)
	flagSet.PrintDefaults()
}
