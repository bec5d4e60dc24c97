// Package main provides the CLI entrypoint for blockcap.
package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/shlex"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/verte-zerg/blockcap/internal/acq"
	"github.com/verte-zerg/blockcap/internal/config"
	"github.com/verte-zerg/blockcap/internal/driver"
	"github.com/verte-zerg/blockcap/internal/eventsui"
	"github.com/verte-zerg/blockcap/internal/listing"
	"github.com/verte-zerg/blockcap/internal/metrics"
	"github.com/verte-zerg/blockcap/internal/model"
	"github.com/verte-zerg/blockcap/internal/plot"
	"github.com/verte-zerg/blockcap/internal/sink"
	"github.com/verte-zerg/blockcap/internal/store"
)

const (
	defaultDevice        = "sim"
	defaultSamples       = 1_000_000
	defaultPreTrigger    = 0.3
	defaultTimebase      = 1
	defaultPollInterval  = "1ms"
	defaultMaxWait       = "1m"
	defaultRetryBackoff  = "10ms"
	defaultCoupling      = "dc"
	defaultRange         = "5V"
	defaultLevelMV       = 500.0
	defaultHysteresis    = 10
	defaultDirection     = "falling"
	defaultWave          = "square"
	defaultOffsetMicroV  = 500_000
	defaultPkToPkMicroV  = 1_000_000
	defaultStimulusHz    = 1e6
	defaultShots         = 1
	defaultStimTrigger   = "rising"
	defaultStimSource    = "soft"
	defaultOutputDir     = "/mnt/extdrive"
	defaultInspectHeight = 16
)

var (
	acqDevice       string
	acqSamples      int
	acqPreTrigger   float64
	acqTimebase     int
	acqPollInterval string
	acqMaxWait      string
	acqRetryBackoff string
	acqEvents       int

	chanAEnabled  bool
	chanACoupling string
	chanARange    string
	chanAOffset   float64
	chanBEnabled  bool
	chanBCoupling string
	chanBRange    string
	chanBOffset   float64

	trigLevelMV    float64
	trigHysteresis int
	trigDirA       string
	trigDirB       string
	trigAutoMs     int

	stimEnabled  bool
	stimWave     string
	stimOffsetUV int
	stimPkPkUV   int
	stimStartHz  float64
	stimStopHz   float64
	stimShots    int
	stimSweeps   int
	stimTrigType string
	stimTrigSrc  string

	outputDir   string
	outputDB    string
	metricsAddr string

	eventsSince   string
	eventsLast    int
	eventsOutcome string
	eventsFormat  string
	eventsTUI     bool
	eventsDB      string

	inspectWidth  int
	inspectHeight int
)

type channelFlags struct {
	Enabled  bool
	Coupling string
	Range    string
	Offset   float64
}

type acquireConfig struct {
	Device       string
	Samples      int
	PreTrigger   float64
	Timebase     int
	PollInterval time.Duration
	MaxWait      time.Duration
	RetryBackoff time.Duration
	Events       int

	A channelFlags
	B channelFlags

	LevelMV       float64
	Hysteresis    int
	DirectionA    string
	DirectionB    string
	AutoTriggerMs int

	StimEnabled  bool
	StimWave     string
	StimOffsetUV int
	StimPkPkUV   int
	StimStartHz  float64
	StimStopHz   float64
	StimShots    int
	StimSweeps   int
	StimTrigType string
	StimTrigSrc  string

	OutputDir   string
	DBPath      string
	MetricsAddr string
}

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "blockcap",
		Short:         "Triggered block-mode capture for dual-channel scopes",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runAcquireCmd,
	}

	flags := rootCmd.Flags()
	flags.StringVar(&acqDevice, "device", defaultDevice, fmt.Sprintf("instrument driver (%s)", strings.Join(driver.Names(), ", ")))
	flags.IntVar(&acqSamples, "samples", defaultSamples, "samples per event")
	flags.Float64Var(&acqPreTrigger, "pre-trigger", defaultPreTrigger, "fraction of samples before the trigger (0-1)")
	flags.IntVar(&acqTimebase, "timebase", defaultTimebase, "device timebase index")
	flags.StringVar(&acqPollInterval, "poll-interval", defaultPollInterval, "readiness poll interval")
	flags.StringVar(&acqMaxWait, "max-wait", defaultMaxWait, "maximum wait for one trigger (0 waits forever)")
	flags.StringVar(&acqRetryBackoff, "retry-backoff", defaultRetryBackoff, "pause after a failed capture")
	flags.IntVar(&acqEvents, "events", 0, "stop after N armed events (0 runs until interrupted)")

	flags.BoolVar(&chanAEnabled, "a-enabled", true, "enable channel A")
	flags.StringVar(&chanACoupling, "a-coupling", defaultCoupling, "channel A coupling (ac, dc)")
	flags.StringVar(&chanARange, "a-range", defaultRange, "channel A range (10mV .. 20V)")
	flags.Float64Var(&chanAOffset, "a-offset", 0, "channel A analogue offset in volts")
	flags.BoolVar(&chanBEnabled, "b-enabled", true, "enable channel B")
	flags.StringVar(&chanBCoupling, "b-coupling", defaultCoupling, "channel B coupling (ac, dc)")
	flags.StringVar(&chanBRange, "b-range", defaultRange, "channel B range (10mV .. 20V)")
	flags.Float64Var(&chanBOffset, "b-offset", 0, "channel B analogue offset in volts")

	flags.Float64Var(&trigLevelMV, "level-mv", defaultLevelMV, "trigger threshold in millivolts")
	flags.IntVar(&trigHysteresis, "hysteresis", defaultHysteresis, "trigger hysteresis in ADC codes")
	flags.StringVar(&trigDirA, "direction-a", defaultDirection, "trigger direction on A (rising, falling, above, below, none)")
	flags.StringVar(&trigDirB, "direction-b", defaultDirection, "trigger direction on B (rising, falling, above, below, none)")
	flags.IntVar(&trigAutoMs, "auto-trigger-ms", 0, "auto trigger after N ms (0 disables)")

	flags.BoolVar(&stimEnabled, "stimulus", true, "drive the built-in signal generator")
	flags.StringVar(&stimWave, "wave", defaultWave, "generator waveform")
	flags.IntVar(&stimOffsetUV, "offset-uv", defaultOffsetMicroV, "generator offset in microvolts")
	flags.IntVar(&stimPkPkUV, "pk-pk-uv", defaultPkToPkMicroV, "generator peak-to-peak in microvolts")
	flags.Float64Var(&stimStartHz, "start-hz", defaultStimulusHz, "generator start frequency")
	flags.Float64Var(&stimStopHz, "stop-hz", defaultStimulusHz, "generator stop frequency")
	flags.IntVar(&stimShots, "shots", defaultShots, "generator shots per trigger")
	flags.IntVar(&stimSweeps, "sweeps", 0, "generator sweeps per trigger")
	flags.StringVar(&stimTrigType, "stim-trigger", defaultStimTrigger, "generator trigger type (rising, falling, gate-high, gate-low)")
	flags.StringVar(&stimTrigSrc, "stim-source", defaultStimSource, "generator trigger source (none, scope, aux, ext, soft)")

	flags.StringVar(&outputDir, "output", defaultOutputDir, "artifact root directory")
	flags.StringVar(&outputDB, "db", "", "event index path (default: XDG data dir)")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics on this address")

	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newEventsCmd())
	rootCmd.AddCommand(newInspectCmd())

	return rootCmd
}

func runAcquireCmd(cmd *cobra.Command, _ []string) error {
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyFileConfig(cmd, fileCfg)

	cfg, err := resolveAcquireConfig()
	if err != nil {
		return err
	}
	if err := validateConfig(cfg); err != nil {
		return err
	}
	setup, err := buildSetup(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	obs, err := metrics.NewPromObs(reg, log.New(os.Stderr, "", log.LstdFlags))
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, reg); err != nil {
				obs.LogError("metrics server", err, metrics.F("addr", cfg.MetricsAddr))
			}
		}()
	}

	drv, err := driver.New(cfg.Device)
	if err != nil {
		return err
	}
	sess, err := acq.OpenSession(drv, obs)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			logErrf("failed to close device: %v\n", cerr)
		}
	}()

	conf, err := acq.Configure(sess, setup)
	if err != nil {
		return err
	}
	bufs, err := acq.BuffersFor(conf)
	if err != nil {
		return err
	}
	if err := bufs.Register(sess); err != nil {
		return err
	}

	w, err := sink.New(cfg.OutputDir, nil)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()
	runID, err := st.InsertRun(ctx, model.RunInfo{
		StartedAt:  time.Now(),
		Device:     cfg.Device,
		Timing:     conf.Timing,
		OutputDir:  w.Dir(),
		TriggerMV:  cfg.LevelMV,
		ConfigDesc: describeConfig(cfg),
	})
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	loop, err := acq.NewLoop(sess, conf, bufs, w, obs, acq.LoopConfig{
		PollInterval: cfg.PollInterval,
		MaxWait:      cfg.MaxWait,
		RetryBackoff: cfg.RetryBackoff,
		MaxEvents:    cfg.Events,
	})
	if err != nil {
		return err
	}
	loop.SetRecorder(st.Recorder(runID))

	obs.LogInfo("acquisition started",
		metrics.F("device", cfg.Device),
		metrics.F("samples", conf.Timing.TotalSamples),
		metrics.F("pre", conf.Timing.PreSamples),
		metrics.F("interval_ns", conf.Timing.IntervalNs),
		metrics.F("dir", w.Dir()),
	)
	runErr := loop.Run(ctx)
	if serr := sess.Stop(); serr != nil {
		logErrf("failed to stop capture: %v\n", serr)
	}
	obs.LogInfo("acquisition stopped", metrics.F("events", loop.Events()))
	return runErr
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := config.DefaultConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	parts, err := editorCommand(os.Getenv("EDITOR"))
	if err != nil {
		return err
	}
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

func editorCommand(editor string) ([]string, error) {
	editor = strings.TrimSpace(editor)
	if editor == "" {
		editor = "vi"
	}
	parts, err := shlex.Split(editor)
	if err != nil {
		return nil, fmt.Errorf("failed to parse $EDITOR: %w", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("editor command is empty")
	}
	return parts, nil
}

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recorded events",
		Args:  cobra.NoArgs,
		RunE:  runEventsCmd,
	}
	cmd.Flags().StringVar(&eventsSince, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&eventsLast, "last", 0, "limit to last N events")
	cmd.Flags().StringVar(&eventsOutcome, "outcome", "", "outcome filter (persisted, capture_failed, persist_failed)")
	cmd.Flags().StringVar(&eventsFormat, "format", "table", "output format (table, yaml)")
	cmd.Flags().BoolVar(&eventsTUI, "tui", false, "browse events interactively")
	cmd.Flags().StringVar(&eventsDB, "db", "", "event index path (default: XDG data dir)")
	return cmd
}

func runEventsCmd(cmd *cobra.Command, _ []string) error {
	filter, err := eventFilter(eventsSince, eventsLast, eventsOutcome)
	if err != nil {
		return err
	}
	format := strings.ToLower(strings.TrimSpace(eventsFormat))
	if format != "table" && format != "yaml" {
		return fmt.Errorf("--format must be table or yaml")
	}

	dbPath := eventsDB
	if dbPath == "" {
		fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		dbPath = config.DefaultDBPath()
		if fileCfg.Output.DB != nil && *fileCfg.Output.DB != "" {
			dbPath = *fileCfg.Output.DB
		}
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()

	if eventsTUI {
		program := tea.NewProgram(eventsui.NewModel(st, filter), tea.WithAltScreen())
		if _, err := program.Run(); err != nil {
			return fmt.Errorf("failed to run events TUI: %w", err)
		}
		return nil
	}

	events, err := st.ListEvents(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("failed to list events: %w", err)
	}
	if format == "yaml" {
		return listing.WriteYAML(cmd.OutOrStdout(), events)
	}
	return listing.WriteTable(cmd.OutOrStdout(), events)
}

func eventFilter(since string, last int, outcome string) (model.EventFilter, error) {
	var filter model.EventFilter
	if since != "" {
		parsed, err := time.ParseInLocation("2006-01-02", since, time.Local)
		if err != nil {
			return filter, fmt.Errorf("invalid --since value: %w", err)
		}
		filter.Since = &parsed
	}
	if last < 0 {
		return filter, fmt.Errorf("--last must be >= 0")
	}
	filter.Last = last
	parsed, err := listing.ParseOutcome(outcome)
	if err != nil {
		return filter, fmt.Errorf("invalid --outcome value: %w", err)
	}
	filter.Outcome = parsed
	return filter, nil
}

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <artifact>",
		Short: "Plot a persisted event",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspectCmd,
	}
	cmd.Flags().IntVar(&inspectWidth, "width", 0, "plot width in columns (default: terminal width)")
	cmd.Flags().IntVar(&inspectHeight, "height", defaultInspectHeight, "plot height in rows")
	return cmd
}

func runInspectCmd(cmd *cobra.Command, args []string) error {
	if inspectWidth < 0 {
		return fmt.Errorf("--width must be >= 0")
	}
	if inspectHeight <= 0 {
		return fmt.Errorf("--height must be > 0")
	}
	rows, err := sink.ReadArtifact(args[0])
	if err != nil {
		return err
	}
	title := fmt.Sprintf("%s  %d samples", filepath.Base(args[0]), len(rows))
	return plot.Waveform(cmd.OutOrStdout(), title, rows, plot.Options{Width: inspectWidth, Height: inspectHeight})
}

func applyFileConfig(cmd *cobra.Command, fileCfg config.FileConfig) {
	a := fileCfg.Acquisition
	applyStringConfig(cmd, "device", &acqDevice, a.Device)
	applyIntConfig(cmd, "samples", &acqSamples, a.Samples)
	applyFloatConfig(cmd, "pre-trigger", &acqPreTrigger, a.PreTrigger)
	applyIntConfig(cmd, "timebase", &acqTimebase, a.Timebase)
	applyStringConfig(cmd, "poll-interval", &acqPollInterval, a.PollInterval)
	applyStringConfig(cmd, "max-wait", &acqMaxWait, a.MaxWait)
	applyStringConfig(cmd, "retry-backoff", &acqRetryBackoff, a.RetryBackoff)
	applyIntConfig(cmd, "events", &acqEvents, a.Events)

	chA := fileCfg.ChannelFor("a")
	applyBoolConfig(cmd, "a-enabled", &chanAEnabled, chA.Enabled)
	applyStringConfig(cmd, "a-coupling", &chanACoupling, chA.Coupling)
	applyStringConfig(cmd, "a-range", &chanARange, chA.Range)
	applyFloatConfig(cmd, "a-offset", &chanAOffset, chA.Offset)
	chB := fileCfg.ChannelFor("b")
	applyBoolConfig(cmd, "b-enabled", &chanBEnabled, chB.Enabled)
	applyStringConfig(cmd, "b-coupling", &chanBCoupling, chB.Coupling)
	applyStringConfig(cmd, "b-range", &chanBRange, chB.Range)
	applyFloatConfig(cmd, "b-offset", &chanBOffset, chB.Offset)

	tr := fileCfg.Trigger
	applyFloatConfig(cmd, "level-mv", &trigLevelMV, tr.LevelMV)
	applyIntConfig(cmd, "hysteresis", &trigHysteresis, tr.Hysteresis)
	applyStringConfig(cmd, "direction-a", &trigDirA, tr.DirectionA)
	applyStringConfig(cmd, "direction-b", &trigDirB, tr.DirectionB)
	applyIntConfig(cmd, "auto-trigger-ms", &trigAutoMs, tr.AutoTriggerMs)

	s := fileCfg.Stimulus
	applyBoolConfig(cmd, "stimulus", &stimEnabled, s.Enabled)
	applyStringConfig(cmd, "wave", &stimWave, s.Wave)
	applyIntConfig(cmd, "offset-uv", &stimOffsetUV, s.OffsetMicroV)
	applyIntConfig(cmd, "pk-pk-uv", &stimPkPkUV, s.PkToPkMicroV)
	applyFloatConfig(cmd, "start-hz", &stimStartHz, s.StartHz)
	applyFloatConfig(cmd, "stop-hz", &stimStopHz, s.StopHz)
	applyIntConfig(cmd, "shots", &stimShots, s.Shots)
	applyIntConfig(cmd, "sweeps", &stimSweeps, s.Sweeps)
	applyStringConfig(cmd, "stim-trigger", &stimTrigType, s.TriggerType)
	applyStringConfig(cmd, "stim-source", &stimTrigSrc, s.TriggerSource)

	applyStringConfig(cmd, "output", &outputDir, fileCfg.Output.Dir)
	applyStringConfig(cmd, "db", &outputDB, fileCfg.Output.DB)
	applyStringConfig(cmd, "metrics-addr", &metricsAddr, fileCfg.Metrics.Addr)
}

func resolveAcquireConfig() (acquireConfig, error) {
	poll, err := parseDurationFlag("poll-interval", acqPollInterval)
	if err != nil {
		return acquireConfig{}, err
	}
	maxWait, err := parseDurationFlag("max-wait", acqMaxWait)
	if err != nil {
		return acquireConfig{}, err
	}
	backoff, err := parseDurationFlag("retry-backoff", acqRetryBackoff)
	if err != nil {
		return acquireConfig{}, err
	}
	dbPath := outputDB
	if dbPath == "" {
		dbPath = config.DefaultDBPath()
	}
	return acquireConfig{
		Device:        acqDevice,
		Samples:       acqSamples,
		PreTrigger:    acqPreTrigger,
		Timebase:      acqTimebase,
		PollInterval:  poll,
		MaxWait:       maxWait,
		RetryBackoff:  backoff,
		Events:        acqEvents,
		A:             channelFlags{Enabled: chanAEnabled, Coupling: chanACoupling, Range: chanARange, Offset: chanAOffset},
		B:             channelFlags{Enabled: chanBEnabled, Coupling: chanBCoupling, Range: chanBRange, Offset: chanBOffset},
		LevelMV:       trigLevelMV,
		Hysteresis:    trigHysteresis,
		DirectionA:    trigDirA,
		DirectionB:    trigDirB,
		AutoTriggerMs: trigAutoMs,
		StimEnabled:   stimEnabled,
		StimWave:      stimWave,
		StimOffsetUV:  stimOffsetUV,
		StimPkPkUV:    stimPkPkUV,
		StimStartHz:   stimStartHz,
		StimStopHz:    stimStopHz,
		StimShots:     stimShots,
		StimSweeps:    stimSweeps,
		StimTrigType:  stimTrigType,
		StimTrigSrc:   stimTrigSrc,
		OutputDir:     outputDir,
		DBPath:        dbPath,
		MetricsAddr:   strings.TrimSpace(metricsAddr),
	}, nil
}

func parseDurationFlag(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("--%s must be a duration such as 10ms: %w", name, err)
	}
	return d, nil
}

func validateConfig(cfg acquireConfig) error {
	if strings.TrimSpace(cfg.Device) == "" {
		return fmt.Errorf("--device must not be empty")
	}
	if cfg.Samples <= 0 {
		return fmt.Errorf("--samples must be > 0")
	}
	if cfg.PreTrigger < 0 || cfg.PreTrigger > 1 {
		return fmt.Errorf("--pre-trigger must be between 0 and 1")
	}
	if cfg.Timebase < 0 || int64(cfg.Timebase) > math.MaxUint32 {
		return fmt.Errorf("--timebase must be between 0 and %d", uint32(math.MaxUint32))
	}
	if cfg.PollInterval < 0 {
		return fmt.Errorf("--poll-interval must be >= 0")
	}
	if cfg.MaxWait < 0 {
		return fmt.Errorf("--max-wait must be >= 0")
	}
	if cfg.RetryBackoff < 0 {
		return fmt.Errorf("--retry-backoff must be >= 0")
	}
	if cfg.Events < 0 {
		return fmt.Errorf("--events must be >= 0")
	}
	if !cfg.A.Enabled && !cfg.B.Enabled {
		return fmt.Errorf("at least one of --a-enabled and --b-enabled must be set")
	}
	if cfg.Hysteresis < 0 || cfg.Hysteresis > math.MaxUint16 {
		return fmt.Errorf("--hysteresis must be between 0 and %d", math.MaxUint16)
	}
	if cfg.AutoTriggerMs < 0 || cfg.AutoTriggerMs > math.MaxInt16 {
		return fmt.Errorf("--auto-trigger-ms must be between 0 and %d", math.MaxInt16)
	}
	if cfg.StimEnabled {
		if int64(cfg.StimOffsetUV) < math.MinInt32 || int64(cfg.StimOffsetUV) > math.MaxInt32 {
			return fmt.Errorf("--offset-uv is out of range")
		}
		if cfg.StimPkPkUV < 0 || int64(cfg.StimPkPkUV) > math.MaxUint32 {
			return fmt.Errorf("--pk-pk-uv must be >= 0")
		}
		if cfg.StimStartHz <= 0 || cfg.StimStopHz < cfg.StimStartHz {
			return fmt.Errorf("--start-hz must be > 0 and --stop-hz must be >= --start-hz")
		}
		if cfg.StimShots < 0 || cfg.StimSweeps < 0 {
			return fmt.Errorf("--shots and --sweeps must be >= 0")
		}
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		return fmt.Errorf("--output must not be empty")
	}
	return nil
}

// buildSetup parses the named settings into the device setup. Channels
// with a trigger direction other than none take part in the trigger and
// are ANDed into a single condition group.
func buildSetup(cfg acquireConfig) (acq.Setup, error) {
	setup := acq.Setup{
		Request: model.AcquisitionRequest{
			Timebase:     uint32(cfg.Timebase),
			TotalSamples: cfg.Samples,
			PreFraction:  cfg.PreTrigger,
		},
		Trigger: model.TriggerSpec{AutoTriggerMs: int16(cfg.AutoTriggerMs)},
	}

	var triggered []model.Channel
	for _, c := range []struct {
		ch    model.Channel
		flags channelFlags
		dir   string
	}{
		{model.ChannelA, cfg.A, cfg.DirectionA},
		{model.ChannelB, cfg.B, cfg.DirectionB},
	} {
		name := strings.ToLower(c.ch.String())
		coupling, err := model.ParseCoupling(c.flags.Coupling)
		if err != nil {
			return acq.Setup{}, fmt.Errorf("--%s-coupling: %w", name, err)
		}
		rng, err := model.ParseRange(c.flags.Range)
		if err != nil {
			return acq.Setup{}, fmt.Errorf("--%s-range: %w", name, err)
		}
		setup.Channels = append(setup.Channels, model.ChannelConfig{
			Channel:  c.ch,
			Enabled:  c.flags.Enabled,
			Coupling: coupling,
			Range:    rng,
			OffsetV:  c.flags.Offset,
		})
		dir, err := model.ParseDirection(c.dir)
		if err != nil {
			return acq.Setup{}, fmt.Errorf("--direction-%s: %w", name, err)
		}
		if !c.flags.Enabled || dir == model.DirectionNone {
			continue
		}
		setup.Trigger.Channels = append(setup.Trigger.Channels, model.ChannelTrigger{
			Channel:         c.ch,
			UpperMV:         cfg.LevelMV,
			UpperHysteresis: uint16(cfg.Hysteresis),
			Mode:            model.ThresholdLevel,
			Direction:       dir,
		})
		triggered = append(triggered, c.ch)
	}
	switch {
	case len(triggered) > 0:
		setup.Trigger.Conditions = []model.ConditionGroup{model.AllOf(triggered...)}
	case cfg.AutoTriggerMs == 0:
		return acq.Setup{}, fmt.Errorf("at least one enabled channel needs a trigger direction other than none, or set --auto-trigger-ms")
	}

	if cfg.StimEnabled {
		wave, err := model.ParseWave(cfg.StimWave)
		if err != nil {
			return acq.Setup{}, fmt.Errorf("--wave: %w", err)
		}
		trig, err := model.ParseSigGenTrigger(cfg.StimTrigType)
		if err != nil {
			return acq.Setup{}, fmt.Errorf("--stim-trigger: %w", err)
		}
		src, err := model.ParseSigGenSource(cfg.StimTrigSrc)
		if err != nil {
			return acq.Setup{}, fmt.Errorf("--stim-source: %w", err)
		}
		setup.Stimulus = model.StimulusSpec{
			Enabled:       true,
			Wave:          wave,
			OffsetMicroV:  int32(cfg.StimOffsetUV),
			PkToPkMicroV:  uint32(cfg.StimPkPkUV),
			StartHz:       cfg.StimStartHz,
			StopHz:        cfg.StimStopHz,
			Shots:         uint32(cfg.StimShots),
			Sweeps:        uint32(cfg.StimSweeps),
			TriggerType:   trig,
			TriggerSource: src,
		}
	}
	return setup, nil
}

func describeConfig(cfg acquireConfig) string {
	return fmt.Sprintf("samples=%d pre=%.3f timebase=%d a=%t/%s/%s b=%t/%s/%s level=%.1fmV dir=%s/%s stimulus=%t",
		cfg.Samples, cfg.PreTrigger, cfg.Timebase,
		cfg.A.Enabled, cfg.A.Coupling, cfg.A.Range,
		cfg.B.Enabled, cfg.B.Coupling, cfg.B.Range,
		cfg.LevelMV, cfg.DirectionA, cfg.DirectionB, cfg.StimEnabled)
}

func applyStringConfig(cmd *cobra.Command, name string, target, value *string) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyIntConfig(cmd *cobra.Command, name string, target, value *int) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyFloatConfig(cmd *cobra.Command, name string, target, value *float64) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyBoolConfig(cmd *cobra.Command, name string, target, value *bool) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func defaultConfigTemplate() string {
	return fmt.Sprintf(`# blockcap configuration
# Uncomment a value to enable it. CLI flags override config values.

[acquisition]
# device = %q               # Instrument driver
# samples = %d           # Samples per event
# pre-trigger = %.2f          # Fraction of samples before the trigger (0-1)
# timebase = %d               # Device timebase index
# poll-interval = %q       # Readiness poll interval
# max-wait = %q              # Maximum wait for one trigger (0 waits forever)
# retry-backoff = %q      # Pause after a failed capture
# events = 0                 # Stop after N armed events (0 runs until interrupted)

[channel.a]
# enabled = true
# coupling = %q             # ac or dc
# range = %q                # 10mV .. 20V
# offset = 0.0               # Analogue offset in volts

[channel.b]
# enabled = true
# coupling = %q
# range = %q
# offset = 0.0

[trigger]
# level-mv = %.1f           # Threshold in millivolts
# hysteresis = %d            # Hysteresis in ADC codes
# direction-a = %q     # rising, falling, above, below, none
# direction-b = %q
# auto-trigger-ms = 0        # Auto trigger after N ms (0 disables)

[stimulus]
# enabled = true
# wave = %q             # sine, square, triangle, ramp-up, ramp-down, dc
# offset-uv = %d         # Offset in microvolts
# pk-pk-uv = %d         # Peak-to-peak in microvolts
# start-hz = %.1f       # Start frequency
# stop-hz = %.1f        # Stop frequency
# shots = %d                  # Shots per trigger
# sweeps = 0                 # Sweeps per trigger
# trigger-type = %q     # rising, falling, gate-high, gate-low
# trigger-source = %q     # none, scope, aux, ext, soft

[output]
# dir = %q         # Artifact root; events go to <dir>/YYYY-MM-DD
# db = %q

[metrics]
# addr = "127.0.0.1:9464"    # Serve /metrics and /healthz
`,
		defaultDevice,
		defaultSamples,
		defaultPreTrigger,
		defaultTimebase,
		defaultPollInterval,
		defaultMaxWait,
		defaultRetryBackoff,
		defaultCoupling,
		defaultRange,
		defaultCoupling,
		defaultRange,
		defaultLevelMV,
		defaultHysteresis,
		defaultDirection,
		defaultDirection,
		defaultWave,
		defaultOffsetMicroV,
		defaultPkToPkMicroV,
		defaultStimulusHz,
		defaultStimulusHz,
		defaultShots,
		defaultStimTrigger,
		defaultStimSource,
		defaultOutputDir,
		config.DefaultDBPath(),
	)
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}
