package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/muurk/vtobridge/internal/config"
	"github.com/muurk/vtobridge/internal/engine"
	"github.com/muurk/vtobridge/internal/integration"
	"github.com/muurk/vtobridge/internal/logging"
	"github.com/muurk/vtobridge/internal/protocol"
	"github.com/muurk/vtobridge/internal/server"
	"github.com/muurk/vtobridge/internal/ui"
)

// Device flags, shared by run and probe
var (
	deviceAddress string
	devicePort    int
	username      string
	httpListen    string
	probeTimeout  int
	probeFormat   string
	hashUsername  string
)

func addDeviceFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&deviceAddress, "device", "d", "", "VTO address (overrides config)")
	cmd.Flags().IntVarP(&devicePort, "port", "p", 0, "VTO DHIP port (overrides config)")
	cmd.Flags().StringVarP(&username, "username", "u", "", "VTO username (overrides config)")
}

func init() {
	addDeviceFlags(runCmd)
	runCmd.Flags().StringVar(&httpListen, "http", "", "HTTP API listen address, e.g. :8080 (overrides config)")

	addDeviceFlags(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 30, "Seconds to wait for the device to report its details")
	probeCmd.Flags().StringVarP(&probeFormat, "output", "o", "auto", "Output format (auto, text, yaml); auto is text on a terminal")

	hashCmd.Flags().StringVarP(&hashUsername, "username", "u", config.DefaultUsername, "VTO username")
	hashCmd.Flags().String("password", "", "VTO password (prompted if omitted)")
	hashCmd.Flags().String("realm", "", "Realm from the login challenge")
	hashCmd.Flags().String("random", "", "Random from the login challenge")
	_ = hashCmd.MarkFlagRequired("realm")
	_ = hashCmd.MarkFlagRequired("random")

	initCmd.Flags().Bool("force", false, "Overwrite an existing config file")
}

// loadConfig reads the config file and layers command line flags on top
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if deviceAddress != "" {
		cfg.Device.Address = deviceAddress
	}
	if devicePort != 0 {
		cfg.Device.Port = devicePort
	}
	if username != "" {
		cfg.Device.Username = username
	}
	if cmd.Flags().Changed("http") {
		cfg.HTTP.Listen = httpListen
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if verbose {
		cfg.Verbose = true
	}

	if cfg.Device.Password == "" && cfg.Device.Address != "" {
		password, err := promptPassword(fmt.Sprintf("Password for %s@%s: ", cfg.Device.Username, cfg.Device.Address))
		if err != nil {
			return nil, err
		}
		cfg.Device.Password = password
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// promptPassword reads a password without echo. It fails when stdin is
// not a terminal, so unattended runs must configure the password.
func promptPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no device password configured; set it in the config file or %s", config.EnvPassword)
	}
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(pw), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bridge",
	Long: `Connect to the VTO and keep the session alive until interrupted.

Doorbell, lock, tamper and availability changes are logged and published to
every configured integration. Door commands are accepted from the HTTP API,
the MQTT lock/set topic and the NATS commands subject.`,
	Example: `  # Run with the default config file
  vto-bridge run

  # Run against a specific device with the HTTP API enabled
  vto-bridge run --device 192.168.1.110 --http :8080

  # Debug logging with frame dumps
  vto-bridge run -v`,
	RunE: runBridge,
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	level := cfg.EffectiveLogLevel()
	if level == "" {
		level = "info"
	}
	if err := logging.Initialize(level); err != nil {
		return err
	}
	defer logging.Sync()

	ctx, stop := signalContext()
	defer stop()

	tracker := integration.NewTracker()
	sinks := integration.Multi{integration.NewLogSink(), tracker}
	var publishers []integration.Publisher
	var starters []func(context.Context, engine.Commander) error

	if cfg.MQTT.Broker != "" {
		client, err := integration.DialMQTT(integration.MQTTOptions{
			Broker:      cfg.MQTT.Broker,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
		})
		if err != nil {
			return err
		}
		bridge := integration.NewMQTTBridge(client, cfg.MQTT.TopicPrefix)
		sinks = append(sinks, bridge)
		starters = append(starters, bridge.Start)
	}

	if cfg.NATS.URL != "" {
		nc, err := integration.DialNATS(cfg.NATS.URL)
		if err != nil {
			return err
		}
		defer func() {
			if err := nc.Drain(); err != nil {
				logging.Debug("NATS drain failed", zap.Error(err))
			}
		}()
		bridge := integration.NewNATSBridge(nc, cfg.NATS.SubjectPrefix)
		publishers = append(publishers, bridge)
		starters = append(starters, bridge.Start)
	}

	var hub *server.Hub
	if cfg.HTTP.Listen != "" {
		hub = server.NewHub()
		publishers = append(publishers, hub)
	}
	if len(publishers) > 0 {
		sinks = append(sinks, integration.NewEnvelopeSink(publishers...))
	}

	eng := engine.New(cfg.EngineConfig(), sinks)

	for _, start := range starters {
		if err := start(ctx, eng); err != nil {
			return err
		}
	}

	errChan := make(chan error, 1)
	if hub != nil {
		srv := server.New(server.Config{Listen: cfg.HTTP.Listen}, eng, tracker, hub)
		go func() {
			if err := srv.Run(ctx); err != nil {
				errChan <- err
			}
		}()
	}

	logging.Info("Starting VTO bridge",
		zap.String("device", cfg.EngineConfig().Address),
		zap.Int("port", cfg.Device.Port),
		zap.String("username", cfg.Device.Username))

	engineDone := make(chan error, 1)
	go func() { engineDone <- eng.Run(ctx) }()

	select {
	case err := <-engineDone:
		stop()
		if err != nil {
			return fmt.Errorf("engine stopped: %w", err)
		}
		logging.Info("VTO bridge stopped")
		return nil
	case err := <-errChan:
		stop()
		<-engineDone
		return err
	}
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Log in once and print the device details",
	Long: `Connect to the VTO, log in and load its capabilities, then print the
device type, firmware version, build date and serial number.

On a terminal the handshake is shown as a live step list ending in a
result box. With --output yaml, or when stdout is not a terminal, the
details are printed as YAML for scripts.

Useful for checking credentials before running the bridge.`,
	Example: `  vto-bridge probe --device 192.168.1.110 --username admin

  # Machine readable
  vto-bridge probe --device 192.168.1.110 --output yaml`,
	RunE: runProbe,
}

// Probe stages shown on the terminal, in handshake order
const (
	stageConnecting = iota + 1
	stageChallenge
	stageLogin
	stageCapabilities
)

var probeSteps = []string{
	"Connecting to VTO",
	"Requesting login challenge",
	"Logging in",
	"Loading capabilities",
}

var (
	errLoginRejected = errors.New("login rejected by device")
	errProbeTimeout  = errors.New("device did not report its details in time")
)

// probeStage maps an engine snapshot to the step it is working on
func probeStage(snap engine.Snapshot) (int, string) {
	switch snap.Phase {
	case "probe-sent":
		return stageChallenge, ""
	case "challenge-received", "login-sent":
		return stageLogin, ""
	case "authenticated":
		return stageCapabilities, fmt.Sprintf("session %d", snap.SessionID)
	default:
		if snap.ReconnectIn > 0 {
			return stageConnecting, fmt.Sprintf("retrying in %ds", snap.ReconnectIn)
		}
		return stageConnecting, snap.Address
	}
}

type probeOutput struct {
	Address     string              `yaml:"address"`
	Details     engine.DahuaDetails `yaml:"details"`
	DoorControl bool                `yaml:"door_control"`
	HoldTime    *int                `yaml:"hold_time,omitempty"`
	Unlock      *int                `yaml:"unlock_interval,omitempty"`
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch probeFormat {
	case "auto", "text", "yaml":
	default:
		return fmt.Errorf("unknown output format %q (want auto, text or yaml)", probeFormat)
	}
	styled := probeFormat == "text" || (probeFormat == "auto" && ui.IsTerminal(out))

	if err := logging.Initialize(cfg.EffectiveLogLevel()); err != nil {
		return err
	}
	defer logging.Sync()

	sigCtx, stop := signalContext()
	defer stop()
	ctx, cancel := context.WithTimeout(sigCtx, time.Duration(probeTimeout)*time.Second)
	defer cancel()

	// A rejected login will not improve on retry
	engCfg := cfg.EngineConfig()
	engCfg.HaltOnAuthFailure = true

	eng := engine.New(engCfg, engine.NopSink{})
	engineDone := make(chan error, 1)
	go func() { engineDone <- eng.Run(ctx) }()

	var snap engine.Snapshot
	if styled {
		title := fmt.Sprintf("Probing %s as %s", engCfg.Address, engCfg.Username)
		err = ui.RunStages(ctx, out, title, probeSteps, func(report ui.StageReporter) error {
			var werr error
			snap, werr = waitForCapabilities(ctx, eng, func(s engine.Snapshot) {
				report(probeStage(s))
			})
			return werr
		})
	} else {
		snap, err = waitForCapabilities(ctx, eng, nil)
	}
	cancel()
	<-engineDone

	if styled {
		fmt.Fprintln(out)
		fmt.Fprintln(out, probeResult(snap, err).SetWidth(ui.GetTerminalWidth()).Render())
		return err
	}
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(probeOutput{snap.Address, snap.Details, snap.DoorControl, snap.HoldTime, snap.UnlockInterval})
}

// probeResult builds the result box for a finished probe
func probeResult(snap engine.Snapshot, err error) *ui.Result {
	if err != nil {
		var tips []string
		switch {
		case errors.Is(err, errLoginRejected):
			tips = []string{
				"Check the username and password",
				"Too many failed logins lock the account for a while",
				"Try: vto-bridge hash to compare against captured traffic",
			}
		case errors.Is(err, errProbeTimeout):
			tips = []string{
				"Check the VTO is powered and reachable on the network",
				fmt.Sprintf("Check %s is the DHIP address (port %d by default)", snap.Address, engine.DefaultPort),
				"Raise --timeout for slow devices",
				"Run with --verbose to see every frame",
			}
		}
		return ui.NewFailureResult("VTO probe failed", err, tips)
	}

	r := ui.NewSuccessResult("VTO probe complete").
		AddDetail("Address", snap.Address).
		AddDetail("Device type", snap.Details.DeviceType).
		AddDetail("Firmware", snap.Details.Version).
		AddDetail("Build date", snap.Details.BuildDate).
		AddDetail("Serial number", snap.Details.SerialNumber)

	if snap.DoorControl {
		r.AddDetail("Door control", "available")
	} else {
		r.AddDetail("Door control", "unavailable")
	}
	if snap.HoldTime != nil {
		r.AddDetail("Hold time", fmt.Sprintf("%ds", *snap.HoldTime))
	}
	if snap.UnlockInterval != nil {
		r.AddDetail("Unlock interval", fmt.Sprintf("%ds", *snap.UnlockInterval))
	}
	return r
}

// waitForCapabilities polls the engine until the capabilities are loaded,
// the login is rejected or ctx ends. report, if set, sees every snapshot.
func waitForCapabilities(ctx context.Context, eng *engine.Engine, report func(engine.Snapshot)) (engine.Snapshot, error) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	var last engine.Snapshot
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return last, fmt.Errorf("%w (waited %ds)", errProbeTimeout, probeTimeout)
			}
			return last, ctx.Err()
		case <-ticker.C:
			snap, err := eng.Snapshot(ctx)
			if err != nil {
				continue
			}
			last = snap
			if report != nil {
				report(snap)
			}
			if snap.Halted {
				return snap, errLoginRejected
			}
			if snap.CapabilitiesLoaded {
				return snap, nil
			}
		}
	}
}

var hashCmd = &cobra.Command{
	Use:   "hash",
	Short: "Compute the DHIP login token",
	Long: `Compute the login token for a challenge, the way the bridge does when
it logs in. Handy for comparing against captured traffic.`,
	Example: `  vto-bridge hash --username admin --realm "Login to 6G0123PAZ" --random 1234567`,
	RunE: func(cmd *cobra.Command, args []string) error {
		password, _ := cmd.Flags().GetString("password")
		realm, _ := cmd.Flags().GetString("realm")
		random, _ := cmd.Flags().GetString("random")

		if password == "" {
			var err error
			if password, err = promptPassword("Password: "); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "password hash: %s\n", protocol.PasswordHash(hashUsername, realm, password))
		fmt.Fprintf(out, "token:         %s\n", protocol.HashPassword(hashUsername, password, realm, random))
		return nil
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	Example: `  # Write to the default location
  vto-bridge init

  # Write somewhere else
  vto-bridge init --config ./vto-bridge.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			var err error
			if path, err = config.GetConfigPath(); err != nil {
				return err
			}
		}

		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
		}

		cfg := config.Default()
		cfg.Device.Address = "192.168.1.110"
		cfg.LogLevel = "info"
		cfg.HTTP.Listen = ":8080"
		if err := cfg.Save(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}
