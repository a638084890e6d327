// gammacal measures the gamma of a display panel and its white point, and
// checks both against targets.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/knadh/koanf"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1.0.0"

	// ConfigFileName is what it sounds like
	ConfigFileName = "gammacal.yml"
)

// app is the state shared by the subcommands
type app struct {
	k    *koanf.Koanf
	cfg  Config
	path string

	port     string
	mock     bool
	logLevel string
}

func (a *app) setupLogger() error {
	if a.logLevel == "" {
		a.logLevel = a.cfg.LogLevel
	}
	level, err := log.ParseLevel(a.logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{})
	if !color.NoColor {
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}
	return nil
}

// setup loads the config and applies the persistent flags over it
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	a.k = koanf.New(".")
	cfg, err := LoadConfig(a.k, a.path)
	if err != nil {
		return err
	}
	if a.port != "" {
		cfg.Stimulus.Addr = a.port
	}
	if cmd.Flags().Changed("mock") {
		cfg.Mock = a.mock
	}
	a.cfg = cfg
	return a.setupLogger()
}

// NewCommand builds the gammacal command tree
func NewCommand() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "gammacal",
		Short: "gammacal calibrates the gamma and white point of display panels",
		Long: `gammacal drives a panel through a sequence of gray (or R, G, B, W) levels,
measures each with a photometer, fits the gamma of every channel, and checks
the fit and the white point against their targets.

Records are written next to the plan (graylevels.csv by default), in the
formats the bench has always used.  See "gammacal conf" for the settings.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}
	fl := cmd.PersistentFlags()
	fl.StringVarP(&a.path, "config", "c", ConfigFileName, "config file")
	fl.StringVarP(&a.port, "port", "p", "", "stimulus port, e.g. COM3 or /dev/ttyUSB0")
	fl.BoolVar(&a.mock, "mock", false, "emulate the panel and the photometer")
	fl.StringVarP(&a.logLevel, "log-level", "l", "", "log level (trace, debug, info, warn, error)")

	cmd.AddCommand(
		a.sweepCommand(),
		a.rgbwCommand(),
		a.validateCommand(),
		a.whitePointCommand(),
		a.gammaVoltCommand(),
		a.serveCommand(),
		a.mkconfCommand(),
		a.confCommand(),
		versionCommand(),
	)
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := NewCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
