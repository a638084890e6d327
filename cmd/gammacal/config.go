package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	yml "gopkg.in/yaml.v2"

	"github.com/labdisplay/gammacal/calib"
	"github.com/labdisplay/gammacal/gamma"
	"github.com/labdisplay/gammacal/gammavolt"
	"github.com/labdisplay/gammacal/photometer"
	"github.com/labdisplay/gammacal/sequencer"
	"github.com/labdisplay/gammacal/stimulus"
	"github.com/labdisplay/gammacal/util"
	"github.com/labdisplay/gammacal/validate"
)

// EnvPrefix marks the environment variables that override the config file,
// e.g. GAMMACAL_SWEEP_SETTLEMS=150
const EnvPrefix = "GAMMACAL_"

// StimulusConfig addresses the panel's factory console
type StimulusConfig struct {
	// Addr is a serial port name (COM3, /dev/ttyUSB0) or host:port
	Addr string `koanf:"addr" yaml:"addr"`

	Serial   bool `koanf:"serial" yaml:"serial"`
	Baud     int  `koanf:"baud" yaml:"baud"`
	AwaitAck bool `koanf:"awaitAck" yaml:"awaitAck"`

	// Brightness is the backlight level of single channel sweeps
	Brightness int `koanf:"brightness" yaml:"brightness"`
}

// SweepConfig holds the timing of the sequencer
type SweepConfig struct {
	SettleMs        int `koanf:"settleMs" yaml:"settleMs"`
	RGBWSettleMs    int `koanf:"rgbwSettleMs" yaml:"rgbwSettleMs"`
	Retries         int `koanf:"retries" yaml:"retries"`
	RetryIntervalMs int `koanf:"retryIntervalMs" yaml:"retryIntervalMs"`
}

// Options converts the config to sequencer options
func (s SweepConfig) Options() []sequencer.Option {
	return []sequencer.Option{
		sequencer.WithSettle(util.MillisToDuration(s.SettleMs)),
		sequencer.WithChannelSettle(util.MillisToDuration(s.RGBWSettleMs)),
		sequencer.WithRetries(s.Retries, util.MillisToDuration(s.RetryIntervalMs)),
	}
}

// FitConfig holds the targets and the search grid
type FitConfig struct {
	TargetGamma    float64       `koanf:"targetGamma" yaml:"targetGamma"`
	Tolerance      float64       `koanf:"tolerance" yaml:"tolerance"`
	MultiTolerance float64       `koanf:"multiTolerance" yaml:"multiTolerance"`
	GammaMin       float64       `koanf:"gammaMin" yaml:"gammaMin"`
	GammaMax       float64       `koanf:"gammaMax" yaml:"gammaMax"`
	Steps          int           `koanf:"steps" yaml:"steps"`
	Weights        gamma.Weights `koanf:"weights" yaml:"weights"`
}

// Fitter returns the fitter described by the config
func (f FitConfig) Fitter() gamma.Fitter {
	return gamma.Fitter{
		Weights: f.Weights,
		Search:  gamma.Search{Min: f.GammaMin, Max: f.GammaMax, Steps: f.Steps},
	}
}

// GammaVoltConfig names the helper that wraps the vendor gamma engine
type GammaVoltConfig struct {
	Command string `koanf:"command" yaml:"command"`
}

// RateLimitConfig throttles GET /measure on the server
type RateLimitConfig struct {
	Limit    int `koanf:"limit" yaml:"limit"`
	WindowMs int `koanf:"windowMs" yaml:"windowMs"`
}

// Config is the whole configuration of gammacal
type Config struct {
	// Addr is the address the server listens at
	Addr string `koanf:"addr" yaml:"addr"`

	// Mock replaces the panel and the photometer with emulations
	Mock bool `koanf:"mock" yaml:"mock"`

	LogLevel string `koanf:"logLevel" yaml:"logLevel"`

	// SKU selects the white point window
	SKU string `koanf:"sku" yaml:"sku"`

	Stimulus   StimulusConfig    `koanf:"stimulus" yaml:"stimulus"`
	Photometer photometer.Config `koanf:"photometer" yaml:"photometer"`
	Sweep      SweepConfig       `koanf:"sweep" yaml:"sweep"`
	Fit        FitConfig         `koanf:"fit" yaml:"fit"`
	Files      calib.Files       `koanf:"files" yaml:"files"`
	GammaVolt  GammaVoltConfig   `koanf:"gammavolt" yaml:"gammavolt"`
	RateLimit  RateLimitConfig   `koanf:"rateLimit" yaml:"rateLimit"`
}

// DefaultConfig reproduces the bench defaults
func DefaultConfig() Config {
	return Config{
		Addr:     ":8000",
		LogLevel: "info",
		Stimulus: StimulusConfig{
			Addr:       "COM3",
			Serial:     true,
			Baud:       stimulus.DefaultBaud,
			Brightness: 255,
		},
		Photometer: photometer.DefaultConfig,
		Sweep: SweepConfig{
			SettleMs:        int(sequencer.DefaultSettle / time.Millisecond),
			RGBWSettleMs:    int(sequencer.DefaultChannelSettle / time.Millisecond),
			RetryIntervalMs: 50,
		},
		Fit: FitConfig{
			TargetGamma:    validate.DefaultSingle.Target,
			Tolerance:      validate.DefaultSingle.Tolerance,
			MultiTolerance: validate.DefaultMulti.Tolerance,
			GammaMin:       gamma.DefaultSearch.Min,
			GammaMax:       gamma.DefaultSearch.Max,
			Steps:          gamma.DefaultSearch.Steps,
			Weights:        gamma.DefaultWeights,
		},
		Files:     calib.DefaultFiles,
		RateLimit: RateLimitConfig{Limit: 10, WindowMs: 1000},
	}
}

// envKey maps GAMMACAL_SWEEP_SETTLEMS to sweep.settleMs.  Keys are matched
// case insensitively against those already loaded; unknown variables are
// dropped.
func envKey(known map[string]string) func(string) string {
	return func(s string) string {
		key := strings.ToLower(strings.Replace(strings.TrimPrefix(s, EnvPrefix), "_", ".", -1))
		return known[key]
	}
}

// LoadConfig layers the defaults, the YAML file at path, and the environment.
// A missing file is not an error.
func LoadConfig(k *koanf.Koanf, path string) (Config, error) {
	c := Config{}
	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return c, errors.Wrap(err, "loading defaults")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return c, errors.Wrapf(err, "loading config %s", path)
		}
	}
	known := map[string]string{}
	for _, key := range k.Keys() {
		known[strings.ToLower(key)] = key
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey(known)), nil); err != nil {
		return c, errors.Wrap(err, "loading environment")
	}
	err := k.Unmarshal("", &c)
	return c, err
}

// WriteConfig encodes c as YAML
func WriteConfig(c Config, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = yml.NewEncoder(f).Encode(c)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// panel is what the bench drives and the emulator observes
type panel interface {
	stimulus.Panel
	stimulus.ColorSource
}

// Devices are the panel and photometer described by a config
type Devices struct {
	Panel panel
	Meter photometer.Meter
}

// Close releases both devices
func (d Devices) Close() error {
	var err error
	if d.Panel != nil {
		err = d.Panel.Close()
	}
	if d.Meter != nil {
		if merr := d.Meter.Close(); err == nil {
			err = merr
		}
	}
	return err
}

// Dial builds the devices.  In mock mode both are emulated.
func (c Config) Dial(ctx context.Context) (Devices, error) {
	var d Devices
	pcfg := c.Photometer
	if c.Mock {
		d.Panel = stimulus.NewMock()
		pcfg.Transport = "emulate"
	} else {
		s := c.Stimulus
		d.Panel = stimulus.NewBacklight(s.Addr, s.Serial, s.Baud, s.AwaitAck)
	}
	m, err := photometer.Dial(ctx, pcfg, d.Panel)
	if err != nil {
		return d, err
	}
	d.Meter = m
	log.WithFields(log.Fields{"stimulus": c.Stimulus.Addr, "photometer": pcfg.Transport, "mock": c.Mock}).Debug("devices ready")
	return d, nil
}

// Bench wraps devices in a calibration bench with the config's settings
func (c Config) Bench(d Devices) *calib.Bench {
	b := calib.NewBench(d.Panel, d.Meter)
	b.Brightness = c.Stimulus.Brightness
	b.Fitter = c.Fit.Fitter()
	b.SingleCheck = validate.Validator{Target: c.Fit.TargetGamma, Tolerance: c.Fit.Tolerance}
	b.MultiCheck = validate.Validator{Target: c.Fit.TargetGamma, Tolerance: c.Fit.MultiTolerance}
	b.SKU = c.SKU
	b.Files = c.Files
	b.Options = c.Sweep.Options()
	return b
}

// Engine returns the gamma voltage engine: the configured helper, else the
// mock in mock mode, else nil
func (c Config) Engine() gammavolt.Engine {
	switch {
	case c.GammaVolt.Command != "":
		return gammavolt.NewExecEngine(c.GammaVolt.Command)
	case c.Mock:
		return &gammavolt.Mock{}
	default:
		return nil
	}
}
