package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/theckman/yacspin"
	yml "gopkg.in/yaml.v2"

	"github.com/labdisplay/gammacal/calib"
	"github.com/labdisplay/gammacal/gamma"
	"github.com/labdisplay/gammacal/records"
	"github.com/labdisplay/gammacal/util"
	"github.com/labdisplay/gammacal/validate"
)

// errFailed is returned when a run completes but does not pass, so that
// the exit status reflects the verdict
var errFailed = errors.New("calibration failed")

func verdict(pass bool) string {
	if pass {
		return color.New(color.Bold, color.FgGreen).Sprint("PASS")
	}
	return color.New(color.Bold, color.FgRed).Sprint("FAIL")
}

func result(pass bool) error {
	if pass {
		return nil
	}
	return errFailed
}

func printReport(w io.Writer, rep validate.Report) {
	fmt.Fprintf(w, "target gamma %.2f, tolerance ±%.2f\n", rep.Target, rep.Tolerance)
	for _, gv := range rep.Gamma {
		fmt.Fprintf(w, "  %s  %s\n", verdict(gv.Pass), gv)
	}
	if rep.WhitePoint != nil {
		fmt.Fprintf(w, "  %s  %s\n", verdict(rep.WhitePoint.Pass), rep.WhitePoint)
	}
	fmt.Fprintf(w, "result: %s\n", verdict(rep.Pass))
}

// spinner shows sweep progress on the terminal
type spinner struct {
	spin *yacspin.Spinner
	n    int
}

func newSpinner(w io.Writer, what string) (*spinner, error) {
	s, err := yacspin.New(yacspin.Config{
		Writer:            w,
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " " + what,
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		return nil, err
	}
	return &spinner{spin: s}, s.Start()
}

func (s *spinner) SampleCaptured(_ calib.Kind, smp gamma.Sample) {
	s.n++
	s.spin.Message(fmt.Sprintf("%d samples, %s gray %d Lv %.2f", s.n, smp.Channel, smp.Gray, smp.Luminance))
}

func (s *spinner) RunFinished(_ calib.Kind, _ *validate.Report, err error) {
	if err != nil {
		s.spin.StopFailMessage(err.Error())
		s.spin.StopFail()
		return
	}
	s.spin.StopMessage(fmt.Sprintf("%d samples", s.n))
	s.spin.Stop()
}

// bench connects the devices and builds a bench around them
func (a *app) bench(ctx context.Context) (*calib.Bench, error) {
	d, err := a.cfg.Dial(ctx)
	if err != nil {
		return nil, err
	}
	return a.cfg.Bench(d), nil
}

// closeBench releases the devices of b once the command is done with them
func closeBench(b *calib.Bench) {
	if err := b.Close(); err != nil {
		log.WithError(err).Warn("releasing devices")
	}
}

// offlineBench is a bench without devices, for commands that only read records
func (a *app) offlineBench() *calib.Bench {
	return a.cfg.Bench(Devices{})
}

func readSamples(b *calib.Bench, args []string) ([]gamma.Sample, error) {
	if len(args) == 0 {
		return b.ReadSamples()
	}
	var (
		samples []gamma.Sample
		err     error
	)
	err = records.ReadFile(args[0], func(r io.Reader) error {
		samples, err = records.ReadSamples(r)
		return err
	})
	return samples, err
}

func (a *app) sweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run a single channel gray sweep",
		Long: `Run a single channel gray sweep.

The backlight is started at the configured brightness, every gray level of the
plan is shown and measured, and the plan is written back with the measured
luminance.  The sweep is compared to the ideal curve when it has at least 16
levels, then fitted and checked against the target gamma.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.bench(cmd.Context())
			if err != nil {
				return err
			}
			defer closeBench(b)
			spin, err := newSpinner(cmd.OutOrStdout(), "gray sweep")
			if err != nil {
				return err
			}
			b.Observer = spin
			res, err := b.RunSingle(cmd.Context(), nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if res.Ideal != nil {
				fmt.Fprintf(out, "ideal curve (gamma %.1f, ±%.0f%%): %s\n", res.Ideal.Target, res.Ideal.Tolerance*100, verdict(res.Ideal.Pass))
			}
			printReport(out, res.Report)
			return result(res.Report.Pass)
		},
	}
}

func (a *app) rgbwCommand() *cobra.Command {
	var levels string
	cmd := &cobra.Command{
		Use:   "rgbw",
		Short: "Run an R, G, B, W sweep with a white point check",
		Long: `Run an R, G, B, W sweep with a white point check.

Every level is measured on the red, green, blue, and white channels in that
order.  Each channel is fitted and the brightest white sample is checked
against the window of the configured SKU in the spec table.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var grays []int
			if levels != "" {
				var err error
				if grays, err = util.ParseIntList(levels); err != nil {
					return err
				}
			}
			b, err := a.bench(cmd.Context())
			if err != nil {
				return err
			}
			defer closeBench(b)
			spin, err := newSpinner(cmd.OutOrStdout(), "rgbw sweep")
			if err != nil {
				return err
			}
			b.Observer = spin
			res, err := b.RunRGBW(cmd.Context(), grays)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), res.Report)
			return result(res.Report.Pass)
		},
	}
	cmd.Flags().StringVar(&levels, "levels", "", "gray levels, e.g. 0,64,255 or 0:255:17 (default: the plan)")
	return cmd
}

func (a *app) validateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [samples.csv]",
		Short: "Fit and validate recorded samples",
		Long: `Fit and validate recorded samples without touching the devices.

The samples default to the last rgbw sweep.  The white point is checked when
they contain a W channel.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b := a.offlineBench()
			samples, err := readSamples(b, args)
			if err != nil {
				return err
			}
			rep, _, err := b.Evaluate(samples)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), rep)
			return result(rep.Pass)
		},
	}
}

func (a *app) whitePointCommand() *cobra.Command {
	var sku string
	cmd := &cobra.Command{
		Use:   "whitepoint [samples.csv]",
		Short: "Check the white point of recorded samples",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b := a.offlineBench()
			if sku != "" {
				b.SKU = sku
			}
			samples, err := readSamples(b, args)
			if err != nil {
				return err
			}
			wp, err := b.CheckWhitePoint(samples)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", verdict(wp.Pass), wp)
			return result(wp.Pass)
		},
	}
	cmd.Flags().StringVar(&sku, "sku", "", "SKU to look up in the spec table (default: sku from the config)")
	return cmd
}

func (a *app) gammaVoltCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "gammavolt",
		Short: "Compute gamma voltage registers from the last gray sweep",
		Long: `Compute gamma voltage registers from the last gray sweep.

The VCOM and gamma parameter files and the measured luminance are passed to
the engine named by gammavolt.command; the registers it returns are written
to the gamma output file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e := a.cfg.Engine()
			if e == nil {
				return errors.New("no gamma voltage engine, set gammavolt.command or use --mock")
			}
			regs, err := a.offlineBench().GammaVoltage(cmd.Context(), e)
			if err != nil {
				return err
			}
			for i, v := range regs {
				cmd.Printf("%2d  0x%02X\n", i, v)
			}
			return nil
		},
	}
}

func (a *app) mkconfCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mkconf",
		Short: "Write the current configuration to the config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := WriteConfig(a.cfg, a.path); err != nil {
				return err
			}
			cmd.Printf("wrote %s\n", a.path)
			return nil
		},
	}
}

func (a *app) confCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "conf",
		Short: "Print the configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return yml.NewEncoder(cmd.OutOrStdout()).Encode(a.cfg)
		},
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("gammacal version %s\n", Version)
		},
	}
}
