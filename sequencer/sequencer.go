/*Package sequencer sweeps a panel through gray levels and captures one
photometer reading per level.

Each cycle is strictly set -> settle -> measure.  The settle delay is fixed;
there is no convergence check.  A run stops at the first stimulus or
photometer failure and returns the samples completed so far together with an
*AcquisitionError.  Cancelling the context stops the run between or inside a
cycle; a cycle that was interrupted after the stimulus changed produces no
sample.
*/
package sequencer

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/labdisplay/gammacal/gamma"
	"github.com/labdisplay/gammacal/photometer"
	"github.com/labdisplay/gammacal/stimulus"
)

const (
	// DefaultSettle is the wait between a stimulus change and a single channel capture
	DefaultSettle = 100 * time.Millisecond

	// DefaultChannelSettle is the same wait for multi channel sweeps
	DefaultChannelSettle = 50 * time.Millisecond
)

// RGBW is the channel order of a multi channel sweep
var RGBW = []gamma.Channel{gamma.R, gamma.G, gamma.B, gamma.W}

// Stimulus sets the color shown by the panel
type Stimulus interface {
	SetColor(context.Context, stimulus.RGB) error
}

// Photometer takes one reading of the panel
type Photometer interface {
	Measure(context.Context) (photometer.Reading, error)
}

// Stage names the part of a cycle that failed
type Stage string

const (
	// StageStimulus is the color change
	StageStimulus Stage = "stimulus"
	// StageMeasure is the photometer capture
	StageMeasure Stage = "measure"
)

// AcquisitionError is generated when a collaborator fails mid sweep
type AcquisitionError struct {
	Channel gamma.Channel
	Gray    int
	Index   int
	Stage   Stage
	Err     error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquisition failed at sample %d (%s gray %d) during %s: %v",
		e.Index, e.Channel, e.Gray, e.Stage, e.Err)
}

// Unwrap returns the collaborator's error
func (e *AcquisitionError) Unwrap() error { return e.Err }

// Cause returns the collaborator's error, for github.com/pkg/errors
func (e *AcquisitionError) Cause() error { return e.Err }

// Progress describes a completed cycle
type Progress struct {
	Done   int
	Total  int
	Sample gamma.Sample
}

// Sequencer drives one stimulus and one photometer
type Sequencer struct {
	stim  Stimulus
	meter Photometer

	settle        time.Duration
	channelSettle time.Duration
	retries       uint64
	retryInterval time.Duration
	progress      func(Progress)
	log           log.FieldLogger
}

// Option configures a Sequencer
type Option func(*Sequencer)

// WithSettle sets the single channel settle delay
func WithSettle(d time.Duration) Option {
	return func(s *Sequencer) { s.settle = d }
}

// WithChannelSettle sets the multi channel settle delay
func WithChannelSettle(d time.Duration) Option {
	return func(s *Sequencer) { s.channelSettle = d }
}

// WithRetries retries a failed stimulus change or capture up to n times,
// with exponential backoff starting at interval.  The default is no retry.
func WithRetries(n int, interval time.Duration) Option {
	return func(s *Sequencer) {
		if n < 0 {
			n = 0
		}
		s.retries = uint64(n)
		s.retryInterval = interval
	}
}

// WithProgress calls fn after every captured sample
func WithProgress(fn func(Progress)) Option {
	return func(s *Sequencer) { s.progress = fn }
}

// WithLogger sets the logger; the logrus standard logger is the default
func WithLogger(l log.FieldLogger) Option {
	return func(s *Sequencer) { s.log = l }
}

// New creates a new Sequencer
func New(stim Stimulus, meter Photometer, opts ...Option) *Sequencer {
	s := &Sequencer{
		stim:          stim,
		meter:         meter,
		settle:        DefaultSettle,
		channelSettle: DefaultChannelSettle,
		retryInterval: 50 * time.Millisecond,
		log:           log.StandardLogger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ChannelColor is the stimulus color for gray on ch.  Gray and W drive every
// component, R, G, and B only their own.
func ChannelColor(ch gamma.Channel, gray uint8) stimulus.RGB {
	switch ch {
	case gamma.R:
		return stimulus.RGB{R: gray}
	case gamma.G:
		return stimulus.RGB{G: gray}
	case gamma.B:
		return stimulus.RGB{B: gray}
	default:
		return stimulus.Gray(gray)
	}
}

// CheckLevels returns gamma.ErrMalformedInput if a level is outside [0,255]
// or there are none
func CheckLevels(levels []int) error {
	if len(levels) == 0 {
		return errors.Wrap(gamma.ErrMalformedInput, "no gray levels")
	}
	for i, g := range levels {
		if g < 0 || g > gamma.MaxGray {
			return errors.Wrapf(gamma.ErrMalformedInput, "gray level %d at position %d outside [0,%d]", g, i, gamma.MaxGray)
		}
	}
	return nil
}

func (s *Sequencer) retry(ctx context.Context, op func() error) error {
	if s.retries == 0 {
		return op()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, s.retries), ctx))
}

func (s *Sequencer) wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cycle performs one set -> settle -> measure and returns the sample.
// idx is the index the sample will have in the output.
func (s *Sequencer) cycle(ctx context.Context, ch gamma.Channel, gray, idx int, settle time.Duration) (gamma.Sample, error) {
	if err := ctx.Err(); err != nil {
		return gamma.Sample{}, errors.Wrapf(err, "sweep cancelled before %s gray %d", ch, gray)
	}
	color := ChannelColor(ch, uint8(gray))
	fields := log.Fields{"channel": ch, "gray": gray, "color": color.Hex()}

	err := s.retry(ctx, func() error { return s.stim.SetColor(ctx, color) })
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return gamma.Sample{}, errors.Wrapf(cerr, "sweep cancelled at %s gray %d", ch, gray)
		}
		s.log.WithFields(fields).WithError(err).Error("stimulus failed")
		return gamma.Sample{}, &AcquisitionError{Channel: ch, Gray: gray, Index: idx, Stage: StageStimulus, Err: err}
	}
	if err := s.wait(ctx, settle); err != nil {
		s.log.WithFields(fields).Warn("cancelled while settling, sample discarded")
		return gamma.Sample{}, errors.Wrapf(err, "sweep cancelled at %s gray %d", ch, gray)
	}

	var rd photometer.Reading
	err = s.retry(ctx, func() error {
		var err error
		rd, err = s.meter.Measure(ctx)
		return err
	})
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return gamma.Sample{}, errors.Wrapf(cerr, "sweep cancelled at %s gray %d", ch, gray)
		}
		s.log.WithFields(fields).WithError(err).Error("measurement failed")
		return gamma.Sample{}, &AcquisitionError{Channel: ch, Gray: gray, Index: idx, Stage: StageMeasure, Err: err}
	}
	// a reading that completed after cancellation is still discarded
	if err := ctx.Err(); err != nil {
		return gamma.Sample{}, errors.Wrapf(err, "sweep cancelled at %s gray %d", ch, gray)
	}
	smp := gamma.Sample{
		Index:     idx,
		Channel:   ch,
		Gray:      gray,
		Luminance: rd.Lv,
		X:         rd.X,
		Y:         rd.Y,
		T:         rd.T,
		Duv:       rd.Duv,
	}
	s.log.WithFields(fields).WithField("lv", rd.Lv).Debug("captured")
	return smp, nil
}

func (s *Sequencer) report(done, total int, smp gamma.Sample) {
	if s.progress != nil {
		s.progress(Progress{Done: done, Total: total, Sample: smp})
	}
}

// RunGray sweeps levels in order with R=G=B=gray.  Sample i is level i.  On
// error the samples captured before the failure are returned with it.
func (s *Sequencer) RunGray(ctx context.Context, levels []int) ([]gamma.Sample, error) {
	if err := CheckLevels(levels); err != nil {
		return nil, err
	}
	out := make([]gamma.Sample, 0, len(levels))
	s.log.WithFields(log.Fields{"levels": len(levels), "settle": s.settle}).Info("starting gray sweep")
	for i, g := range levels {
		smp, err := s.cycle(ctx, gamma.Gray, g, i, s.settle)
		if err != nil {
			return out, err
		}
		out = append(out, smp)
		s.report(i+1, len(levels), smp)
	}
	return out, nil
}

// RunChannels sweeps every level on every channel, channels outermost.
// A nil channels sweeps RGBW.
func (s *Sequencer) RunChannels(ctx context.Context, levels []int, channels []gamma.Channel) ([]gamma.Sample, error) {
	if err := CheckLevels(levels); err != nil {
		return nil, err
	}
	if channels == nil {
		channels = RGBW
	}
	total := len(levels) * len(channels)
	out := make([]gamma.Sample, 0, total)
	s.log.WithFields(log.Fields{"levels": len(levels), "channels": channels, "settle": s.channelSettle}).Info("starting channel sweep")
	for _, ch := range channels {
		for _, g := range levels {
			smp, err := s.cycle(ctx, ch, g, len(out), s.channelSettle)
			if err != nil {
				return out, err
			}
			out = append(out, smp)
			s.report(len(out), total, smp)
		}
	}
	return out, nil
}
