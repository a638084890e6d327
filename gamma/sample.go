/*Package gamma fits power-law luminance responses to photometer samples.

A panel's response to a gray stimulus is modelled as

	(Lv - Yblack) / (Ywhite - Yblack) = (gray/255) ^ gamma

and the exponent is recovered per channel with a weighted, exhaustive grid
search.  Everything in this package is a pure function of its inputs; no
device or file access happens here.
*/
package gamma

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// MaxGray is the largest stimulus level of an 8 bit channel
const MaxGray = 255

var (
	// ErrMalformedSample is generated when a sample is outside the physical range
	ErrMalformedSample = errors.New("malformed sample")

	// ErrMalformedInput is generated when a sample set or a list of gray
	// levels cannot be used at all
	ErrMalformedInput = errors.New("malformed input")
)

// Channel is one of the stimulus axes under test
type Channel string

const (
	// Gray is the composite R=G=B channel used by single channel sweeps
	Gray Channel = "Gray"
	// R is the red channel
	R Channel = "R"
	// G is the green channel
	G Channel = "G"
	// B is the blue channel
	B Channel = "B"
	// W is white, all three components driven equally
	W Channel = "W"
)

// ParseChannel converts a string to a Channel, case insensitive
func ParseChannel(s string) (Channel, error) {
	s = strings.TrimSpace(s)
	for _, c := range []Channel{Gray, R, G, B, W} {
		if strings.EqualFold(s, string(c)) {
			return c, nil
		}
	}
	return "", errors.Errorf("unknown channel %q", s)
}

// Sample is a single photometer observation of one stimulus
type Sample struct {
	Index     int     `json:"index"`
	Channel   Channel `json:"channel"`
	Gray      int     `json:"gray"`
	Luminance float64 `json:"lv"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	T         float64 `json:"T"`
	Duv       float64 `json:"duv"`
}

// Validate checks the sample is physically meaningful
func (s Sample) Validate() error {
	if s.Gray < 0 || s.Gray > MaxGray {
		return errors.Wrapf(ErrMalformedSample, "sample %d: gray %d outside [0,%d]", s.Index, s.Gray, MaxGray)
	}
	if math.IsNaN(s.Luminance) || math.IsInf(s.Luminance, 0) || s.Luminance < 0 {
		return errors.Wrapf(ErrMalformedSample, "sample %d: luminance %v is not a non-negative number", s.Index, s.Luminance)
	}
	return nil
}

func (s Sample) String() string {
	return fmt.Sprintf("%s gray=%d Lv=%.2f x=%.4f y=%.4f", s.Channel, s.Gray, s.Luminance, s.X, s.Y)
}

// ChannelSeries is the samples of one channel ordered by gray level.
// gray levels are unique within a series; duplicates found while building it
// are averaged and listed in Duplicates.
type ChannelSeries struct {
	Channel    Channel
	Samples    []Sample
	Duplicates []int
}

// NewChannelSeries builds a series from samples that all belong to ch.
// Samples of other channels are ignored.  The input is not modified.
func NewChannelSeries(ch Channel, samples []Sample) ChannelSeries {
	byGray := map[int][]Sample{}
	for _, s := range samples {
		if s.Channel != ch {
			continue
		}
		byGray[s.Gray] = append(byGray[s.Gray], s)
	}
	cs := ChannelSeries{Channel: ch, Samples: make([]Sample, 0, len(byGray))}
	for gray, group := range byGray {
		if len(group) > 1 {
			cs.Duplicates = append(cs.Duplicates, gray)
		}
		cs.Samples = append(cs.Samples, mean(group))
	}
	sort.Slice(cs.Samples, func(i, j int) bool { return cs.Samples[i].Gray < cs.Samples[j].Gray })
	sort.Ints(cs.Duplicates)
	return cs
}

// mean collapses repeated observations of one gray level.  The index of the
// last observation is kept so the sample can still be traced to the table.
func mean(group []Sample) Sample {
	if len(group) == 1 {
		return group[0]
	}
	out := group[len(group)-1]
	var lv, x, y, t, duv float64
	for _, s := range group {
		lv += s.Luminance
		x += s.X
		y += s.Y
		t += s.T
		duv += s.Duv
	}
	n := float64(len(group))
	out.Luminance = lv / n
	out.X = x / n
	out.Y = y / n
	out.T = t / n
	out.Duv = duv / n
	return out
}

// Black returns the luminance at gray 0, or the series minimum if 0 was not measured
func (cs ChannelSeries) Black() float64 {
	if len(cs.Samples) == 0 {
		return math.NaN()
	}
	if cs.Samples[0].Gray == 0 {
		return cs.Samples[0].Luminance
	}
	min := cs.Samples[0].Luminance
	for _, s := range cs.Samples[1:] {
		if s.Luminance < min {
			min = s.Luminance
		}
	}
	return min
}

// White returns the luminance at gray 255, or the series maximum if 255 was not measured
func (cs ChannelSeries) White() float64 {
	n := len(cs.Samples)
	if n == 0 {
		return math.NaN()
	}
	if cs.Samples[n-1].Gray == MaxGray {
		return cs.Samples[n-1].Luminance
	}
	max := cs.Samples[0].Luminance
	for _, s := range cs.Samples[1:] {
		if s.Luminance > max {
			max = s.Luminance
		}
	}
	return max
}

// GroupByChannel splits samples into one series per channel, in the order
// each channel is first seen
func GroupByChannel(samples []Sample) []ChannelSeries {
	var order []Channel
	seen := map[Channel]bool{}
	for _, s := range samples {
		if !seen[s.Channel] {
			seen[s.Channel] = true
			order = append(order, s.Channel)
		}
	}
	out := make([]ChannelSeries, len(order))
	for i, ch := range order {
		out[i] = NewChannelSeries(ch, samples)
	}
	return out
}
