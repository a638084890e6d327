package gamma

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	// ReasonTooFewPoints marks a channel with fewer than 2 samples above gray 0
	ReasonTooFewPoints = "fewer than 2 usable points"

	// ReasonNoDynamicRange marks a channel whose white level is not above its black level
	ReasonNoDynamicRange = "white luminance not above black luminance"
)

// WeightBucket assigns Weight to every gray level <= MaxGray not claimed by
// an earlier bucket
type WeightBucket struct {
	MaxGray int     `koanf:"maxGray" yaml:"maxGray" json:"maxGray"`
	Weight  float64 `koanf:"weight" yaml:"weight" json:"weight"`
}

// Weights is an ordered list of buckets.  Dark levels carry little weight so
// photometer noise near black does not dominate the fit.
type Weights []WeightBucket

// DefaultWeights are the production buckets
var DefaultWeights = Weights{
	{MaxGray: 15, Weight: 0.001},
	{MaxGray: 47, Weight: 0.1},
	{MaxGray: 127, Weight: 0.5},
	{MaxGray: MaxGray, Weight: 1.0},
}

// Of returns the weight of a gray level
func (w Weights) Of(gray int) float64 {
	for _, b := range w {
		if gray <= b.MaxGray {
			return b.Weight
		}
	}
	if len(w) == 0 {
		return 1
	}
	return w[len(w)-1].Weight
}

// Validate ensures bucket bounds increase, cover the full range,
// and that weights never decrease toward brighter levels
func (w Weights) Validate() error {
	if len(w) == 0 {
		return errors.New("gamma: no weight buckets")
	}
	for i, b := range w {
		if b.Weight <= 0 {
			return errors.Errorf("gamma: weight bucket %d has non-positive weight %v", i, b.Weight)
		}
		if i == 0 {
			continue
		}
		if b.MaxGray <= w[i-1].MaxGray {
			return errors.Errorf("gamma: weight bucket %d bound %d does not increase", i, b.MaxGray)
		}
		if b.Weight < w[i-1].Weight {
			return errors.Errorf("gamma: weight bucket %d (%v) is lighter than a darker bucket (%v)", i, b.Weight, w[i-1].Weight)
		}
	}
	if last := w[len(w)-1].MaxGray; last < MaxGray {
		return errors.Errorf("gamma: weight buckets end at %d, not %d", last, MaxGray)
	}
	return nil
}

// Search is a bounded, evenly spaced grid of candidate exponents
type Search struct {
	Min   float64 `koanf:"gammaMin" yaml:"gammaMin" json:"gammaMin"`
	Max   float64 `koanf:"gammaMax" yaml:"gammaMax" json:"gammaMax"`
	Steps int     `koanf:"steps" yaml:"steps" json:"steps"`
}

// DefaultSearch resolves gamma to 0.001 over [1.0, 3.5]
var DefaultSearch = Search{Min: 1.0, Max: 3.5, Steps: 2500}

// Resolution is the spacing of the grid
func (s Search) Resolution() float64 {
	return (s.Max - s.Min) / float64(s.Steps)
}

// Validate checks the grid is non-empty and ordered
func (s Search) Validate() error {
	if s.Steps < 1 {
		return errors.Errorf("gamma: search needs at least 1 step, got %d", s.Steps)
	}
	if !(s.Min < s.Max) || s.Min <= 0 {
		return errors.Errorf("gamma: search range [%v, %v] is empty or non-positive", s.Min, s.Max)
	}
	return nil
}

func (s Search) grid() []float64 {
	return floats.Span(make([]float64, s.Steps+1), s.Min, s.Max)
}

// FitResult is the fitted response of one channel
type FitResult struct {
	Channel    Channel `json:"channel"`
	Gamma      float64 `json:"gamma"`
	RMSError   float64 `json:"rmsError"`
	YBlack     float64 `json:"yBlack"`
	YWhite     float64 `json:"yWhite"`
	Points     int     `json:"points"`
	Fittable   bool    `json:"fittable"`
	Reason     string  `json:"reason,omitempty"`
	Duplicates []int   `json:"duplicates,omitempty"`
}

func (r FitResult) String() string {
	if !r.Fittable {
		return fmt.Sprintf("%s: unfittable (%s), Yblack=%.4f Ywhite=%.4f", r.Channel, r.Reason, r.YBlack, r.YWhite)
	}
	return fmt.Sprintf("%s: gamma=%.3f rms=%.6f Yblack=%.4f Ywhite=%.4f", r.Channel, r.Gamma, r.RMSError, r.YBlack, r.YWhite)
}

// Fitter fits gamma exponents with a given weighting and search grid.
// The zero value uses DefaultWeights and DefaultSearch.
type Fitter struct {
	Weights Weights
	Search  Search
}

func (f Fitter) weights() Weights {
	if len(f.Weights) == 0 {
		return DefaultWeights
	}
	return f.Weights
}

func (f Fitter) search() Search {
	if f.Search.Steps == 0 {
		return DefaultSearch
	}
	return f.Search
}

// Validate checks the weighting and search grid
func (f Fitter) Validate() error {
	if err := f.weights().Validate(); err != nil {
		return err
	}
	return f.search().Validate()
}

type point struct {
	gray int
	v, l float64
}

// normalize maps the gray>0 samples of a series onto the unit square
func normalize(cs ChannelSeries, black, white float64) []point {
	span := white - black
	pts := make([]point, 0, len(cs.Samples))
	for _, s := range cs.Samples {
		if s.Gray <= 0 {
			continue
		}
		pts = append(pts, point{
			gray: s.Gray,
			v:    float64(s.Gray) / MaxGray,
			l:    (s.Luminance - black) / span,
		})
	}
	return pts
}

// cost is the weighted sum of squared residuals of a candidate exponent
func (f Fitter) cost(g float64, pts []point) float64 {
	w := f.weights()
	var sum float64
	for _, p := range pts {
		r := (math.Pow(p.v, g) - p.l) * w.Of(p.gray)
		sum += r * r
	}
	return sum
}

// Fit computes the best-fit exponent of one channel
func (f Fitter) Fit(cs ChannelSeries) FitResult {
	res := FitResult{
		Channel:    cs.Channel,
		Gamma:      math.NaN(),
		RMSError:   math.NaN(),
		YBlack:     cs.Black(),
		YWhite:     cs.White(),
		Duplicates: cs.Duplicates,
	}
	if !(res.YWhite-res.YBlack > 0) {
		res.Reason = ReasonNoDynamicRange
		return res
	}
	pts := normalize(cs, res.YBlack, res.YWhite)
	res.Points = len(pts)
	if len(pts) < 2 {
		res.Reason = ReasonTooFewPoints
		return res
	}

	grid := f.search().grid()
	costs := make([]float64, len(grid))
	for i, g := range grid {
		costs[i] = f.cost(g, pts)
	}
	best := grid[floats.MinIdx(costs)]

	fitted := make([]float64, len(pts))
	measured := make([]float64, len(pts))
	for i, p := range pts {
		fitted[i] = math.Pow(p.v, best)
		measured[i] = p.l
	}
	res.Gamma = best
	res.RMSError = floats.Distance(fitted, measured, 2) / math.Sqrt(float64(len(pts)))
	res.Fittable = true
	return res
}

// FitAll groups samples by channel and fits each one
func (f Fitter) FitAll(samples []Sample) []FitResult {
	series := GroupByChannel(samples)
	out := make([]FitResult, len(series))
	for i, cs := range series {
		out[i] = f.Fit(cs)
	}
	return out
}

// Fit fits a series with the default weights and search grid
func Fit(cs ChannelSeries) FitResult {
	return Fitter{}.Fit(cs)
}

// CurvePoint compares a measured luminance to the fitted model
type CurvePoint struct {
	Channel  Channel `json:"channel"`
	Gray     int     `json:"gray"`
	Measured float64 `json:"measured"`
	Fitted   float64 `json:"fitted"`
}

// Curve evaluates the fitted model at every gray level of the series.
// It returns nil for unfittable results.
func (r FitResult) Curve(cs ChannelSeries) []CurvePoint {
	if !r.Fittable {
		return nil
	}
	span := r.YWhite - r.YBlack
	out := make([]CurvePoint, len(cs.Samples))
	for i, s := range cs.Samples {
		v := float64(s.Gray) / MaxGray
		out[i] = CurvePoint{
			Channel:  cs.Channel,
			Gray:     s.Gray,
			Measured: s.Luminance,
			Fitted:   r.YBlack + span*math.Pow(v, r.Gamma),
		}
	}
	return out
}

// LogLogGamma estimates gamma as the slope of log10(L) against log10(V).
// It is a diagnostic only; points whose normalized luminance is not positive
// cannot be represented in log space and are skipped.
func LogLogGamma(cs ChannelSeries) (float64, error) {
	black, white := cs.Black(), cs.White()
	if !(white-black > 0) {
		return math.NaN(), errors.New(ReasonNoDynamicRange)
	}
	var xs, ys []float64
	for _, p := range normalize(cs, black, white) {
		if p.l <= 0 {
			continue
		}
		xs = append(xs, math.Log10(p.v))
		ys = append(ys, math.Log10(p.l))
	}
	if len(xs) < 2 {
		return math.NaN(), errors.New(ReasonTooFewPoints)
	}
	if floats.Max(xs) == floats.Min(xs) {
		return math.NaN(), errors.New("gamma: log-log regression is degenerate")
	}
	_, slope := stat.LinearRegression(xs, ys, nil, false)
	return slope, nil
}
