// Package matcher implements the two face comparison strategies: embedding
// distance (primary) and grayscale histogram correlation (fallback when the
// embedding model is unavailable). Both report a confidence percentage that
// is always embedded in the outcome message for audit trails.
package matcher

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"

	"github.com/example/facegate/internal/facerec"
)

const (
	// DefaultTolerance is the maximum embedding distance for a match.
	// Deliberately stricter than the library default of 0.6: attendance
	// integrity prefers false rejects over false accepts.
	DefaultTolerance = 0.3

	// DefaultHistogramThreshold is the minimum histogram correlation for a
	// match in fallback mode.
	DefaultHistogramThreshold = 0.7

	histogramSide = 100
)

// Outcome is a comparison verdict. Confidence is a percentage in [0,100].
type Outcome struct {
	Matched    bool
	Message    string
	Confidence float64
}

// EmbeddingMatcher compares identity embeddings by Euclidean distance.
type EmbeddingMatcher struct {
	Tolerance float64
}

// NewEmbeddingMatcher builds a matcher, falling back to DefaultTolerance
// for non-positive values.
func NewEmbeddingMatcher(tolerance float64) *EmbeddingMatcher {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &EmbeddingMatcher{Tolerance: tolerance}
}

// Compare matches two embeddings. Confidence is (1 - distance) as a
// percentage, clamped to [0,100].
func (m *EmbeddingMatcher) Compare(stored, submitted facerec.Embedding) Outcome {
	distance := Distance(stored, submitted)
	confidence := clampConfidence((1 - distance) * 100)
	return outcome(distance <= m.Tolerance, confidence)
}

// Distance is the Euclidean distance between two embeddings. Mismatched or
// empty vectors compare as infinitely far apart.
func Distance(a, b facerec.Embedding) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		diff := float64(a[i] - b[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// HistogramMatcher compares grayscale intensity histograms by correlation.
// It needs no model and serves as the degraded-mode strategy.
type HistogramMatcher struct {
	Threshold float64
}

// NewHistogramMatcher builds a matcher, falling back to
// DefaultHistogramThreshold for non-positive values.
func NewHistogramMatcher(threshold float64) *HistogramMatcher {
	if threshold <= 0 {
		threshold = DefaultHistogramThreshold
	}
	return &HistogramMatcher{Threshold: threshold}
}

// Compare resizes both images to a common grid, histograms their grayscale
// intensities and correlates the histograms. Confidence is the correlation
// as a percentage, clamped to [0,100].
func (m *HistogramMatcher) Compare(stored, submitted gocv.Mat) Outcome {
	storedHist := intensityHistogram(stored)
	defer storedHist.Close()
	submittedHist := intensityHistogram(submitted)
	defer submittedHist.Close()

	correlation := float64(gocv.CompareHist(storedHist, submittedHist, gocv.HistCmpCorrel))
	confidence := clampConfidence(correlation * 100)
	return outcome(correlation > m.Threshold, confidence)
}

func intensityHistogram(img gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	defer gray.Close()
	if img.Channels() == 1 {
		img.CopyTo(&gray)
	} else {
		gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(gray, &resized, image.Pt(histogramSide, histogramSide), 0, 0, gocv.InterpolationLinear)

	mask := gocv.NewMat()
	defer mask.Close()
	hist := gocv.NewMat()
	gocv.CalcHist([]gocv.Mat{resized}, []int{0}, mask, &hist, []int{256}, []float64{0, 256}, false)
	return hist
}

func outcome(matched bool, confidence float64) Outcome {
	if matched {
		return Outcome{
			Matched:    true,
			Message:    fmt.Sprintf("Face verified (confidence: %.2f%%)", confidence),
			Confidence: confidence,
		}
	}
	return Outcome{
		Matched:    false,
		Message:    fmt.Sprintf("Face does not match (confidence: %.2f%%)", confidence),
		Confidence: confidence,
	}
}

func clampConfidence(v float64) float64 {
	v = math.Round(v*100) / 100
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
