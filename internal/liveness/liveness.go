// Package liveness decides whether a submitted capture shows a live,
// in-person face rather than a re-photographed print or a screen replay.
//
// The decision combines six independent spatial/frequency heuristics over a
// single still frame, evaluated cheapest first with a short-circuit on the
// first failure. They are best-effort signals, not a trained classifier:
// high-quality prints and high-end OLED replays can defeat them. That
// residual risk is accepted; callers wanting stronger guarantees need a
// challenge-response capture flow.
package liveness

import (
	"image"

	"gocv.io/x/gocv"
)

// Config holds the rejection thresholds for each heuristic. The defaults
// were tuned empirically against real submissions; treat them as starting
// points for calibration, not ground truth.
type Config struct {
	// BlurVarianceMin rejects images whose Laplacian variance falls below
	// it. Re-photographed photos double-compress and lose high-frequency
	// detail.
	BlurVarianceMin float64
	// HighFreqVarianceMax rejects images whose high-pass filter response
	// variance exceeds it. Screens photographed by camera sensors beat
	// against the pixel grid and produce moiré energy.
	HighFreqVarianceMax float64
	// MinColorPeaks rejects images with fewer hue-histogram peaks. Digital
	// panels emit a narrower, spikier hue spectrum than skin and ambient
	// light.
	MinColorPeaks int
	// BorderAreaRatio is the fraction of image area a contour must cover
	// before it is tested as a device bezel.
	BorderAreaRatio float64
	// LightingStdMin rejects images whose grayscale stddev falls below it.
	// Live environments have uneven natural shadowing.
	LightingStdMin float64
	// BlockEnergyRatioMax rejects images whose 8x8-periodic share of DFT
	// magnitude exceeds it. JPEG's DCT blocks leave a recoverable grid
	// signature in the frequency domain.
	BlockEnergyRatioMax float64
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		BlurVarianceMin:     100,
		HighFreqVarianceMax: 2000,
		MinColorPeaks:       5,
		BorderAreaRatio:     0.3,
		LightingStdMin:      20,
		BlockEnergyRatioMax: 0.1,
	}
}

// Verdict is the outcome of a liveness check. Verdicts are computed fresh
// per call and never cached; a resubmission is always re-evaluated.
type Verdict struct {
	IsLive bool
	Reason string
}

const (
	reasonBlurry         = "Image too blurry"
	reasonScreenDisplay  = "Screen display detected"
	reasonDigitalDisplay = "Digital display detected"
	reasonScreenBorder   = "Screen border detected"
	reasonFlatLighting   = "Artificial lighting detected"
	reasonDigitalPhoto   = "Digital photo detected"
	reasonLive           = "Live face detected"
	reasonCheckFailed    = "Liveness check failed"
)

// Detector runs the heuristic chain against decoded BGR images. A Detector
// is stateless and safe for concurrent use.
type Detector struct {
	cfg Config
}

// NewDetector builds a detector with the given thresholds.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Check evaluates the six heuristics in fixed order and returns the first
// failure reason, or a live verdict if all pass. Any panic during analysis
// fails closed: ambiguity must never approve a submission.
func (d *Detector) Check(img gocv.Mat) (verdict Verdict) {
	defer func() {
		if r := recover(); r != nil {
			verdict = Verdict{IsLive: false, Reason: reasonCheckFailed}
		}
	}()

	if img.Empty() || img.Rows() == 0 || img.Cols() == 0 {
		return Verdict{IsLive: false, Reason: reasonCheckFailed}
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	if !d.sharpEnough(gray) {
		return Verdict{IsLive: false, Reason: reasonBlurry}
	}
	if d.hasScreenArtifacts(gray) {
		return Verdict{IsLive: false, Reason: reasonScreenDisplay}
	}
	if d.hasNarrowColorSpectrum(img) {
		return Verdict{IsLive: false, Reason: reasonDigitalDisplay}
	}
	if d.hasScreenBorder(gray) {
		return Verdict{IsLive: false, Reason: reasonScreenBorder}
	}
	if d.hasFlatLighting(gray) {
		return Verdict{IsLive: false, Reason: reasonFlatLighting}
	}
	if d.hasBlockGridArtifacts(gray) {
		return Verdict{IsLive: false, Reason: reasonDigitalPhoto}
	}

	return Verdict{IsLive: true, Reason: reasonLive}
}

func (d *Detector) sharpEnough(gray gocv.Mat) bool {
	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(gray, &lap, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)
	return matVariance(lap) >= d.cfg.BlurVarianceMin
}

func (d *Detector) hasScreenArtifacts(gray gocv.Mat) bool {
	kernel := highPassKernel()
	defer kernel.Close()

	filtered := gocv.NewMat()
	defer filtered.Close()
	// Same depth as the source: the response saturates to [0,255], which is
	// what the threshold was tuned against.
	gocv.Filter2D(gray, &filtered, gocv.MatTypeCV8U, kernel, image.Pt(-1, -1), 0, gocv.BorderDefault)

	return matVariance(filtered) > d.cfg.HighFreqVarianceMax
}

func (d *Detector) hasNarrowColorSpectrum(img gocv.Mat) bool {
	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(img, &hsv, gocv.ColorBGRToHSV)

	mask := gocv.NewMat()
	defer mask.Close()
	hist := gocv.NewMat()
	defer hist.Close()
	gocv.CalcHist([]gocv.Mat{hsv}, []int{0}, mask, &hist, []int{180}, []float64{0, 180}, false)

	bins := hist.Rows()
	if bins == 0 {
		return true
	}
	var total float64
	for i := 0; i < bins; i++ {
		total += float64(hist.GetFloatAt(i, 0))
	}
	mean := total / float64(bins)

	peaks := 0
	for i := 0; i < bins; i++ {
		if float64(hist.GetFloatAt(i, 0)) > mean*3 {
			peaks++
		}
	}
	return peaks < d.cfg.MinColorPeaks
}

func (d *Detector) hasScreenBorder(gray gocv.Mat) bool {
	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, 50, 150)

	contours := gocv.FindContours(edges, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	minArea := float64(gray.Rows()*gray.Cols()) * d.cfg.BorderAreaRatio
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		if gocv.ContourArea(contour) <= minArea {
			continue
		}
		approx := gocv.ApproxPolyDP(contour, 0.02*gocv.ArcLength(contour, true), true)
		vertices := approx.Size()
		approx.Close()
		// Four vertices on a contour this large is a device bezel.
		if vertices == 4 {
			return true
		}
	}
	return false
}

func (d *Detector) hasFlatLighting(gray gocv.Mat) bool {
	return matStdDev(gray) < d.cfg.LightingStdMin
}

func (d *Detector) hasBlockGridArtifacts(gray gocv.Mat) bool {
	grayF := gocv.NewMat()
	defer grayF.Close()
	gray.ConvertTo(&grayF, gocv.MatTypeCV32F)

	freq := gocv.NewMat()
	defer freq.Close()
	gocv.DFT(grayF, &freq, gocv.DftComplexOutput)

	planes := gocv.Split(freq)
	for i := range planes {
		defer planes[i].Close()
	}
	if len(planes) != 2 {
		return false
	}

	magnitude := gocv.NewMat()
	defer magnitude.Close()
	gocv.Magnitude(planes[0], planes[1], &magnitude)

	rows := magnitude.Rows()
	cols := magnitude.Cols()
	if rows == 0 || cols == 0 {
		return false
	}

	// Sample the zero-frequency-centered spectrum on an 8x8 grid. Instead of
	// physically shifting quadrants, map each centered position back to the
	// raw DFT layout: centered (i,j) lives at ((i+rows/2)%rows, (j+cols/2)%cols).
	var blockSum float64
	for i := 0; i < rows; i += 8 {
		si := (i + rows/2) % rows
		for j := 0; j < cols; j += 8 {
			sj := (j + cols/2) % cols
			blockSum += float64(magnitude.GetFloatAt(si, sj))
		}
	}

	var total float64
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			total += float64(magnitude.GetFloatAt(i, j))
		}
	}
	if total == 0 {
		return false
	}

	return blockSum/total > d.cfg.BlockEnergyRatioMax
}

func highPassKernel() gocv.Mat {
	kernel := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV32F)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			kernel.SetFloatAt(i, j, -1)
		}
	}
	kernel.SetFloatAt(1, 1, 8)
	return kernel
}
