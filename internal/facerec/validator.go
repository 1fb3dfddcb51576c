package facerec

import (
	"image"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"
)

const (
	frontalFaceCascade = "haarcascade_frontalface_default.xml"
	eyeCascade         = "haarcascade_eye.xml"
)

// Validator checks enrollment photos before they become the stored
// reference: exactly one face, both eyes visible. When the cascade files
// are not installed, validation is skipped rather than blocking enrollment.
type Validator struct {
	faces  gocv.CascadeClassifier
	eyes   gocv.CascadeClassifier
	loaded bool
}

// NewValidator loads the Haar cascades from cascadeDir. Missing or
// unloadable cascades leave the validator in skip mode.
func NewValidator(cascadeDir string) *Validator {
	v := &Validator{}

	facePath := filepath.Join(cascadeDir, frontalFaceCascade)
	eyePath := filepath.Join(cascadeDir, eyeCascade)
	if _, err := os.Stat(facePath); err != nil {
		return v
	}
	if _, err := os.Stat(eyePath); err != nil {
		return v
	}

	faces := gocv.NewCascadeClassifier()
	if !faces.Load(facePath) {
		faces.Close()
		return v
	}
	eyes := gocv.NewCascadeClassifier()
	if !eyes.Load(eyePath) {
		faces.Close()
		eyes.Close()
		return v
	}

	v.faces = faces
	v.eyes = eyes
	v.loaded = true
	return v
}

// Close releases the cascade classifiers.
func (v *Validator) Close() {
	if v.loaded {
		v.faces.Close()
		v.eyes.Close()
		v.loaded = false
	}
}

// Validate returns whether the image is acceptable as an enrollment photo
// and a user-facing message.
func (v *Validator) Validate(img gocv.Mat) (bool, string) {
	if !v.loaded {
		return true, "Face validation skipped"
	}
	if img.Empty() {
		return false, "No face detected. Please ensure your face is clearly visible."
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	faces := v.faces.DetectMultiScaleWithParams(gray, 1.1, 5, 0, image.Pt(30, 30), image.Pt(0, 0))
	if len(faces) == 0 {
		return false, "No face detected. Please ensure your face is clearly visible."
	}
	if len(faces) > 1 {
		return false, "Multiple faces detected. Please ensure only your face is in the image."
	}

	roi := gray.Region(faces[0])
	defer roi.Close()
	eyes := v.eyes.DetectMultiScaleWithParams(roi, 1.1, 5, 0, image.Pt(30, 30), image.Pt(0, 0))
	if len(eyes) < 2 {
		return false, "Eyes not clearly visible. Please remove sunglasses or any accessories covering your face."
	}

	return true, "Face validation successful"
}
