// Package facerec wraps the face embedding model and the enrollment-time
// face validation cascades.
package facerec

import (
	"errors"
	"fmt"

	"github.com/Kagami/go-face"
	"gocv.io/x/gocv"
)

// Embedding is the fixed-length identity feature vector produced by the
// embedding model (128 values for the dlib ResNet descriptor).
type Embedding []float32

// Encoder converts a decoded face image into embeddings. An empty result
// means the model found no face; that is a valid signal, not an error.
type Encoder interface {
	Encode(img gocv.Mat) ([]Embedding, error)
}

// DlibEncoder runs the go-face dlib recognizer. The underlying model is
// loaded once and is read-only afterwards, so a single DlibEncoder is safe
// for concurrent use.
type DlibEncoder struct {
	rec *face.Recognizer
}

// NewDlibEncoder loads the dlib models (shape predictor, ResNet descriptor)
// from modelsDir. A load failure here selects the histogram fallback
// strategy for the process lifetime.
func NewDlibEncoder(modelsDir string) (*DlibEncoder, error) {
	rec, err := face.NewRecognizer(modelsDir)
	if err != nil {
		return nil, fmt.Errorf("load face recognizer: %w", err)
	}
	return &DlibEncoder{rec: rec}, nil
}

// Close releases the dlib recognizer.
func (e *DlibEncoder) Close() {
	if e.rec != nil {
		e.rec.Close()
	}
}

// Encode extracts one embedding per detected face. The BGR Mat is
// serialized through the JPEG codec, which writes samples in display order,
// so the model receives RGB as its channel contract requires.
func (e *DlibEncoder) Encode(img gocv.Mat) ([]Embedding, error) {
	if img.Empty() {
		return nil, errors.New("empty image")
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("serialize image: %w", err)
	}
	defer buf.Close()

	faces, err := e.rec.Recognize(buf.GetBytes())
	if err != nil {
		return nil, fmt.Errorf("extract embeddings: %w", err)
	}

	embeddings := make([]Embedding, 0, len(faces))
	for _, f := range faces {
		emb := make(Embedding, len(f.Descriptor))
		for i, v := range f.Descriptor {
			emb[i] = v
		}
		embeddings = append(embeddings, emb)
	}
	return embeddings, nil
}
