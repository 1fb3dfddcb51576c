package usecase

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/example/facegate/internal/facerec"
	"github.com/example/facegate/internal/imagedecode"
	"github.com/example/facegate/internal/liveness"
	"github.com/example/facegate/internal/matcher"
)

// FailureCode classifies verification outcomes for logging and aggregation.
type FailureCode int

const (
	CodeOK FailureCode = iota
	CodeInputTooSmall
	CodeDecodeFailure
	CodeSpoofDetected
	CodeNoFaceFound
	CodeNotMatched
	CodeInternalError
)

func (c FailureCode) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeInputTooSmall:
		return "input_too_small"
	case CodeDecodeFailure:
		return "decode_failure"
	case CodeSpoofDetected:
		return "spoof_detected"
	case CodeNoFaceFound:
		return "no_face_found"
	case CodeNotMatched:
		return "not_matched"
	case CodeInternalError:
		return "internal_error"
	default:
		return "unknown"
	}
}

// Result is the outcome of a verification attempt. Verified is true only
// when the submission passed every gate including the face match.
type Result struct {
	Verified   bool
	Message    string
	Code       FailureCode
	Confidence float64
}

// ImageDecoder turns stored or submitted bytes into a BGR image.
type ImageDecoder interface {
	Decode(buf []byte) (gocv.Mat, error)
}

type decoderFunc func(buf []byte) (gocv.Mat, error)

func (f decoderFunc) Decode(buf []byte) (gocv.Mat, error) { return f(buf) }

// LivenessChecker decides whether a submitted image shows a live face.
type LivenessChecker interface {
	Check(img gocv.Mat) liveness.Verdict
}

// EmbeddingComparer matches two identity embeddings.
type EmbeddingComparer interface {
	Compare(stored, submitted facerec.Embedding) matcher.Outcome
}

// HistogramComparer matches two decoded images directly.
type HistogramComparer interface {
	Compare(stored, submitted gocv.Mat) matcher.Outcome
}

// Verifier runs the verification pipeline: decode both images, check the
// submission for liveness, then compare identities. It holds no persistence
// or transport concerns and is safe for concurrent use.
type Verifier struct {
	decoder   ImageDecoder
	liveness  LivenessChecker
	encoder   facerec.Encoder
	embedding EmbeddingComparer
	histogram HistogramComparer
	logger    *zap.Logger
}

// NewVerifier wires the production pipeline. A nil encoder selects the
// histogram fallback strategy for every comparison.
func NewVerifier(encoder facerec.Encoder, tolerance float64, logger *zap.Logger) *Verifier {
	return &Verifier{
		decoder:   decoderFunc(imagedecode.Decode),
		liveness:  liveness.NewDetector(liveness.DefaultConfig()),
		encoder:   encoder,
		embedding: matcher.NewEmbeddingMatcher(tolerance),
		histogram: matcher.NewHistogramMatcher(0),
		logger:    logger.Named("verifier"),
	}
}

// Verify compares the stored reference image against a base64-encoded
// submission. It never returns an error: every failure mode maps to a
// non-verified Result so callers cannot accidentally treat an error path
// as approval.
func (v *Verifier) Verify(stored []byte, submitted string) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("verification panicked", zap.Any("panic", r))
			result = Result{Message: "Face verification error", Code: CodeInternalError}
		}
	}()

	if len(stored) == 0 {
		return Result{Message: "no stored face image found", Code: CodeInputTooSmall}
	}
	if len(stored) < imagedecode.MinImageBytes {
		return Result{Message: "stored face image appears to be corrupted (too small)", Code: CodeInputTooSmall}
	}

	storedImg, err := v.decoder.Decode(stored)
	if err != nil {
		return Result{Message: decodeFailureMessage("stored", err), Code: CodeDecodeFailure}
	}
	defer storedImg.Close()

	submittedBytes, err := decodeSubmittedBase64(submitted)
	if err != nil {
		return Result{Message: "invalid face image format", Code: CodeDecodeFailure}
	}

	submittedImg, err := v.decoder.Decode(submittedBytes)
	if err != nil {
		return Result{Message: decodeFailureMessage("submitted", err), Code: CodeDecodeFailure}
	}
	defer submittedImg.Close()

	// Liveness gates the submission only. The stored reference was vetted
	// at enrollment time.
	verdict := v.liveness.Check(submittedImg)
	if !verdict.IsLive {
		return Result{Message: "Spoofing detected: " + verdict.Reason, Code: CodeSpoofDetected}
	}

	if v.encoder != nil {
		if result, handled := v.verifyByEmbedding(storedImg, submittedImg); handled {
			return result
		}
	}
	return resultFromOutcome(v.histogram.Compare(storedImg, submittedImg))
}

// verifyByEmbedding runs the primary strategy. Model errors degrade to the
// histogram fallback; an image with no detectable face is a final verdict,
// not a degradation.
func (v *Verifier) verifyByEmbedding(storedImg, submittedImg gocv.Mat) (Result, bool) {
	storedEmbeddings, err := v.encoder.Encode(storedImg)
	if err != nil {
		v.logger.Warn("embedding extraction failed for stored image, falling back to histogram", zap.Error(err))
		return Result{}, false
	}
	if len(storedEmbeddings) == 0 {
		return Result{Message: "No face detected in stored image", Code: CodeNoFaceFound}, true
	}

	submittedEmbeddings, err := v.encoder.Encode(submittedImg)
	if err != nil {
		v.logger.Warn("embedding extraction failed for submitted image, falling back to histogram", zap.Error(err))
		return Result{}, false
	}
	if len(submittedEmbeddings) == 0 {
		return Result{Message: "No face detected in submitted image", Code: CodeNoFaceFound}, true
	}

	return resultFromOutcome(v.embedding.Compare(storedEmbeddings[0], submittedEmbeddings[0])), true
}

func resultFromOutcome(out matcher.Outcome) Result {
	code := CodeNotMatched
	if out.Matched {
		code = CodeOK
	}
	return Result{
		Verified:   out.Matched,
		Message:    out.Message,
		Code:       code,
		Confidence: out.Confidence,
	}
}

func decodeFailureMessage(role string, err error) string {
	var decodeErr *imagedecode.DecodeError
	if errors.As(err, &decodeErr) {
		return fmt.Sprintf("could not decode %s face image: %s", role, decodeErr.Error())
	}
	return fmt.Sprintf("could not decode %s face image", role)
}

// decodeSubmittedBase64 recovers the raw bytes of a base64 submission,
// tolerating data URI prefixes and stripped padding.
func decodeSubmittedBase64(submitted string) ([]byte, error) {
	payload := imagedecode.StripDataURI(submitted)
	raw, err := imagedecode.DecodeBase64(payload)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.New("empty submission")
	}
	return raw, nil
}
