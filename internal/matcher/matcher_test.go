package matcher

import (
	"math"
	"strings"
	"testing"

	"gocv.io/x/gocv"

	"github.com/example/facegate/internal/facerec"
)

func embedding(values ...float32) facerec.Embedding {
	emb := make(facerec.Embedding, 128)
	copy(emb, values)
	return emb
}

func TestEmbeddingIdenticalVectorsMatch(t *testing.T) {
	m := NewEmbeddingMatcher(0)
	emb := embedding(0.1, 0.2, 0.3)

	out := m.Compare(emb, emb)
	if !out.Matched {
		t.Fatal("expected identical embeddings to match")
	}
	if out.Confidence != 100 {
		t.Fatalf("expected confidence 100, got %v", out.Confidence)
	}
	if !strings.Contains(out.Message, "Face verified") {
		t.Fatalf("unexpected message: %q", out.Message)
	}
	if !strings.Contains(out.Message, "100.00%") {
		t.Fatalf("expected confidence in message, got %q", out.Message)
	}
}

func TestEmbeddingDistanceAtToleranceMatches(t *testing.T) {
	// 0.25 is exactly representable, so the distance lands precisely on the
	// tolerance and must still match (inclusive bound).
	m := NewEmbeddingMatcher(0.25)
	a := embedding()
	b := embedding(0.25)

	out := m.Compare(a, b)
	if !out.Matched {
		t.Fatalf("expected distance 0.25 to match at tolerance 0.25, got %+v", out)
	}
}

func TestEmbeddingFarVectorsRejectWithBoundedConfidence(t *testing.T) {
	m := NewEmbeddingMatcher(0.3)
	a := embedding()
	b := make(facerec.Embedding, 128)
	for i := range b {
		b[i] = 0.5
	}

	out := m.Compare(a, b)
	if out.Matched {
		t.Fatal("expected distant embeddings to be rejected")
	}
	if !strings.Contains(out.Message, "does not match") {
		t.Fatalf("unexpected message: %q", out.Message)
	}
	// Distance sqrt(128*0.25) > 1 would push raw confidence negative.
	if out.Confidence < 0 || out.Confidence > 100 {
		t.Fatalf("confidence out of range: %v", out.Confidence)
	}
}

func TestEmbeddingMismatchedLengthsNeverMatch(t *testing.T) {
	m := NewEmbeddingMatcher(0.3)
	out := m.Compare(facerec.Embedding{1, 2}, embedding(1, 2))
	if out.Matched {
		t.Fatal("expected mismatched vector lengths to be rejected")
	}
	if out.Confidence != 0 {
		t.Fatalf("expected confidence 0, got %v", out.Confidence)
	}
}

func TestDistanceIsEuclidean(t *testing.T) {
	a := embedding(3)
	b := embedding(0, 4)
	got := Distance(a, b)
	if math.Abs(got-5) > 1e-9 {
		t.Fatalf("expected distance 5, got %v", got)
	}
}

func flatMat(t *testing.T, size int, value float64) gocv.Mat {
	t.Helper()
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(value, value, value, 0), size, size, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { mat.Close() })
	return mat
}

func TestHistogramIdenticalImagesMatch(t *testing.T) {
	m := NewHistogramMatcher(0)
	img := flatMat(t, 64, 130)

	out := m.Compare(img, img)
	if !out.Matched {
		t.Fatalf("expected identical images to match, got %+v", out)
	}
	if out.Confidence < 99 || out.Confidence > 100 {
		t.Fatalf("expected near-perfect confidence, got %v", out.Confidence)
	}
}

func TestHistogramDisjointIntensitiesReject(t *testing.T) {
	m := NewHistogramMatcher(0)
	dark := flatMat(t, 64, 10)
	bright := flatMat(t, 64, 240)

	out := m.Compare(dark, bright)
	if out.Matched {
		t.Fatal("expected disjoint intensity distributions to be rejected")
	}
	// Correlation can go negative; confidence must stay in [0,100].
	if out.Confidence < 0 || out.Confidence > 100 {
		t.Fatalf("confidence out of range: %v", out.Confidence)
	}
	if !strings.Contains(out.Message, "does not match") {
		t.Fatalf("unexpected message: %q", out.Message)
	}
}
