package liveness

import (
	"math"

	"gocv.io/x/gocv"
)

// Pixel statistics over single-channel Mats. gocv exposes typed accessors
// per depth, so reads dispatch on the Mat type.

func pixelAt(m gocv.Mat, row, col int) float64 {
	switch m.Type() {
	case gocv.MatTypeCV8U:
		return float64(m.GetUCharAt(row, col))
	case gocv.MatTypeCV32F:
		return float64(m.GetFloatAt(row, col))
	case gocv.MatTypeCV64F:
		return m.GetDoubleAt(row, col)
	default:
		return float64(m.GetUCharAt(row, col))
	}
}

func matMean(m gocv.Mat) float64 {
	rows := m.Rows()
	cols := m.Cols()
	if rows == 0 || cols == 0 {
		return 0
	}
	var total float64
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			total += pixelAt(m, i, j)
		}
	}
	return total / float64(rows*cols)
}

func matVariance(m gocv.Mat) float64 {
	rows := m.Rows()
	cols := m.Cols()
	if rows == 0 || cols == 0 {
		return 0
	}
	mean := matMean(m)
	var total float64
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			diff := pixelAt(m, i, j) - mean
			total += diff * diff
		}
	}
	return total / float64(rows*cols)
}

func matStdDev(m gocv.Mat) float64 {
	return math.Sqrt(matVariance(m))
}
