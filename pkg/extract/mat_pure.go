//go:build purego || js

package extract

import (
	"math"
)

// Mat is a pure Go row-major float64 matrix.
type Mat struct {
	data       []float64
	rows, cols int
}

func NewMat() Mat { return Mat{} }

func NewMatWithSize(rows, cols int) Mat {
	return Mat{data: make([]float64, rows*cols), rows: rows, cols: cols}
}

func (m Mat) Rows() int { return m.rows }
func (m Mat) Cols() int { return m.cols }

func (m Mat) Clone() Mat {
	return Mat{data: append([]float64(nil), m.data...), rows: m.rows, cols: m.cols}
}

func (m *Mat) Close() {
	m.data = nil
	m.rows = 0
	m.cols = 0
}

// DataFloat64 returns the backing float64 slice.
func (m Mat) DataFloat64() []float64 {
	return m.data
}

// --- Pure Go CV operations ---

func reflectIndex(idx, size int) int {
	if size == 1 {
		return 0
	}
	if idx < 0 {
		idx = -idx
	}
	for idx >= size {
		idx = 2*size - 2 - idx
		if idx < 0 {
			idx = -idx
		}
	}
	return idx
}

func sepFilter2DReflect(src Mat, dst *Mat, kernelX, kernelY Mat) {
	rows, cols := src.rows, src.cols
	srcData := src.DataFloat64()
	kx := kernelX.DataFloat64()
	ky := kernelY.DataFloat64()
	kxLen := kernelX.rows * kernelX.cols
	kyLen := kernelY.rows * kernelY.cols
	kxHalf := kxLen / 2
	kyHalf := kyLen / 2

	if dst.rows != rows || dst.cols != cols || dst.data == nil {
		*dst = NewMatWithSize(rows, cols)
	}

	temp := make([]float64, rows*cols)

	// Horizontal pass
	for r := 0; r < rows; r++ {
		rowOff := r * cols
		for c := 0; c < cols; c++ {
			var sum float64
			if c >= kxHalf && c < cols-kxHalf {
				base := rowOff + c - kxHalf
				for k := 0; k < kxLen; k++ {
					sum += srcData[base+k] * kx[k]
				}
			} else {
				for k := 0; k < kxLen; k++ {
					sum += srcData[rowOff+reflectIndex(c+k-kxHalf, cols)] * kx[k]
				}
			}
			temp[rowOff+c] = sum
		}
	}

	// Vertical pass, row offsets pre-computed per output row
	dstData := dst.DataFloat64()
	rowOffs := make([]int, kyLen)
	for r := 0; r < rows; r++ {
		for k := 0; k < kyLen; k++ {
			rowOffs[k] = reflectIndex(r+k-kyHalf, rows) * cols
		}
		dstOff := r * cols
		for c := 0; c < cols; c++ {
			var sum float64
			for k := 0; k < kyLen; k++ {
				sum += temp[rowOffs[k]+c] * ky[k]
			}
			dstData[dstOff+c] = sum
		}
	}
}

// cubicWeights returns the four bicubic convolution weights for a fractional
// offset t, using the same A = -0.75 kernel as OpenCV's INTER_CUBIC.
func cubicWeights(t float64) [4]float64 {
	const a = -0.75
	var w [4]float64
	w[0] = ((a*(t+1)-5*a)*(t+1)+8*a)*(t+1) - 4*a
	w[1] = ((a+2)*t-(a+3))*t*t + 1
	w[2] = ((a+2)*(1-t)-(a+3))*(1-t)*(1-t) + 1
	w[3] = 1 - w[0] - w[1] - w[2]
	return w
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// resizeCubic scales src to rows x cols. Pixel centers are mapped the way
// OpenCV does, with replicated borders.
func resizeCubic(src Mat, dst *Mat, rows, cols int) {
	srcData := src.Clone().DataFloat64()
	sRows, sCols := src.rows, src.cols
	scaleX := float64(sCols) / float64(cols)
	scaleY := float64(sRows) / float64(rows)

	if dst.rows != rows || dst.cols != cols || dst.data == nil {
		*dst = NewMatWithSize(rows, cols)
	}
	dstData := dst.DataFloat64()

	xIdx := make([][4]int, cols)
	xW := make([][4]float64, cols)
	for c := 0; c < cols; c++ {
		fx := (float64(c)+0.5)*scaleX - 0.5
		x0 := int(math.Floor(fx))
		xW[c] = cubicWeights(fx - float64(x0))
		for k := 0; k < 4; k++ {
			xIdx[c][k] = clampIndex(x0-1+k, sCols)
		}
	}

	for r := 0; r < rows; r++ {
		fy := (float64(r)+0.5)*scaleY - 0.5
		y0 := int(math.Floor(fy))
		yW := cubicWeights(fy - float64(y0))
		var yOff [4]int
		for k := 0; k < 4; k++ {
			yOff[k] = clampIndex(y0-1+k, sRows) * sCols
		}
		for c := 0; c < cols; c++ {
			var sum float64
			for ky := 0; ky < 4; ky++ {
				var row float64
				for kx := 0; kx < 4; kx++ {
					row += srcData[yOff[ky]+xIdx[c][kx]] * xW[c][kx]
				}
				sum += row * yW[ky]
			}
			dstData[r*cols+c] = sum
		}
	}
}

// labelComponents labels the 8-connected non-zero regions of mask in raster
// order. Label 0 is the background; the second return value is the number of
// foreground labels.
func labelComponents(mask Mat) ([]int32, int) {
	rows, cols := mask.rows, mask.cols
	data := mask.Clone().DataFloat64()
	labels := make([]int32, rows*cols)
	stack := make([]int, 0, 256)

	var next int32
	for start := range data {
		if data[start] == 0 || labels[start] != 0 {
			continue
		}
		next++
		labels[start] = next
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			y, x := idx/cols, idx%cols
			for dy := -1; dy <= 1; dy++ {
				ny := y + dy
				if ny < 0 || ny >= rows {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					nx := x + dx
					if nx < 0 || nx >= cols {
						continue
					}
					n := ny*cols + nx
					if data[n] != 0 && labels[n] == 0 {
						labels[n] = next
						stack = append(stack, n)
					}
				}
			}
		}
	}
	return labels, int(next)
}
