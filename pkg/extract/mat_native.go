//go:build !purego && !js

package extract

import (
	"image"

	"gocv.io/x/gocv"
)

// Mat wraps a CV_64F gocv.Mat for the native OpenCV backend.
type Mat struct {
	m gocv.Mat
}

func NewMat() Mat                       { return Mat{m: gocv.NewMat()} }
func NewMatWithSize(rows, cols int) Mat { return Mat{m: gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV64F)} }
func (mat Mat) Rows() int               { return mat.m.Rows() }
func (mat Mat) Cols() int               { return mat.m.Cols() }
func (mat *Mat) Close()                 { mat.m.Close() }

func (mat Mat) DataFloat64() []float64 {
	data, _ := mat.m.DataPtrFloat64()
	return data
}

// --- CV operations ---

func sepFilter2DReflect(src Mat, dst *Mat, kernelX, kernelY Mat) {
	gocv.SepFilter2D(src.m, &dst.m, gocv.MatTypeCV64F, kernelX.m, kernelY.m, image.Pt(-1, -1), 0, gocv.BorderReflect101)
}

// resizeCubic scales src to rows x cols with OpenCV's bicubic kernel.
func resizeCubic(src Mat, dst *Mat, rows, cols int) {
	gocv.Resize(src.m, &dst.m, image.Pt(cols, rows), 0, 0, gocv.InterpolationCubic)
}

// labelComponents labels the 8-connected non-zero regions of mask. Label 0 is
// the background; the second return value is the number of foreground labels.
func labelComponents(mask Mat) ([]int32, int) {
	mask8 := gocv.NewMat()
	defer mask8.Close()
	mask.m.ConvertTo(&mask8, gocv.MatTypeCV8U)

	labels := gocv.NewMat()
	defer labels.Close()
	n := gocv.ConnectedComponents(mask8, &labels)

	data, _ := labels.DataPtrInt32()
	out := make([]int32, len(data))
	copy(out, data)
	if n < 1 {
		return out, 0
	}
	return out, n - 1
}
