//go:build !purego && !js

package pipeline

import (
	"fmt"

	"gocv.io/x/gocv"

	"stonesteps/pkg/fitsdata"
)

func loadNonFitsImage(path string) (*fitsdata.Image, error) {
	src := gocv.IMRead(path, gocv.IMReadGrayScale|gocv.IMReadAnyDepth)
	if src.Empty() {
		return nil, fmt.Errorf("could not load image: %s", path)
	}
	defer src.Close()

	floatMat := gocv.NewMat()
	defer floatMat.Close()
	src.ConvertTo(&floatMat, gocv.MatTypeCV64F)

	data, err := floatMat.DataPtrFloat64()
	if err != nil {
		return nil, fmt.Errorf("reading pixels of %s: %w", path, err)
	}
	img := fitsdata.NewImage(floatMat.Cols(), floatMat.Rows())
	copy(img.Pix, data)
	return img, nil
}
