package fitsdata

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

const (
	recordSize      = 80
	recordsPerBlock = 36
)

// ReadFits reads the primary HDU header and image from a file, plus any
// binary tables of float64 columns that follow it.
func ReadFits(filePath string) (*Data, error) {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("opening FITS file: %w", err)
	}
	d, err := ReadFitsFromBytes(raw)
	if err != nil {
		return nil, err
	}
	d.FileName = filePath
	return d, nil
}

// ReadFitsFromBytes reads the primary HDU and its binary tables from a byte
// slice.
func ReadFitsFromBytes(data []byte) (*Data, error) {
	d, err := readFitsFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	tables, err := readTables(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	d.Tables = tables
	return d, nil
}

func readFitsFromReader(r io.Reader) (*Data, error) {
	var bitpix, naxis, width, height int
	bzero := 0.0
	bscale := 1.0
	headerDone := false
	header := NewHeader()

	recordBuf := make([]byte, recordSize)

	for !headerDone {
		for i := 0; i < recordsPerBlock; i++ {
			if _, err := io.ReadFull(r, recordBuf); err != nil {
				return nil, fmt.Errorf("reading FITS header record: %w", err)
			}
			record := string(recordBuf)
			keyword := strings.TrimSpace(record[:8])

			if keyword == "END" {
				headerDone = true
				remaining := recordsPerBlock - 1 - i
				if remaining > 0 {
					skipBuf := make([]byte, remaining*recordSize)
					if _, err := io.ReadFull(r, skipBuf); err != nil {
						return nil, fmt.Errorf("reading FITS header padding: %w", err)
					}
				}
				break
			}

			if isCommentary(keyword) {
				header.addCommentary(keyword, strings.TrimRight(record[8:], " "))
				continue
			}
			if record[8] != '=' || record[9] != ' ' {
				continue
			}
			rawValue, comment := splitValueComment(record[10:])
			switch keyword {
			case "BITPIX":
				bitpix, _ = strconv.Atoi(rawValue)
			case "NAXIS":
				naxis, _ = strconv.Atoi(rawValue)
			case "NAXIS1":
				width, _ = strconv.Atoi(rawValue)
			case "NAXIS2":
				height, _ = strconv.Atoi(rawValue)
			case "BZERO":
				bzero, _ = strconv.ParseFloat(rawValue, 64)
			case "BSCALE":
				bscale, _ = strconv.ParseFloat(rawValue, 64)
			}
			if keyword != "" && !isStructuralKey(keyword) {
				header.Set(keyword, parseFitsValue(rawValue), comment)
			}
		}
	}

	if naxis < 2 || width == 0 || height == 0 {
		return nil, fmt.Errorf("invalid FITS: NAXIS=%d, NAXIS1=%d, NAXIS2=%d", naxis, width, height)
	}

	numPixels := width * height
	bytesPerPixel := intAbs(bitpix) / 8
	if bytesPerPixel == 0 {
		return nil, fmt.Errorf("unsupported BITPIX: %d", bitpix)
	}
	rawBytes := make([]byte, numPixels*bytesPerPixel)
	if _, err := io.ReadFull(r, rawBytes); err != nil {
		return nil, fmt.Errorf("reading BITPIX %d pixel data: %w", bitpix, err)
	}

	// FITS data is big-endian; decode into host order and apply the linear scaling.
	img := NewImage(width, height)
	pixels := img.Pix
	switch bitpix {
	case 8:
		for i := 0; i < numPixels; i++ {
			pixels[i] = float64(rawBytes[i])*bscale + bzero
		}
	case 16:
		for i := 0; i < numPixels; i++ {
			pixels[i] = float64(int16(binary.BigEndian.Uint16(rawBytes[i*2:])))*bscale + bzero
		}
	case 32:
		for i := 0; i < numPixels; i++ {
			pixels[i] = float64(int32(binary.BigEndian.Uint32(rawBytes[i*4:])))*bscale + bzero
		}
	case 64:
		for i := 0; i < numPixels; i++ {
			pixels[i] = float64(int64(binary.BigEndian.Uint64(rawBytes[i*8:])))*bscale + bzero
		}
	case -32:
		for i := 0; i < numPixels; i++ {
			v := math.Float32frombits(binary.BigEndian.Uint32(rawBytes[i*4:]))
			pixels[i] = float64(v)*bscale + bzero
		}
	case -64:
		for i := 0; i < numPixels; i++ {
			v := math.Float64frombits(binary.BigEndian.Uint64(rawBytes[i*8:]))
			pixels[i] = v*bscale + bzero
		}
	default:
		return nil, fmt.Errorf("unsupported BITPIX: %d", bitpix)
	}

	return &Data{Header: header, Image: img}, nil
}

// isStructuralKey reports keywords that describe the data layout. They are
// regenerated when the data object is written.
func isStructuralKey(key string) bool {
	switch key {
	case "SIMPLE", "BITPIX", "NAXIS", "EXTEND", "BZERO", "BSCALE", "PCOUNT", "GCOUNT", "XTENSION":
		return true
	}
	return strings.HasPrefix(key, "NAXIS")
}

// splitValueComment separates the value field from a trailing "/ comment",
// ignoring slashes inside quoted strings.
func splitValueComment(field string) (string, string) {
	inQuote := false
	for i, c := range field {
		switch c {
		case '\'':
			inQuote = !inQuote
		case '/':
			if !inQuote {
				return strings.TrimSpace(field[:i]), strings.TrimSpace(field[i+1:])
			}
		}
	}
	return strings.TrimSpace(field), ""
}

func parseFitsValue(rawValue string) interface{} {
	if rawValue == "" {
		return ""
	}
	if rawValue == "T" {
		return true
	}
	if rawValue == "F" {
		return false
	}
	if strings.HasPrefix(rawValue, "'") {
		endQuote := strings.LastIndex(rawValue, "'")
		if endQuote > 0 {
			return strings.ReplaceAll(strings.TrimRight(rawValue[1:endQuote], " "), "''", "'")
		}
		return strings.TrimLeft(strings.TrimRight(rawValue, " "), "'")
	}
	if i, err := strconv.Atoi(rawValue); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(strings.Replace(rawValue, "D", "E", 1), 64); err == nil {
		return f
	}
	return rawValue
}

func intAbs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
