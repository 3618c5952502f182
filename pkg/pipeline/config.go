package pipeline

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"stonesteps/pkg/catalog"
	"stonesteps/pkg/extract"
	"stonesteps/pkg/photometry"
	"stonesteps/pkg/zeropoint"
)

/* Example config file ...

srcext:
  maskfile: badpixels.fits
  maskthreshold: 0
  backgroundwh: [16, 16]
  filterwh: [3, 3]
  extractthresh: 2.0
  bfactor: 10
  deblend: 256
  kronf: 2.5
  sourcetable: true
  sourcetableformat: csv

fluxcal:
  pixelscale: 0.76
  matchradius: 1
  zeropercent: 30
  delete_cat: true
  timeout: 30s

*/

// Config holds every tunable of both steps.
type Config struct {
	SrcExt  SrcExtConfig  `yaml:"srcext"`
	FluxCal FluxCalConfig `yaml:"fluxcal"`
}

// SrcExtConfig configures the source extraction step.
type SrcExtConfig struct {
	// MaskFile is an image of the input's size; pixels above MaskThreshold
	// are excluded from the background.
	MaskFile      string  `yaml:"maskfile"`
	MaskThreshold float64 `yaml:"maskthreshold"`
	// BackgroundWH is the background mesh width and height in pixels.
	BackgroundWH []int `yaml:"backgroundwh"`
	// FilterWH is the median filter size over the mesh grid.
	FilterWH []int `yaml:"filterwh"`
	// FilterThreshold limits the median filter to meshes deviating more
	// than this from their neighborhood.
	FilterThreshold float64 `yaml:"fthreshold"`
	// ExtractThreshold is the detection threshold in units of the RMS map.
	ExtractThreshold float64 `yaml:"extractthresh"`
	// BrightFactor multiplies ExtractThreshold for the high threshold set.
	BrightFactor float64 `yaml:"bfactor"`
	// Deblend is the number of deblending sub-thresholds.
	Deblend      int     `yaml:"deblend"`
	DeblendCont  float64 `yaml:"deblendcont"`
	MinArea      int     `yaml:"minarea"`
	KronAperture float64 `yaml:"kronaperture"`
	KronFactor   float64 `yaml:"kronf"`
	Subpix       int     `yaml:"subpix"`

	MaxElongation float64 `yaml:"maxelong"`
	MinSNR        float64 `yaml:"minsnr"`
	MaxSNR        float64 `yaml:"maxsnr"`

	// SourceTable writes a region file and a text table of the low
	// threshold sources next to the input.
	SourceTable       bool    `yaml:"sourcetable"`
	SourceTableFormat string  `yaml:"sourcetableformat"`
	RegionRadius      float64 `yaml:"regionradius"`
	// Preview writes a JPEG with the accepted sources circled.
	Preview bool `yaml:"preview"`
}

// FluxCalConfig configures the flux calibration step.
type FluxCalConfig struct {
	CatalogURL string  `yaml:"catalogurl"`
	Catalog    string  `yaml:"catalog"`
	SearchRad  float64 `yaml:"searchradius"`
	MaxMag     float64 `yaml:"maxmag"`
	// PixelScale is the unbinned detector scale in arcsec per pixel.
	PixelScale  float64 `yaml:"pixelscale"`
	MatchRadius float64 `yaml:"matchradius"`
	MinMatches  int     `yaml:"minmatches"`
	// ZeroPercent is the image percentile taken as zero flux.
	ZeroPercent float64 `yaml:"zeropercent"`
	// DeleteCatalog removes the raw catalog reply after the run.
	DeleteCatalog bool          `yaml:"delete_cat"`
	Timeout       time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	ep := extract.DefaultParams()
	bp := extract.DefaultBackgroundParams()
	mp := photometry.DefaultMeasureParams()
	cr := photometry.DefaultCriteria()
	return Config{
		SrcExt: SrcExtConfig{
			BackgroundWH:      []int{bp.MeshWidth, bp.MeshHeight},
			FilterWH:          []int{bp.FilterWidth, bp.FilterHeight},
			ExtractThreshold:  2.0,
			BrightFactor:      10.0,
			Deblend:           256,
			DeblendCont:       ep.DeblendCont,
			MinArea:           ep.MinArea,
			KronAperture:      mp.KronAperture,
			KronFactor:        mp.KronFactor,
			Subpix:            mp.Subpix,
			MaxElongation:     cr.MaxElongation,
			MinSNR:            cr.MinSNR,
			MaxSNR:            cr.MaxSNR,
			SourceTableFormat: photometry.FormatCSV,
			RegionRadius:      5,
		},
		FluxCal: FluxCalConfig{
			CatalogURL:  catalog.DefaultURL,
			Catalog:     catalog.DefaultCatalog,
			SearchRad:   catalog.DefaultRadius,
			MaxMag:      catalog.DefaultMaxMag,
			PixelScale:  0.76,
			MatchRadius: 1,
			MinMatches:  zeropoint.DefaultMinMatches,
			ZeroPercent: zeropoint.DefaultZeroPercentile,
			Timeout:     catalog.DefaultTimeout,
		},
	}
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(filename string) (Config, error) {
	c := DefaultConfig()

	contents, err := os.ReadFile(filename)
	if err != nil {
		return c, fmt.Errorf("read %q: %w", filename, err)
	}
	if err := yaml.Unmarshal(contents, &c); err != nil {
		return c, fmt.Errorf("parse %q: %w", filename, err)
	}
	return c, c.Finalize()
}

// Finalize checks the values.
func (c *Config) Finalize() error {
	s := &c.SrcExt
	switch {
	case !positivePair(s.BackgroundWH):
		return fmt.Errorf("backgroundwh must be positive, got %v", s.BackgroundWH)
	case !positivePair(s.FilterWH):
		return fmt.Errorf("filterwh must be positive, got %v", s.FilterWH)
	case s.ExtractThreshold <= 0:
		return fmt.Errorf("extractthresh must be positive, got %g", s.ExtractThreshold)
	case s.BrightFactor <= 0:
		return fmt.Errorf("bfactor must be positive, got %g", s.BrightFactor)
	case s.Deblend < 1:
		return fmt.Errorf("deblend must be at least 1, got %d", s.Deblend)
	case s.KronFactor <= 0 || s.KronAperture <= 0:
		return fmt.Errorf("kron aperture and factor must be positive")
	case s.Subpix < 0:
		return fmt.Errorf("subpix must not be negative, got %d", s.Subpix)
	case s.MaxElongation <= 1:
		return fmt.Errorf("maxelong must exceed 1, got %g", s.MaxElongation)
	case s.MaxSNR <= s.MinSNR:
		return fmt.Errorf("maxsnr %g must exceed minsnr %g", s.MaxSNR, s.MinSNR)
	}
	switch s.SourceTableFormat {
	case photometry.FormatCSV, photometry.FormatTab, photometry.FormatBasic:
	case "":
		s.SourceTableFormat = photometry.FormatCSV
	default:
		return fmt.Errorf("no sourcetableformat named %q", s.SourceTableFormat)
	}

	f := &c.FluxCal
	switch {
	case f.PixelScale <= 0:
		return fmt.Errorf("pixelscale must be positive, got %g", f.PixelScale)
	case f.MatchRadius <= 0:
		return fmt.Errorf("matchradius must be positive, got %g", f.MatchRadius)
	case f.ZeroPercent < 0 || f.ZeroPercent > 100:
		return fmt.Errorf("zeropercent must be within 0..100, got %g", f.ZeroPercent)
	}
	if f.MinMatches < zeropoint.DefaultMinMatches {
		f.MinMatches = zeropoint.DefaultMinMatches
	}
	if f.Catalog == "" {
		f.Catalog = catalog.DefaultCatalog
	}
	if f.Timeout <= 0 {
		f.Timeout = catalog.DefaultTimeout
	}
	return nil
}

func positivePair(wh []int) bool {
	return len(wh) == 2 && wh[0] > 0 && wh[1] > 0
}

func (s SrcExtConfig) backgroundParams() extract.BackgroundParams {
	return extract.BackgroundParams{
		MeshWidth:       s.BackgroundWH[0],
		MeshHeight:      s.BackgroundWH[1],
		FilterWidth:     s.FilterWH[0],
		FilterHeight:    s.FilterWH[1],
		FilterThreshold: s.FilterThreshold,
		MaskThreshold:   s.MaskThreshold,
	}
}

func (s SrcExtConfig) extractParams() extract.Params {
	return extract.Params{
		MinArea:        s.MinArea,
		DeblendNThresh: s.Deblend,
		DeblendCont:    s.DeblendCont,
		Filter:         true,
	}
}

func (s SrcExtConfig) measureParams() photometry.MeasureParams {
	p := photometry.DefaultMeasureParams()
	p.KronAperture = s.KronAperture
	p.KronFactor = s.KronFactor
	p.Subpix = s.Subpix
	return p
}

func (s SrcExtConfig) criteria() photometry.Criteria {
	return photometry.Criteria{MaxElongation: s.MaxElongation, MinSNR: s.MinSNR, MaxSNR: s.MaxSNR}
}
