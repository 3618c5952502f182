package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"stonesteps/pkg/extract"
	"stonesteps/pkg/fitsdata"
	"stonesteps/pkg/photometry"
)

// SourceExtraction detects and measures sources at a low and a high
// threshold and attaches both result tables to the data object.
type SourceExtraction struct {
	Config SrcExtConfig
	// Mask optionally excludes pixels from the background estimate. Run
	// reads it from Config.MaskFile when nil.
	Mask   *fitsdata.Image
	logger *slog.Logger
}

// ExtractionResult is what a SourceExtraction run produced.
type ExtractionResult struct {
	Background *extract.Background
	Low, High  *photometry.Table
	Summary    photometry.Summary
	// Files lists the exported side products.
	Files []string
}

// NewSourceExtraction returns the step for cfg.
func NewSourceExtraction(cfg SrcExtConfig, logger *slog.Logger) *SourceExtraction {
	if logger == nil {
		logger = slog.Default()
	}
	return &SourceExtraction{Config: cfg, logger: logger.With("step", "SEP")}
}

// Name is the processing code recorded in the header.
func (s *SourceExtraction) Name() string { return "SEP" }

// Run processes d in place.
func (s *SourceExtraction) Run(ctx context.Context, d *fitsdata.Data) (*ExtractionResult, error) {
	if d == nil || d.Image == nil {
		return nil, errors.New("no image data")
	}
	log := s.logger.With("file", d.FileName)
	cfg := s.Config

	if s.Mask == nil && cfg.MaskFile != "" {
		mask, err := LoadMask(cfg.MaskFile)
		if err != nil {
			return nil, err
		}
		s.Mask = mask
		log.Debug("loaded background mask", "path", cfg.MaskFile)
	}
	bp := cfg.backgroundParams()
	if s.Mask != nil {
		bp.Mask = s.Mask.Pix
	}
	bkg, err := extract.NewBackground(ctx, d.Image, bp)
	if err != nil {
		return nil, fmt.Errorf("background: %w", err)
	}
	sub := bkg.Subtract(d.Image)
	log.Debug("background", "level", bkg.GlobalBack, "rms", bkg.GlobalRMS)

	med, madStd := photometry.MedianMADStd(sub.Pix)
	log.Debug("subtracted image", "median", med, "madstd", madStd)

	low, err := s.measure(ctx, photometry.LowThresholdTable, sub, bkg, cfg.ExtractThreshold)
	if err != nil {
		return nil, err
	}
	high, err := s.measure(ctx, photometry.HighThresholdTable, sub, bkg, cfg.ExtractThreshold*cfg.BrightFactor)
	if err != nil {
		return nil, err
	}
	log.Debug("selected sources", "low", low.Len(), "high", high.Len())

	summary := photometry.Summarize(low)
	h := d.Header
	h.Set("RHALF", summary.RHalf, "Mean half-power radius of stars (in pixels)")
	h.Set("RHALFSTD", summary.RHalfStd, "STD of masked mean of half-power radius")
	h.Set("ELONG", summary.Elongation, "Mean elong of accepted sources")
	h.Set("EXTHRESH", cfg.ExtractThreshold, "Extraction threshold for low threshold table")
	h.Set("BRFACTOR", cfg.BrightFactor, "Multiplier to create high threshold table")
	d.SetTable(low.ToFits())
	d.SetTable(high.ToFits())

	res := &ExtractionResult{Background: bkg, Low: low, High: high, Summary: summary}
	if cfg.SourceTable {
		base := d.FilenameBegin()
		regionPath := base + "FCALsources.reg"
		textPath := base + "FCALsources.txt"
		if err := photometry.ExportFiles(low, regionPath, textPath, cfg.SourceTableFormat, cfg.RegionRadius); err != nil {
			return nil, fmt.Errorf("export source table: %w", err)
		}
		res.Files = append(res.Files, regionPath, textPath)
		log.Debug("saved sources table", "region", regionPath, "table", textPath)
	}
	if cfg.Preview {
		previewPath := d.FilenameBegin() + "FCALsources.jpg"
		if err := photometry.RenderPreview(sub, low, previewPath); err != nil {
			return nil, fmt.Errorf("render preview: %w", err)
		}
		res.Files = append(res.Files, previewPath)
	}

	recordStep(d, s.Name())
	log.Info("sources extracted", "low", low.Len(), "high", high.Len(), "rhalf", summary.RHalf)
	return res, nil
}

func (s *SourceExtraction) measure(ctx context.Context, name string, sub *fitsdata.Image, bkg *extract.Background, thresh float64) (*photometry.Table, error) {
	objs, err := extract.Extract(ctx, sub, thresh, bkg.RMS, s.Config.extractParams())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	sources := photometry.Measure(sub, bkg.RMS, objs, s.Config.measureParams())
	return photometry.BuildTable(name, sources, s.Config.criteria()), nil
}
