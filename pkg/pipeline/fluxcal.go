package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"stonesteps/pkg/catalog"
	"stonesteps/pkg/fitsdata"
	"stonesteps/pkg/photometry"
	"stonesteps/pkg/zeropoint"
)

// ErrNoSourceTable is returned by FluxCalibration on data that has not been
// through SourceExtraction.
var ErrNoSourceTable = errors.New("no source table, run source extraction first")

// FluxCalibration fits the photometric zero point of the low threshold
// sources against the Guide Star Catalog and rescales the image to Jy.
type FluxCalibration struct {
	Config FluxCalConfig
	client *catalog.Client
	logger *slog.Logger
}

// CalibrationResult is what a FluxCalibration run produced. On a fit error
// the catalog and match fields are still filled in.
type CalibrationResult struct {
	Entries int
	Matches []catalog.Match
	Fit     zeropoint.Result
	Scaling zeropoint.Scaling
	// CatalogFile is the raw catalog reply, empty once deleted.
	CatalogFile string
}

// NewFluxCalibration returns the step for cfg.
func NewFluxCalibration(cfg FluxCalConfig, logger *slog.Logger) *FluxCalibration {
	if logger == nil {
		logger = slog.Default()
	}
	return &FluxCalibration{
		Config: cfg,
		client: catalog.NewClient(cfg.CatalogURL, cfg.Timeout),
		logger: logger.With("step", "FCAL"),
	}
}

// Name is the processing code recorded in the header.
func (f *FluxCalibration) Name() string { return "FCAL" }

// Run processes d in place. d must carry the low threshold table and a TAN
// WCS.
func (f *FluxCalibration) Run(ctx context.Context, d *fitsdata.Data) (*CalibrationResult, error) {
	if d == nil || d.Image == nil {
		return nil, errors.New("no image data")
	}
	log := f.logger.With("file", d.FileName)
	cfg := f.Config

	ft := d.Table(photometry.LowThresholdTable)
	if ft == nil {
		return nil, ErrNoSourceTable
	}
	sources, err := photometry.TableFromFits(ft)
	if err != nil {
		return nil, err
	}
	wcs, err := fitsdata.ParseWCS(d.Header)
	if err != nil {
		return nil, err
	}
	ra, dec, err := fitsdata.Pointing(d.Header)
	if err != nil {
		return nil, err
	}
	band := catalog.Band(d.Header.Filter())
	if band == "" {
		return nil, errors.New("no FILTER keyword to select catalog magnitudes")
	}
	log.Debug("pointing", "ra", ra, "dec", dec, "band", band)

	q := catalog.Query{RA: ra, Dec: dec, Radius: cfg.SearchRad, Catalog: cfg.Catalog}
	log.Debug("querying catalog", "url", f.client.QueryURL(q))
	body, err := f.client.Fetch(ctx, q)
	if err != nil {
		return nil, err
	}

	res := &CalibrationResult{}
	if d.FileName != "" {
		res.CatalogFile = d.FilenameBegin() + "gsc.csv"
		if err := os.WriteFile(res.CatalogFile, body, 0o644); err != nil {
			return nil, fmt.Errorf("save catalog reply: %w", err)
		}
		if cfg.DeleteCatalog {
			defer func() {
				if err := os.Remove(res.CatalogFile); err != nil {
					log.Warn("could not delete catalog file", "path", res.CatalogFile, "err", err)
					return
				}
				res.CatalogFile = ""
			}()
		}
	}

	entries, err := catalog.ParseEntries(body, band, cfg.MaxMag)
	if err != nil {
		return res, err
	}
	res.Entries = len(entries)
	log.Debug("received catalog entries", "n", len(entries))

	positions := make([]catalog.Position, len(sources.Rows))
	for i, r := range sources.Rows {
		positions[i].RA, positions[i].Dec = wcs.PixelToSky(r.Object.X, r.Object.Y)
	}
	maxSep := catalog.MatchRadius(cfg.MatchRadius, cfg.PixelScale, d.Header.Binning())
	res.Matches = catalog.CrossMatch(entries, positions, maxSep)
	log.Debug("matched sources", "n", len(res.Matches), "maxsep", maxSep)

	points := make([]zeropoint.Point, len(res.Matches))
	for i, m := range res.Matches {
		r := sources.Rows[m.Source]
		inst, instErr := zeropoint.InstrumentalMag(r.Flux, r.FluxErr)
		points[i] = zeropoint.Point{
			Catalog:         m.Entry.Mag,
			CatalogErr:      m.Entry.MagErr,
			Instrumental:    inst,
			InstrumentalErr: instErr,
		}
	}
	fit, err := zeropoint.Fit(points, cfg.MinMatches)
	if err != nil {
		return res, err
	}
	res.Fit = fit
	log.Info("fitted offset", "mag", fit.Offset, "slope", fit.Slope, "n", fit.N)

	scaling, err := zeropoint.NewScaling(d.Image, cfg.ZeroPercent, fit)
	if err != nil {
		return res, err
	}
	res.Scaling = scaling
	d.Image = scaling.Apply(d.Image)

	h := d.Header
	h.Set("PHOTZP", fit.ZeroPoint, "Zeropoint: MAG=-2.5*log(data)+PHOTZP")
	h.Set("PHOTZPER", fit.ZeroPointErr, "Uncertainty of the photometric zeropoint")
	h.Set("FCALBZ", scaling.BZero, "Zero flux level subtracted by FCAL")
	h.Set("FCALBS", scaling.BScale, "Scale from counts to Jy applied by FCAL")
	h.Set("NMATCH", fit.N, "Catalog stars used for the zeropoint")
	recordStep(d, f.Name())
	return res, nil
}
