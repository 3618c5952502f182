package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"stonesteps/pkg/fitsdata"
	"stonesteps/pkg/photometry"
	"stonesteps/pkg/pipeline"
	"stonesteps/pkg/store"
)

var fluxcalOpts struct {
	catalogURL    string
	pixelScale    float64
	deleteCatalog bool
	mask          string
}

var fluxcalCmd = &cobra.Command{
	Use:   "fluxcal <file>...",
	Short: "Fit the photometric zero point and rescale to Jy, writing <name>_FCAL.fits",
	Long: "fluxcal calibrates FITS images with a TAN WCS against the Guide Star Catalog.\n" +
		"Files without source tables are run through srcext first; if calibration fails\n" +
		"their extraction output is still written.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := applyFluxCalFlags(cmd); err != nil {
			return err
		}
		return processFiles(cmd.Context(), args, calibrateFile)
	},
}

func init() {
	f := fluxcalCmd.Flags()
	f.StringVar(&fluxcalOpts.catalogURL, "catalog-url", "", "Catalog search service URL")
	f.Float64Var(&fluxcalOpts.pixelScale, "pixelscale", 0.76, "Unbinned pixel scale in arcsec/pixel")
	f.BoolVar(&fluxcalOpts.deleteCatalog, "delete-cat", false, "Delete the downloaded catalog after the run")
	f.StringVar(&fluxcalOpts.mask, "mask", "", "Background mask used when source extraction runs first")
	rootCmd.AddCommand(fluxcalCmd)
}

func applyFluxCalFlags(cmd *cobra.Command) error {
	f := cmd.Flags()
	c := &cfg.FluxCal
	if f.Changed("catalog-url") {
		c.CatalogURL = fluxcalOpts.catalogURL
	}
	if f.Changed("pixelscale") {
		c.PixelScale = fluxcalOpts.pixelScale
	}
	if f.Changed("delete-cat") {
		c.DeleteCatalog = fluxcalOpts.deleteCatalog
	}
	if f.Changed("mask") {
		cfg.SrcExt.MaskFile = fluxcalOpts.mask
	}
	return cfg.Finalize()
}

func calibrateFile(ctx context.Context, path string, run *store.Run, log *slog.Logger) error {
	d, err := pipeline.LoadData(path)
	if err != nil {
		return err
	}

	extracted := false
	if d.Table(photometry.LowThresholdTable) == nil {
		if _, err := pipeline.NewSourceExtraction(cfg.SrcExt, log).Run(ctx, d); err != nil {
			return err
		}
		extracted = true
	}
	recordTables(run, d)

	res, calErr := pipeline.NewFluxCalibration(cfg.FluxCal, log).Run(ctx, d)
	if res != nil {
		run.Matches = len(res.Matches)
	}
	if calErr != nil {
		if extracted {
			out := pipeline.OutputPath(d, "SEP")
			if err := fitsdata.WriteFile(out, d); err != nil {
				log.Error("could not write extraction output", "path", out, "err", err)
			} else {
				fmt.Printf("%s -> %s (extraction only)\n", path, out)
			}
		}
		return fmt.Errorf("flux calibration: %w", calErr)
	}
	run.Steps = d.Header.GetString("PIPESTEP")
	run.ZeroPoint, run.ZeroErr = res.Fit.ZeroPoint, res.Fit.ZeroPointErr

	out := pipeline.OutputPath(d, "FCAL")
	if err := fitsdata.WriteFile(out, d); err != nil {
		return err
	}

	fmt.Printf("%s -> %s\n", path, out)
	fmt.Printf("  Catalog entries: %d\n", res.Entries)
	fmt.Printf("  Matched stars:   %d\n", len(res.Matches))
	fmt.Printf("  PHOTZP:          %.3f +/- %.3f mag\n", res.Fit.ZeroPoint, res.Fit.ZeroPointErr)
	fmt.Printf("  Slope:           %.4f\n", res.Fit.Slope)
	fmt.Printf("  BZERO / BSCALE:  %.3f / %.4g\n", res.Scaling.BZero, res.Scaling.BScale)
	if res.CatalogFile != "" {
		fmt.Printf("  Catalog file:    %s\n", res.CatalogFile)
	}
	return nil
}
