package pipeline

import (
	"stonesteps/pkg/fitsdata"
)

// recordStep appends name to the PIPESTEP history of d.
func recordStep(d *fitsdata.Data, name string) {
	steps := d.Header.GetString("PIPESTEP")
	if steps == "" {
		steps = name
	} else {
		steps += "," + name
	}
	d.Header.Set("PIPESTEP", steps, "Pipeline steps applied")
	d.Header.Set("PROCSTAT", name, "Last processing step")
	d.Header.AddHistory(name + " applied")
}

// OutputPath names the product of step for d, e.g. obs_SEP.fits.
func OutputPath(d *fitsdata.Data, step string) string {
	return d.FilenameBegin() + step + ".fits"
}
