package geo

import "fmt"

// ValidationReport is the cloud-optimization check result for one dataset.
type ValidationReport struct {
	COG    bool     `json:"COG"`
	Issues []string `json:"issues"`
}

// Validate checks the structural properties that make a GeoTIFF usable for
// dynamic tiling: internal tiling and overview pyramids sized for the
// dataset. It reports issues instead of failing; an untiled file still
// serves, just slowly.
func (r *Reader) Validate() ValidationReport {
	report := ValidationReport{Issues: []string{}}
	st := r.ds.Structure()
	bands := r.ds.Bands()
	if len(bands) == 0 {
		report.Issues = append(report.Issues, "dataset has no raster bands")
		return report
	}

	bs := bands[0].Structure()
	if bs.BlockSizeY <= 1 && st.SizeY > bs.BlockSizeY {
		report.Issues = append(report.Issues, "file is striped, not internally tiled")
	} else if bs.BlockSizeX != bs.BlockSizeY {
		report.Issues = append(report.Issues,
			fmt.Sprintf("block shape %dx%d is not square", bs.BlockSizeX, bs.BlockSizeY))
	}

	// overviews expected once the full resolution exceeds one block
	if st.SizeX > 512 || st.SizeY > 512 {
		if len(bands[0].Overviews()) == 0 {
			report.Issues = append(report.Issues, "no overview pyramid")
		}
	}

	report.COG = len(report.Issues) == 0
	return report
}
