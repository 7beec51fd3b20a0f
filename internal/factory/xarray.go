package factory

import (
	"net/http"

	"github.com/dynraster/tileserv/internal/errs"
	"github.com/dynraster/tileserv/internal/geo"
)

// Xarray serves one variable of a multi-dimensional store (NetCDF, Zarr
// exposed through the library's subdataset naming). It shares the single
// raster routes; every request must name the variable to slice.
type Xarray struct {
	*Cog
}

// NewXarray registers the multi-dimensional routes.
func NewXarray(cfg Config) *Xarray {
	f := &Cog{Base: NewBase(cfg)}
	f.open = openVariable
	f.registerBounds()
	f.registerInfo()
	f.registerStatistics()
	f.registerTiles()
	f.registerTileJSON()
	f.registerWMTS()
	f.registerPoint()
	f.registerPreview()
	f.registerCrop()
	f.registerFeature()
	return &Xarray{Cog: f}
}

func openVariable(r *http.Request) (*geo.Reader, error) {
	ref, err := datasetRef(r)
	if err != nil {
		return nil, err
	}
	opts, err := readerOptions(r.URL.Query())
	if err != nil {
		return nil, err
	}
	opts.Variable = r.URL.Query().Get("variable")
	if opts.Variable == "" {
		return nil, errs.InvalidParam("missing required parameter: variable")
	}
	return geo.Open(ref, opts)
}
