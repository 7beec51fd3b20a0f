package factory

import (
	"net/http"
	"strings"
	"text/template"

	"github.com/dynraster/tileserv/internal/geo"
	"github.com/dynraster/tileserv/internal/tms"
)

const capabilitiesTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<Capabilities xmlns="http://www.opengis.net/wmts/1.0"
    xmlns:ows="http://www.opengis.net/ows/1.1"
    xmlns:xlink="http://www.w3.org/1999/xlink"
    version="1.0.0">
  <ows:ServiceIdentification>
    <ows:Title>{{.Title}}</ows:Title>
    <ows:ServiceType>OGC WMTS</ows:ServiceType>
    <ows:ServiceTypeVersion>1.0.0</ows:ServiceTypeVersion>
  </ows:ServiceIdentification>
  <Contents>
    <Layer>
      <ows:Title>{{.Title}}</ows:Title>
      <ows:Identifier>{{.Identifier}}</ows:Identifier>
      <ows:WGS84BoundingBox crs="urn:ogc:def:crs:OGC:2:84">
        <ows:LowerCorner>{{index .Bounds 0}} {{index .Bounds 1}}</ows:LowerCorner>
        <ows:UpperCorner>{{index .Bounds 2}} {{index .Bounds 3}}</ows:UpperCorner>
      </ows:WGS84BoundingBox>
      <Style isDefault="true">
        <ows:Identifier>default</ows:Identifier>
      </Style>
      <Format>{{.MediaType}}</Format>
      <TileMatrixSetLink>
        <TileMatrixSet>{{.MatrixSet}}</TileMatrixSet>
      </TileMatrixSetLink>
      <ResourceURL format="{{.MediaType}}" resourceType="tile" template="{{.TileTemplate}}"/>
    </Layer>
    <TileMatrixSet>
      <ows:Identifier>{{.MatrixSet}}</ows:Identifier>
      <ows:SupportedCRS>{{.CRS}}</ows:SupportedCRS>
{{- range .Matrices}}
      <TileMatrix>
        <ows:Identifier>{{.ID}}</ows:Identifier>
        <ScaleDenominator>{{.ScaleDenominator}}</ScaleDenominator>
        <TopLeftCorner>{{.TopLeftX}} {{.TopLeftY}}</TopLeftCorner>
        <TileWidth>{{.TileSize}}</TileWidth>
        <TileHeight>{{.TileSize}}</TileHeight>
        <MatrixWidth>{{.MatrixWidth}}</MatrixWidth>
        <MatrixHeight>{{.MatrixHeight}}</MatrixHeight>
      </TileMatrix>
{{- end}}
    </TileMatrixSet>
  </Contents>
</Capabilities>
`

var capabilitiesTmpl = template.Must(template.New("wmts").Parse(capabilitiesTemplate))

type wmtsMatrix struct {
	ID               int
	ScaleDenominator float64
	TopLeftX         float64
	TopLeftY         float64
	TileSize         int
	MatrixWidth      int
	MatrixHeight     int
}

type wmtsDocument struct {
	Title        string
	Identifier   string
	Bounds       [4]float64
	MediaType    string
	MatrixSet    string
	CRS          string
	TileTemplate string
	Matrices     []wmtsMatrix
}

// writeCapabilities renders a WMTS 1.0.0 capabilities document for the
// dataset over one tiling scheme. Rendering parameters in the query are
// forwarded into the tile template.
func (b *Base) writeCapabilities(w http.ResponseWriter, r *http.Request, t *tms.TileMatrixSet, bounds [4]float64, tilesPrefix string) {
	q := r.URL.Query()
	tileFormat, err := geo.ParseFormat(q.Get("tile_format"))
	if err != nil {
		b.writeError(w, r, err)
		return
	}
	if tileFormat == geo.FormatAuto {
		tileFormat = geo.FormatPNG
	}
	for _, key := range []string{"tileMatrixSetId", "tile_format", "tile_scale", "minzoom", "maxzoom"} {
		q.Del(key)
	}

	doc := wmtsDocument{
		Title:      q.Get("url"),
		Identifier: "default",
		Bounds:     bounds,
		MediaType:  tileFormat.MediaType(),
		MatrixSet:  t.ID,
		CRS:        "urn:ogc:def:crs:" + strings.Replace(t.CRS, ":", "::", 1),
		TileTemplate: baseURL(r) + b.routePrefix(r) + tilesPrefix + "/" + t.ID +
			"/{TileMatrix}/{TileCol}/{TileRow}." + string(tileFormat) + queryString(q),
	}
	for z := t.MinZoom; z <= t.MaxZoom; z++ {
		mw, mh := t.MatrixSize(z)
		doc.Matrices = append(doc.Matrices, wmtsMatrix{
			ID:               z,
			ScaleDenominator: t.ScaleDenominator(z),
			TopLeftX:         t.Extent[0],
			TopLeftY:         t.Extent[3],
			TileSize:         t.TileSize,
			MatrixWidth:      mw,
			MatrixHeight:     mh,
		})
	}

	w.Header().Set("Content-Type", "application/xml")
	if err := capabilitiesTmpl.Execute(w, doc); err != nil {
		b.cfg.Logger.Error().Err(err).Msg("error rendering capabilities")
	}
}
