// internal/odm/collect.go
package odm

import (
	"os"
	"path/filepath"
)

// Product is one output the engine is known to write, at a fixed location
// relative to the working space. Required products must exist and be
// non-empty for a run to count as successful; optional ones are listed when
// present.
type Product struct {
	Name     string
	RelPath  string
	Kind     string
	Required bool
}

// Products is the engine's output contract. Verification iterates this
// table rather than scattering path literals.
var Products = []Product{
	{Name: "orthomosaic", RelPath: filepath.Join("odm_orthophoto", "odm_orthophoto.tif"), Kind: "rgb", Required: true},
	{Name: "point_cloud", RelPath: filepath.Join("odm_georeferencing", "odm_georeferenced_model.laz"), Kind: "lidar", Required: true},
	{Name: "bounds_shp", RelPath: filepath.Join("odm_georeferencing", "odm_georeferenced_model.bounds.shp"), Kind: "shapefile"},
	{Name: "bounds_dbf", RelPath: filepath.Join("odm_georeferencing", "odm_georeferenced_model.bounds.dbf"), Kind: "shapefile"},
	{Name: "bounds_prj", RelPath: filepath.Join("odm_georeferencing", "odm_georeferenced_model.bounds.prj"), Kind: "shapefile"},
	{Name: "bounds_shx", RelPath: filepath.Join("odm_georeferencing", "odm_georeferenced_model.bounds.shx"), Kind: "shapefile"},
	{Name: "projection", RelPath: filepath.Join("odm_georeferencing", "proj.txt"), Kind: "shapefile"},
	{Name: "bounds_geojson", RelPath: filepath.Join("odm_georeferencing", "odm_georeferenced_model.bounds.geojson"), Kind: "shapefile"},
	{Name: "boundary_json", RelPath: filepath.Join("odm_georeferencing", "odm_georeferenced_model.boundary.json"), Kind: "shapefile"},
	{Name: "dense_cloud", RelPath: filepath.Join("mve", "mve_dense_point_cloud.ply"), Kind: "pointcloud"},
	{Name: "dsm", RelPath: filepath.Join("odm_dem", "dsm.tif"), Kind: "dsm"},
	{Name: "dtm", RelPath: filepath.Join("odm_dem", "dtm.tif"), Kind: "dtm"},
	{Name: "report", RelPath: filepath.Join("odm_report", "report.pdf"), Kind: "report"},
}

// ProducedFile is one verified output listed in a Descriptor.
type ProducedFile struct {
	Name string `json:"name"`
	Path string `json:"path"` // relative to the working space
	Kind string `json:"kind"`
	Size int64  `json:"size"`
}

// Descriptor is the normalized artifact manifest handed to downstream
// consumers: pass/fail status plus the verified product mapping. It is the
// adapter's terminal, externally visible artifact.
type Descriptor struct {
	Status      Status         `json:"status"`
	ExitCode    int            `json:"exit_code"`
	Products    []ProducedFile `json:"products"`
	ErrorDetail string         `json:"error_detail,omitempty"`
}

// Collect scans the working space for the engine's declared outputs and
// builds the Descriptor. A required product missing or empty after an
// engine-reported success is a *PartialResultError: the engine's exit status
// alone does not guarantee the output contract. On a Failure result no
// products are listed even if some exist on disk, so consumers never trust
// incomplete data. Collect is a pure function of the working space contents
// and the result; re-running it yields an identical Descriptor.
func Collect(workspace string, res Result) (*Descriptor, error) {
	if res.Status != StatusSuccess {
		detail := res.LogTail
		if res.Err != nil {
			detail = res.Err.Error()
		}
		return &Descriptor{Status: StatusFailure, ExitCode: res.ExitCode, ErrorDetail: detail}, nil
	}

	desc := &Descriptor{Status: StatusSuccess, ExitCode: res.ExitCode}
	for _, product := range Products {
		full := filepath.Join(workspace, product.RelPath)
		info, err := os.Stat(full)
		present := err == nil && !info.IsDir() && info.Size() > 0
		if !present {
			if product.Required {
				return nil, &PartialResultError{Product: product.Name, Path: full}
			}
			continue
		}
		desc.Products = append(desc.Products, ProducedFile{
			Name: product.Name,
			Path: product.RelPath,
			Kind: product.Kind,
			Size: info.Size(),
		})
	}
	return desc, nil
}
