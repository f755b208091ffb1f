package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tiledb "github.com/TileDB-Inc/TileDB-Go"

	"github.com/raweld/raweld/internal/errs"
	"github.com/raweld/raweld/internal/geom"
	"github.com/raweld/raweld/internal/imageio"
)

// OpenMode selects how a Store's backing directory is accessed.
type OpenMode string

const (
	OpenRead      OpenMode = "read"
	OpenReadWrite OpenMode = "read-write"
	OpenWriteNew  OpenMode = "write-new"
)

// Meta is the full set of global attributes attached to a processed
// dataset, stored as JSON under the group metadata key "raweld" so
// every field written reads back bit-identical.
type Meta struct {
	Resolution      [2]int    `json:"resolution"`
	Center          [2]float64 `json:"center"`
	BeamBlock       [4]int    `json:"beam_block"`
	Fluence         float64   `json:"fluence"`
	Current         float64   `json:"current"`
	Exposure        float64   `json:"exposure"`
	Energy          float64   `json:"energy"`
	NScans          int       `json:"nscans"`
	TimePoints      []string  `json:"time_points"`
	AcquisitionDate string    `json:"acquisition_date"`
	SampleType      string    `json:"sample_type"`
	TimeZeroShift   float64   `json:"time_zero_shift"`
	Notes           string    `json:"notes"`
	Incomplete      bool      `json:"incomplete"`
	RunID           string    `json:"run_id"`
	InvalidDelays   []string  `json:"invalid_delays,omitempty"`
}

// Store is the on-disk processed-dataset container: a TileDB Group
// whose members are the per-delay intensity arrays, the backgrounds,
// the pump-off picture cube, and the powder triples, with the
// dataset's global attributes attached to the group itself as
// metadata, following the layout documented in SPEC_FULL.md §4.7.
type Store struct {
	ctx         *tiledb.Context
	root        string
	compression Compression
	mode        OpenMode
}

const metaKey = "raweld"

// Create opens a new store at root in write-new mode, truncating any
// existing contents and creating a fresh TileDB Group there. Call
// WriteMeta to populate the group's global attributes.
func Create(root string, compression Compression) (*Store, error) {
	if err := os.RemoveAll(root); err != nil {
		return nil, fmt.Errorf("%w: clearing %s: %v", errs.ErrStore, root, err)
	}

	ctx, err := tiledb.NewContext(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStore, err)
	}

	grp, err := tiledb.NewGroup(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStore, err)
	}
	defer grp.Free()

	if err := grp.Create(); err != nil {
		return nil, fmt.Errorf("%w: creating group %s: %v", errs.ErrStore, root, err)
	}

	return &Store{ctx: ctx, root: root, compression: compression, mode: OpenWriteNew}, nil
}

// Open opens an existing store for reading or read-write access.
func Open(root string, mode OpenMode) (*Store, error) {
	if mode == OpenWriteNew {
		return nil, fmt.Errorf("%w: Open does not accept write-new, use Create", errs.ErrStore)
	}

	ctx, err := tiledb.NewContext(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStore, err)
	}

	return &Store{ctx: ctx, root: root, mode: mode}, nil
}

// Close releases the store's TileDB context.
func (s *Store) Close() error {
	s.ctx.Free()
	return nil
}

func (s *Store) path(parts ...string) string {
	return filepath.Join(append([]string{s.root}, parts...)...)
}

// openGroup opens a fresh handle on the store's TileDB Group in the
// given mode, mirroring ArrayOpen's per-operation open/close idiom so
// no single long-lived group handle has to track a mixed read/write
// lifetime.
func (s *Store) openGroup(mode tiledb.QueryType) (*tiledb.Group, error) {
	grp, err := tiledb.NewGroup(s.ctx, s.root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStore, err)
	}

	if err := grp.Open(mode); err != nil {
		grp.Free()
		return nil, fmt.Errorf("%w: opening group %s: %v", errs.ErrStore, s.root, err)
	}

	return grp, nil
}

// addMember registers relPath (an array URI relative to the store's
// root) as a named member of the group, following go-gsf's
// `grp.AddMember(name, alias, true)` pattern for per-record-type array
// members.
func (s *Store) addMember(relPath string) error {
	grp, err := s.openGroup(tiledb.TILEDB_WRITE)
	if err != nil {
		return err
	}
	defer grp.Free()
	defer grp.Close()

	alias := strings.ReplaceAll(relPath, string(filepath.Separator), "_")
	if err := grp.AddMember(relPath, alias, true); err != nil {
		return fmt.Errorf("%w: registering group member %s: %v", errs.ErrStore, relPath, err)
	}
	return nil
}

// WriteMeta serialises meta to JSON and attaches it to the group as a
// single well-known metadata key.
func (s *Store) WriteMeta(meta Meta) error {
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("%w: marshalling metadata: %v", errs.ErrStore, err)
	}

	grp, err := s.openGroup(tiledb.TILEDB_WRITE)
	if err != nil {
		return err
	}
	defer grp.Free()
	defer grp.Close()

	if err := grp.PutMetadata(metaKey, string(payload)); err != nil {
		return fmt.Errorf("%w: writing metadata: %v", errs.ErrStore, err)
	}

	return nil
}

// SetIncomplete marks the store's metadata as having been interrupted
// mid-run, without needing the full Meta value at the call site.
func (s *Store) SetIncomplete() error {
	meta, err := s.ReadMeta()
	if err != nil {
		return err
	}
	meta.Incomplete = true
	return s.WriteMeta(meta)
}

// ReadMeta reads back the group's global attributes written by
// WriteMeta.
func (s *Store) ReadMeta() (Meta, error) {
	var meta Meta

	grp, err := s.openGroup(tiledb.TILEDB_READ)
	if err != nil {
		return meta, err
	}
	defer grp.Free()
	defer grp.Close()

	_, _, value, err := grp.GetMetadata(metaKey)
	if err != nil {
		return meta, fmt.Errorf("%w: reading metadata: %v", errs.ErrStore, err)
	}

	raw, ok := value.(string)
	if !ok {
		return meta, fmt.Errorf("%w: metadata value is not a string", errs.ErrStore)
	}

	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return meta, fmt.Errorf("%w: unmarshalling metadata: %v", errs.ErrStore, err)
	}

	return meta, nil
}

// WriteIntensity writes the averaged H×W float32 intensity image for
// one time delay.
func (s *Store) WriteIntensity(delay string, img *geom.Image) error {
	data := make([]float32, len(img.Data))
	for i, v := range img.Data {
		data[i] = float32(v)
	}
	dims := []dimSpec{{name: "Y", size: img.Rows}, {name: "X", size: img.Cols}}
	return s.writeDenseArray(filepath.Join("processed_measurements", delay, "intensity"), dims, "intensity", tiledb.TILEDB_FLOAT32, data)
}

// ReadIntensity reads back one time delay's averaged intensity image.
func (s *Store) ReadIntensity(delay string, rows, cols int) (*geom.Image, error) {
	data := make([]float32, rows*cols)
	if err := s.readDenseArray(s.path("processed_measurements", delay, "intensity"), "intensity", data); err != nil {
		return nil, err
	}
	img := geom.NewImage(rows, cols)
	for i, v := range data {
		img.Data[i] = float64(v)
	}
	return img, nil
}

// WriteBackground writes a named uint16 H×W background image (either
// "background_pumpon" or "background_pumpoff").
func (s *Store) WriteBackground(name string, frame *imageio.Frame) error {
	dims := []dimSpec{{name: "Y", size: frame.Rows}, {name: "X", size: frame.Cols}}
	return s.writeDenseArray(filepath.Join("processed_measurements", name), dims, "value", tiledb.TILEDB_UINT16, frame.Pix)
}

// ReadBackground reads back a named background image.
func (s *Store) ReadBackground(name string, rows, cols int) (*imageio.Frame, error) {
	f := imageio.NewFrame(rows, cols)
	if err := s.readDenseArray(s.path("processed_measurements", name), "value", f.Pix); err != nil {
		return nil, err
	}
	return f, nil
}

// WritePumpoffCube writes the per-scan, background-subtracted pump-off
// picture cube as a single H×W×S array.
func (s *Store) WritePumpoffCube(cube *imageio.Cube) error {
	dims := []dimSpec{{name: "Y", size: cube.Rows}, {name: "X", size: cube.Cols}, {name: "S", size: cube.N}}
	return s.writeDenseArray(filepath.Join("pumpoff_pictures", "pumpoff_pictures"), dims, "value", tiledb.TILEDB_UINT16, cube.Pix)
}

// ReadPumpoffCube reads back the pump-off picture cube.
func (s *Store) ReadPumpoffCube(rows, cols, n int) (*imageio.Cube, error) {
	cube := imageio.NewCube(rows, cols, n)
	if err := s.readDenseArray(s.path("pumpoff_pictures", "pumpoff_pictures"), "value", cube.Pix); err != nil {
		return nil, err
	}
	return cube, nil
}

// WritePowder writes one time delay's angular-average triple.
func (s *Store) WritePowder(delay string, radii []int, intensity, errsOut []float64) error {
	n := len(radii)
	if len(intensity) != n || len(errsOut) != n {
		return fmt.Errorf("%w: powder slices for delay %s have mismatched lengths", errs.ErrStore, delay)
	}

	schema, err := powderSchema(s.ctx, n)
	if err != nil {
		return fmt.Errorf("%w: building powder schema: %v", errs.ErrStore, err)
	}
	defer schema.Free()

	relPath := filepath.Join("powder", delay)
	uri := s.path(relPath)
	array, err := tiledb.NewArray(s.ctx, uri)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStore, err)
	}
	defer array.Free()

	if err := array.Create(schema); err != nil {
		return fmt.Errorf("%w: creating powder array: %v", errs.ErrStore, err)
	}

	if err := s.addMember(relPath); err != nil {
		return err
	}

	radiusI32 := make([]int32, n)
	for i, r := range radii {
		radiusI32[i] = int32(r)
	}

	return s.writeQuery(uri, int32(n), map[string]any{
		"Radius":    radiusI32,
		"Intensity": intensity,
		"Error":     errsOut,
	})
}

// ReadPowder reads back one time delay's angular-average triple.
func (s *Store) ReadPowder(delay string, n int) (radii []int, intensity, errsOut []float64, err error) {
	radiusI32 := make([]int32, n)
	intensity = make([]float64, n)
	errsOut = make([]float64, n)

	uri := s.path("powder", delay)
	if err := s.readQuery(uri, int32(n), map[string]any{
		"Radius":    radiusI32,
		"Intensity": intensity,
		"Error":     errsOut,
	}); err != nil {
		return nil, nil, nil, err
	}

	radii = make([]int, n)
	for i, r := range radiusI32 {
		radii[i] = int(r)
	}
	return radii, intensity, errsOut, nil
}

// writeDenseArray creates a dense array at relPath (relative to the
// store's root), registers it as a group member, and writes data into
// its single attribute.
func (s *Store) writeDenseArray(relPath string, dims []dimSpec, attrName string, dtype tiledb.Datatype, data any) error {
	uri := s.path(relPath)

	filters, err := filterListFor(s.ctx, s.compression)
	if err != nil {
		return err
	}
	defer filters.Free()

	schema, err := denseSingleAttrSchema(s.ctx, dims, attrName, dtype, filters)
	if err != nil {
		return fmt.Errorf("%w: building schema for %s: %v", errs.ErrStore, uri, err)
	}
	defer schema.Free()

	array, err := tiledb.NewArray(s.ctx, uri)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStore, err)
	}
	defer array.Free()

	if err := array.Create(schema); err != nil {
		return fmt.Errorf("%w: creating array %s: %v", errs.ErrStore, uri, err)
	}

	if err := s.addMember(relPath); err != nil {
		return err
	}

	total := int32(1)
	for _, d := range dims {
		total *= int32(d.size)
	}

	return s.writeQuery(uri, total, map[string]any{attrName: data})
}

func (s *Store) readDenseArray(uri, attrName string, out any) error {
	return s.readQuery(uri, 0, map[string]any{attrName: out})
}

func (s *Store) writeQuery(uri string, _ int32, buffers map[string]any) error {
	array, err := ArrayOpen(s.ctx, uri, tiledb.TILEDB_WRITE)
	if err != nil {
		return err
	}
	defer array.Free()
	defer array.Close()

	query, err := tiledb.NewQuery(s.ctx, array)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStore, err)
	}
	defer query.Free()

	if err := query.SetLayout(tiledb.TILEDB_ROW_MAJOR); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStore, err)
	}

	for name, buf := range buffers {
		if _, err := query.SetDataBuffer(name, buf); err != nil {
			return fmt.Errorf("%w: setting buffer %s: %v", errs.ErrStore, name, err)
		}
	}

	if err := query.Submit(); err != nil {
		return fmt.Errorf("%w: submitting write to %s: %v", errs.ErrStore, uri, err)
	}

	return errors.Join(query.Finalize())
}

func (s *Store) readQuery(uri string, _ int32, buffers map[string]any) error {
	array, err := ArrayOpen(s.ctx, uri, tiledb.TILEDB_READ)
	if err != nil {
		return err
	}
	defer array.Free()
	defer array.Close()

	query, err := tiledb.NewQuery(s.ctx, array)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStore, err)
	}
	defer query.Free()

	if err := query.SetLayout(tiledb.TILEDB_ROW_MAJOR); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStore, err)
	}

	for name, buf := range buffers {
		if _, err := query.SetDataBuffer(name, buf); err != nil {
			return fmt.Errorf("%w: setting buffer %s: %v", errs.ErrStore, name, err)
		}
	}

	if err := query.Submit(); err != nil {
		return fmt.Errorf("%w: submitting read from %s: %v", errs.ErrStore, uri, err)
	}

	return nil
}
