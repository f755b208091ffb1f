package store

import (
	"errors"
	"fmt"
	"reflect"

	tiledb "github.com/TileDB-Inc/TileDB-Go"
	stgpsr "github.com/yuin/stagparser"

	"github.com/raweld/raweld/internal/errs"
)

// powderRecord describes the three parallel attributes of one delay's
// angular-average product. Its tiledb/filters struct tags drive
// CreateAttr the same way the teacher drives its own per-field TileDB
// attribute construction from a tagged struct.
type powderRecord struct {
	Radius    int32   `tiledb:"dtype=int32,ftype=attr" filters:"zstd(level=16)"`
	Intensity float64 `tiledb:"dtype=float64,ftype=attr" filters:"zstd(level=16)"`
	Error     float64 `tiledb:"dtype=float64,ftype=attr" filters:"zstd(level=16)"`
}

// schemaAttrs walks every exported field of t and attaches it as a
// TileDB attribute of schema, driven by the field's tiledb/filters tags.
func schemaAttrs(t any, schema *tiledb.ArraySchema, ctx *tiledb.Context) error {
	values := reflect.ValueOf(t).Elem()
	types := values.Type()

	filterDefs, _ := stgpsr.ParseStruct(t, "filters")
	tdbDefs, _ := stgpsr.ParseStruct(t, "tiledb")

	for i := 0; i < values.NumField(); i++ {
		name := types.Field(i).Name

		fieldTdbDefs := make(map[string]stgpsr.Definition)
		for _, d := range tdbDefs[name] {
			fieldTdbDefs[d.Name()] = d
		}

		def, ok := fieldTdbDefs["ftype"]
		if !ok {
			return errors.Join(errs.ErrStore, fmt.Errorf("field %s: ftype tag not found", name))
		}
		ftype, _ := def.Attribute("ftype")
		if ftype == "dim" {
			continue
		}

		if err := CreateAttr(name, filterDefs[name], fieldTdbDefs, schema, ctx); err != nil {
			return errors.Join(errs.ErrStore, err)
		}
	}

	return nil
}

// CreateAttr creates one TileDB attribute, with its compression filter
// pipeline, from the tag definitions extracted from a struct field.
// Supported dtype values: int8, uint8, int16, uint16, int32, uint32,
// int64, uint64, float32, float64. Supported filter names: zstd, gzip,
// lz4, rle, bzip2 (all taking a "level" attribute), bitw (taking
// "window"), bish, bysh.
func CreateAttr(fieldName string, filterDefs []stgpsr.Definition, tiledbDefs map[string]stgpsr.Definition, schema *tiledb.ArraySchema, ctx *tiledb.Context) error {
	def, ok := tiledbDefs["dtype"]
	if !ok {
		return fmt.Errorf("field %s: dtype tag not found", fieldName)
	}
	dtypeName, _ := def.Attribute("dtype")

	tdbType, err := dtypeByName(dtypeName.(string))
	if err != nil {
		return fmt.Errorf("field %s: %w", fieldName, err)
	}

	filterList, err := tiledb.NewFilterList(ctx)
	if err != nil {
		return err
	}
	defer filterList.Free()

	for _, filt := range filterDefs {
		if err := appendNamedFilter(ctx, filterList, filt); err != nil {
			return fmt.Errorf("field %s: %w", fieldName, err)
		}
	}

	attr, err := tiledb.NewAttribute(ctx, fieldName, tdbType)
	if err != nil {
		return err
	}
	defer attr.Free()

	if err := attr.SetFilterList(filterList); err != nil {
		return err
	}

	return schema.AddAttributes(attr)
}

func appendNamedFilter(ctx *tiledb.Context, list *tiledb.FilterList, def stgpsr.Definition) error {
	switch def.Name() {
	case "zstd":
		return addLevelFilter(ctx, list, def, ZstdFilter)
	case "gzip":
		return addLevelFilter(ctx, list, def, GzipFilter)
	case "lz4":
		return addLevelFilter(ctx, list, def, Lz4Filter)
	case "rle":
		return addLevelFilter(ctx, list, def, RleFilter)
	case "bzip2":
		return addLevelFilter(ctx, list, def, Bzip2Filter)
	case "bitw":
		window, ok := def.Attribute("window")
		if !ok {
			return errors.New("bitw: window attribute not defined")
		}
		filt, err := BitWidthReductionFilter(ctx, int32(window.(int64)))
		if err != nil {
			return err
		}
		defer filt.Free()
		return list.AddFilter(filt)
	case "bish":
		filt, err := BitshuffleFilter(ctx)
		if err != nil {
			return err
		}
		defer filt.Free()
		return list.AddFilter(filt)
	case "bysh":
		filt, err := ByteshuffleFilter(ctx)
		if err != nil {
			return err
		}
		defer filt.Free()
		return list.AddFilter(filt)
	default:
		return fmt.Errorf("unsupported filter %q", def.Name())
	}
}

func addLevelFilter(ctx *tiledb.Context, list *tiledb.FilterList, def stgpsr.Definition, ctor func(*tiledb.Context, int32) (*tiledb.Filter, error)) error {
	level, ok := def.Attribute("level")
	if !ok {
		return fmt.Errorf("%s: level attribute not defined", def.Name())
	}
	filt, err := ctor(ctx, int32(level.(int64)))
	if err != nil {
		return err
	}
	defer filt.Free()
	return list.AddFilter(filt)
}

func dtypeByName(name string) (tiledb.Datatype, error) {
	switch name {
	case "int8":
		return tiledb.TILEDB_INT8, nil
	case "uint8":
		return tiledb.TILEDB_UINT8, nil
	case "int16":
		return tiledb.TILEDB_INT16, nil
	case "uint16":
		return tiledb.TILEDB_UINT16, nil
	case "int32":
		return tiledb.TILEDB_INT32, nil
	case "uint32":
		return tiledb.TILEDB_UINT32, nil
	case "int64":
		return tiledb.TILEDB_INT64, nil
	case "uint64":
		return tiledb.TILEDB_UINT64, nil
	case "float32":
		return tiledb.TILEDB_FLOAT32, nil
	case "float64":
		return tiledb.TILEDB_FLOAT64, nil
	default:
		return 0, fmt.Errorf("unsupported dtype %q", name)
	}
}

// dimSpec describes one dense-array dimension: an inclusive [0, size-1]
// int32 domain with a single tile spanning the whole extent.
type dimSpec struct {
	name string
	size int
}

func newDomain(ctx *tiledb.Context, dims []dimSpec) (*tiledb.Domain, error) {
	domain, err := tiledb.NewDomain(ctx)
	if err != nil {
		return nil, err
	}

	for _, d := range dims {
		dim, err := tiledb.NewDimension(ctx, d.name, tiledb.TILEDB_INT32, []int32{0, int32(d.size - 1)}, int32(d.size))
		if err != nil {
			return nil, err
		}
		if err := domain.AddDimensions(dim); err != nil {
			dim.Free()
			return nil, err
		}
		dim.Free()
	}

	return domain, nil
}

// denseSingleAttrSchema builds a dense array schema over the given
// dimensions with exactly one attribute, compressed per filters.
func denseSingleAttrSchema(ctx *tiledb.Context, dims []dimSpec, attrName string, dtype tiledb.Datatype, filters *tiledb.FilterList) (*tiledb.ArraySchema, error) {
	domain, err := newDomain(ctx, dims)
	if err != nil {
		return nil, err
	}
	defer domain.Free()

	schema, err := tiledb.NewArraySchema(ctx, tiledb.TILEDB_DENSE)
	if err != nil {
		return nil, err
	}

	if err := schema.SetDomain(domain); err != nil {
		return nil, err
	}
	if err := schema.SetCellOrder(tiledb.TILEDB_ROW_MAJOR); err != nil {
		return nil, err
	}
	if err := schema.SetTileOrder(tiledb.TILEDB_ROW_MAJOR); err != nil {
		return nil, err
	}

	attr, err := tiledb.NewAttribute(ctx, attrName, dtype)
	if err != nil {
		return nil, err
	}
	defer attr.Free()

	if filters != nil {
		if err := attr.SetFilterList(filters); err != nil {
			return nil, err
		}
	}

	if err := schema.AddAttributes(attr); err != nil {
		return nil, err
	}

	return schema, nil
}

// powderSchema builds the 1D dense schema for one delay's angular-
// average triple, via the struct-tag-driven path (fixed Zstandard
// compression regardless of the store's --compress setting, since the
// powder product is a small derived summary, not the bulk dataset).
func powderSchema(ctx *tiledb.Context, n int) (*tiledb.ArraySchema, error) {
	domain, err := newDomain(ctx, []dimSpec{{name: "RADIUS_INDEX", size: n}})
	if err != nil {
		return nil, err
	}
	defer domain.Free()

	schema, err := tiledb.NewArraySchema(ctx, tiledb.TILEDB_DENSE)
	if err != nil {
		return nil, err
	}
	if err := schema.SetDomain(domain); err != nil {
		return nil, err
	}

	if err := schemaAttrs(&powderRecord{}, schema, ctx); err != nil {
		return nil, err
	}

	return schema, nil
}
