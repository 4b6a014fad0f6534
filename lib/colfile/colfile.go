package colfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ValentinKolb/dTable/lib/relation"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"
)

var log = logger.GetLogger("colfile")

const (
	// Extension is the file extension of column files.
	Extension = ".parquet"

	// BackupSuffix is appended to a file name to name its backup.
	BackupSuffix = "_bkup"

	// manifestKey is the footer key holding the exact column names and kinds
	manifestKey = "dtable.columns"

	parallelism = 4
)

// field describes one persisted column in the footer manifest
type field struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// --------------------------------------------------------------------------
// Write
// --------------------------------------------------------------------------

// Write stores the columns in a parquet file at path. The file is first
// written next to the target and then renamed over it, so readers never see
// a partial file. All columns must have the same length. It returns the size
// of the written file.
func Write(path string, cols []*relation.Column) (int64, error) {
	rows := 0
	if len(cols) > 0 {
		rows = cols[0].Len()
	}
	for _, c := range cols {
		if c.Len() != rows {
			return 0, fmt.Errorf("column %q has %d values, expected %d", c.Name, c.Len(), rows)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp := fmt.Sprintf("%s.%s.tmp", path, uuid.NewString())
	if err := writeFile(tmp, cols, rows); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("failed to replace %s: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	log.Debugf("wrote %s (%s, %d rows, %d columns)", path, humanize.Bytes(uint64(info.Size())), rows, len(cols))
	return info.Size(), nil
}

func writeFile(path string, cols []*relation.Column, rows int) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer fw.Close()

	manifest := make([]field, len(cols))
	md := make([]string, len(cols))
	for i, c := range cols {
		manifest[i] = field{Name: c.Name, Kind: c.Kind.String()}
		md[i] = physicalTag(i, c.Kind)
	}
	if len(md) == 0 {
		// parquet needs at least one leaf column; the manifest stays empty
		md = []string{physicalTag(0, relation.KindNull)}
	}

	pw, err := writer.NewCSVWriter(md, fw, parallelism)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i := 0; i < rows; i++ {
		rec := make([]interface{}, len(md))
		for j, c := range cols {
			rec[j] = physicalValue(c.Values[i])
		}
		if err := pw.Write(rec); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}

	encoded, err := json.Marshal(manifest)
	if err != nil {
		return err
	}
	value := string(encoded)
	pw.Footer.KeyValueMetadata = append(pw.Footer.KeyValueMetadata, &parquet.KeyValue{Key: manifestKey, Value: &value})

	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("failed to finish parquet file: %w", err)
	}
	return nil
}

// physicalTag returns the parquet-go schema tag of the i-th column. Physical
// names are positional; the real names live in the footer manifest.
func physicalTag(i int, k relation.Kind) string {
	var typ string
	switch k {
	case relation.KindInt:
		typ = "type=INT64"
	case relation.KindFloat:
		typ = "type=DOUBLE"
	case relation.KindBool:
		typ = "type=BOOLEAN"
	case relation.KindTime:
		typ = "type=INT64, convertedtype=TIMESTAMP_MILLIS"
	default:
		typ = "type=BYTE_ARRAY, convertedtype=UTF8"
	}
	return fmt.Sprintf("name=c%d, %s, repetitiontype=OPTIONAL", i, typ)
}

func physicalValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UnixMilli()
	}
	return v
}

// --------------------------------------------------------------------------
// Read
// --------------------------------------------------------------------------

// Read loads every column of the parquet file at path. A missing file
// yields an error matching os.ErrNotExist.
func Read(path string) ([]*relation.Column, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetColumnReader(fr, parallelism)
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet footer of %s: %w", path, err)
	}
	defer pr.ReadStop()

	fields, err := readManifest(pr)
	if err != nil {
		return nil, fmt.Errorf("invalid manifest in %s: %w", path, err)
	}

	rows := pr.GetNumRows()
	cols := make([]*relation.Column, len(fields))
	for i, f := range fields {
		values := make([]interface{}, 0, rows)
		if rows > 0 {
			values, _, _, err = pr.ReadColumnByIndex(int64(i), rows)
			if err != nil {
				return nil, fmt.Errorf("failed to read column %q: %w", f.Name, err)
			}
		}
		cols[i], err = decodeColumn(f, values)
		if err != nil {
			return nil, err
		}
	}
	return cols, nil
}

// readManifest returns the manifest of the file. Files written by other
// tools have none; their schema names are used and kinds are inferred.
func readManifest(pr *reader.ParquetReader) ([]field, error) {
	for _, kv := range pr.Footer.KeyValueMetadata {
		if kv.Key != manifestKey || kv.Value == nil {
			continue
		}
		var fields []field
		if err := json.Unmarshal([]byte(*kv.Value), &fields); err != nil {
			return nil, err
		}
		return fields, nil
	}

	var fields []field
	for _, el := range pr.SchemaHandler.SchemaElements[1:] {
		if el.NumChildren != nil && *el.NumChildren > 0 {
			return nil, errors.New("nested columns are not supported")
		}
		kind := ""
		if el.ConvertedType != nil && *el.ConvertedType == parquet.ConvertedType_TIMESTAMP_MILLIS {
			kind = relation.KindTime.String()
		}
		fields = append(fields, field{Name: el.Name, Kind: kind})
	}
	return fields, nil
}

func decodeColumn(f field, values []interface{}) (*relation.Column, error) {
	if f.Kind == "" {
		return relation.NewColumn(f.Name, values), nil
	}
	kind, err := relation.ParseKind(f.Kind)
	if err != nil {
		return nil, err
	}
	if kind == relation.KindTime {
		for i, v := range values {
			if ms, ok := v.(int64); ok {
				values[i] = time.UnixMilli(ms).UTC()
			}
		}
	}
	c := relation.NewColumn(f.Name, values)
	if c.Kind != kind && c.Kind != relation.KindNull {
		return nil, fmt.Errorf("column %q: stored as %s, decoded as %s", f.Name, kind, c.Kind)
	}
	c.Kind = kind
	return c, nil
}

// --------------------------------------------------------------------------
// File management
// --------------------------------------------------------------------------

// Backup copies the file at path to path + BackupSuffix. A missing source
// is not an error.
func Backup(path string) error {
	src, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + BackupSuffix)
	if err != nil {
		return err
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to back up %s: %w", path, err)
	}
	log.Debugf("backed up %s (%s)", path, humanize.Bytes(uint64(n)))
	return nil
}

// Exists reports whether a file exists at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Remove deletes the file at path and its backup. Missing files are ignored.
func Remove(path string) error {
	for _, p := range []string{path, path + BackupSuffix} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}
