package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/encima/linear-fdw/internal/catalog"
	"github.com/encima/linear-fdw/internal/rowmap"
)

// exportSchema derives the parquet schema from the table's column
// declarations.
func exportSchema(columns []catalog.ColumnDefinition) (*parquet.Schema, error) {
	group := parquet.Group{}
	for _, col := range columns {
		node, err := leafNode(col.Type)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col.Name, err)
		}
		if col.Nullable {
			node = parquet.Optional(node)
		}
		group[col.Name] = node
	}
	return parquet.NewSchema("export", group), nil
}

// encodeParquet writes the mapped rows as one parquet file.
func encodeParquet(columns []catalog.ColumnDefinition, rows []rowmap.Row) ([]byte, error) {
	schema, err := exportSchema(columns)
	if err != nil {
		return nil, err
	}

	records := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		record := make(map[string]any, len(columns))
		for i, col := range columns {
			if row[i] == nil {
				continue
			}
			record[col.Name] = parquetValue(row[i])
		}
		records = append(records, record)
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[map[string]any](buf, schema)
	if len(records) > 0 {
		if _, err := writer.Write(records); err != nil {
			return nil, fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func leafNode(columnType catalog.ColumnType) (parquet.Node, error) {
	switch columnType {
	case catalog.ColumnTypeText:
		return parquet.String(), nil
	case catalog.ColumnTypeFloat:
		return parquet.Leaf(parquet.DoubleType), nil
	case catalog.ColumnTypeBoolean:
		return parquet.Leaf(parquet.BooleanType), nil
	case catalog.ColumnTypeTimestamptz:
		return parquet.Timestamp(parquet.Millisecond), nil
	case catalog.ColumnTypeJSONB:
		return parquet.JSON(), nil
	default:
		return nil, fmt.Errorf("unsupported column type %q", columnType)
	}
}

func parquetValue(value any) any {
	switch v := value.(type) {
	case time.Time:
		return v.UnixMilli()
	case json.RawMessage:
		return string(v)
	default:
		return v
	}
}
