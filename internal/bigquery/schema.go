package bigquery

import (
	"strings"

	bq "cloud.google.com/go/bigquery"

	"bqflow/internal/domain"
)

// Standard SQL spellings accepted next to the legacy names the API returns.
var fieldTypes = map[string]bq.FieldType{
	"STRING":     bq.StringFieldType,
	"BYTES":      bq.BytesFieldType,
	"INTEGER":    bq.IntegerFieldType,
	"INT64":      bq.IntegerFieldType,
	"FLOAT":      bq.FloatFieldType,
	"FLOAT64":    bq.FloatFieldType,
	"BOOLEAN":    bq.BooleanFieldType,
	"BOOL":       bq.BooleanFieldType,
	"TIMESTAMP":  bq.TimestampFieldType,
	"DATE":       bq.DateFieldType,
	"TIME":       bq.TimeFieldType,
	"DATETIME":   bq.DateTimeFieldType,
	"NUMERIC":    bq.NumericFieldType,
	"BIGNUMERIC": bq.BigNumericFieldType,
	"GEOGRAPHY":  bq.GeographyFieldType,
	"JSON":       bq.JSONFieldType,
	"RECORD":     bq.RecordFieldType,
	"STRUCT":     bq.RecordFieldType,
}

// toSchema converts table fields into a BigQuery schema. Unknown types and
// modes, and records without nested fields, are validation errors.
func toSchema(fields []domain.Field) (bq.Schema, error) {
	schema := make(bq.Schema, 0, len(fields))
	for _, f := range fields {
		fs, err := toFieldSchema(f)
		if err != nil {
			return nil, err
		}
		schema = append(schema, fs)
	}
	return schema, nil
}

func toFieldSchema(f domain.Field) (*bq.FieldSchema, error) {
	if f.Name == "" {
		return nil, domain.ErrValidation("field name is required")
	}
	typ, ok := fieldTypes[strings.ToUpper(f.Type)]
	if !ok {
		return nil, domain.ErrValidation("field %s: unknown type %q", f.Name, f.Type)
	}

	fs := &bq.FieldSchema{Name: f.Name, Type: typ, Description: f.Description}
	switch strings.ToUpper(f.Mode) {
	case "", "NULLABLE":
	case "REQUIRED":
		fs.Required = true
	case "REPEATED":
		fs.Repeated = true
	default:
		return nil, domain.ErrValidation("field %s: unknown mode %q", f.Name, f.Mode)
	}

	if typ == bq.RecordFieldType {
		if len(f.Fields) == 0 {
			return nil, domain.ErrValidation("field %s: record has no fields", f.Name)
		}
		nested, err := toSchema(f.Fields)
		if err != nil {
			return nil, err
		}
		fs.Schema = nested
	}
	return fs, nil
}
