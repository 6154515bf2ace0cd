// Package cdctype decodes raw typed cells into native Go values and
// classifies records into operation types.
package cdctype

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cuemby/cdc-streams/pkg/cdcerrors"
	"github.com/cuemby/cdc-streams/pkg/types"
)

// Decode converts a raw typed cell into its native representation.
// Unknown tags fail with cdcerrors.UnsupportedType.
func Decode(cell types.Cell) (any, error) {
	switch cell.Tag {
	case types.TagText, types.TagAscii, types.TagInet:
		return decodeString(cell)
	case types.TagDate:
		return decodeDate(cell)
	case types.TagInt, types.TagSmallint, types.TagTinyint:
		return decodeInt32(cell)
	case types.TagBigint, types.TagCounter:
		return decodeInt64(cell)
	case types.TagFloat:
		return decodeFloat32(cell)
	case types.TagDecimal:
		return decodeDecimal(cell)
	case types.TagDouble:
		return decodeFloat64(cell)
	case types.TagBoolean:
		return decodeBool(cell)
	case types.TagTimestamp:
		return decodeTimestamp(cell)
	case types.TagBlob:
		return decodeBlob(cell)
	default:
		return nil, &cdcerrors.UnsupportedType{Tag: string(cell.Tag)}
	}
}

func decodeString(cell types.Cell) (string, error) {
	switch v := cell.Value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", fmt.Errorf("cell tag %s: expected string-like value, got %T", cell.Tag, cell.Value)
	}
}

func decodeDate(cell types.Cell) (time.Time, error) {
	switch v := cell.Value.(type) {
	case time.Time:
		return v, nil
	case string:
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return time.Time{}, fmt.Errorf("cell tag DATE: %w", err)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("cell tag DATE: unexpected value type %T", cell.Value)
	}
}

func decodeInt32(cell types.Cell) (int32, error) {
	switch v := cell.Value.(type) {
	case int32:
		return v, nil
	case int:
		return int32(v), nil
	case int64:
		return int32(v), nil
	case float64:
		return int32(v), nil
	default:
		return 0, fmt.Errorf("cell tag %s: unexpected value type %T", cell.Tag, cell.Value)
	}
}

func decodeInt64(cell types.Cell) (int64, error) {
	switch v := cell.Value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("cell tag %s: unexpected value type %T", cell.Tag, cell.Value)
	}
}

func decodeFloat32(cell types.Cell) (float32, error) {
	switch v := cell.Value.(type) {
	case float32:
		return v, nil
	case float64:
		return float32(v), nil
	default:
		return 0, fmt.Errorf("cell tag FLOAT: unexpected value type %T", cell.Value)
	}
}

func decodeFloat64(cell types.Cell) (float64, error) {
	switch v := cell.Value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("cell tag DOUBLE: unexpected value type %T", cell.Value)
	}
}

func decodeDecimal(cell types.Cell) (decimal.Decimal, error) {
	switch v := cell.Value.(type) {
	case decimal.Decimal:
		return v, nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("cell tag DECIMAL: %w", err)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("cell tag DECIMAL: unexpected value type %T", cell.Value)
	}
}

func decodeBool(cell types.Cell) (bool, error) {
	v, ok := cell.Value.(bool)
	if !ok {
		return false, fmt.Errorf("cell tag BOOLEAN: unexpected value type %T", cell.Value)
	}
	return v, nil
}

func decodeTimestamp(cell types.Cell) (time.Time, error) {
	switch v := cell.Value.(type) {
	case time.Time:
		return v, nil
	case int64:
		return time.UnixMilli(v), nil
	case int:
		return time.UnixMilli(int64(v)), nil
	default:
		return time.Time{}, fmt.Errorf("cell tag TIMESTAMP: unexpected value type %T", cell.Value)
	}
}

func decodeBlob(cell types.Cell) ([]byte, error) {
	switch v := cell.Value.(type) {
	case []byte:
		return v, nil
	case string:
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("cell tag BLOB: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("cell tag BLOB: unexpected value type %T", cell.Value)
	}
}

// DecodeImage decodes every cell in a raw image, returning the first
// decode error encountered.
func DecodeImage(raw types.RawImage) (types.Image, error) {
	if raw == nil {
		return nil, nil
	}
	out := make(types.Image, len(raw))
	for col, cell := range raw {
		v, err := Decode(cell)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col, err)
		}
		out[col] = v
	}
	return out, nil
}

// DecodeRecord decodes both images of r in place, populating
// r.NewImage/r.OldImage from r.NewImageRaw/r.OldImageRaw.
func DecodeRecord(r *types.Record) error {
	newImage, err := DecodeImage(r.NewImageRaw)
	if err != nil {
		return fmt.Errorf("decode new image: %w", err)
	}
	oldImage, err := DecodeImage(r.OldImageRaw)
	if err != nil {
		return fmt.Errorf("decode old image: %w", err)
	}
	r.NewImage = newImage
	r.OldImage = oldImage
	return nil
}
