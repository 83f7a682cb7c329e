package transform

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/G-Research/tabsink/internal/tabsink/sink"
)

// Func turns the fields of one record into the payload handed to the sink. It must not modify its arguments.
type Func func(fields []string, header []string) (any, error)

// Identity passes the fields through unchanged.
func Identity(fields []string, _ []string) (any, error) {
	return fields, nil
}

// Keyed uses the first field as the key and maps every column, the key column included, by name.
func Keyed(fields []string, header []string) (any, error) {
	if err := checkShape(fields, header); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, errors.New("cannot key an empty record")
	}
	return sink.KeyedPayload{Key: fields[0], Values: byColumn(fields, header)}, nil
}

// Named maps every column by name.
func Named(fields []string, header []string) (any, error) {
	if err := checkShape(fields, header); err != nil {
		return nil, err
	}
	return byColumn(fields, header), nil
}

// ByName returns one of the built in transforms: identity, keyed or named.
func ByName(name string) (Func, error) {
	switch strings.ToLower(name) {
	case "", "identity":
		return Identity, nil
	case "keyed":
		return Keyed, nil
	case "named":
		return Named, nil
	default:
		return nil, errors.Errorf("unknown transform %q", name)
	}
}

func checkShape(fields []string, header []string) error {
	if len(fields) != len(header) {
		return errors.Errorf("record has %d fields but header has %d columns", len(fields), len(header))
	}
	return nil
}

func byColumn(fields []string, header []string) map[string]string {
	values := make(map[string]string, len(fields))
	for i, f := range fields {
		values[header[i]] = f
	}
	return values
}
