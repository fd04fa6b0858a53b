package table

import (
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/nimburion/backupstore/pkg/repository/rowkey"
	"github.com/nimburion/backupstore/pkg/storeerr"
)

// Op is a comparison operator.
type Op string

// Supported operators.
const (
	Equal              Op = "="
	NotEqual           Op = "<>"
	LessThan           Op = "<"
	LessThanOrEqual    Op = "<="
	GreaterThan        Op = ">"
	GreaterThanOrEqual Op = ">="
)

// Filter is a single comparison between an attribute and a value. Compound filters
// are not supported: callers needing a conjunction filter on one attribute in the
// store and narrow the result in memory.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Where builds a filter.
func Where(field string, op Op, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// Validate checks the field, operator and value type.
func (f Filter) Validate() error {
	if strings.TrimSpace(f.Field) == "" {
		return storeerr.New(storeerr.ErrInvalidArgument, "filter field is required")
	}
	switch f.Op {
	case Equal, NotEqual, LessThan, LessThanOrEqual, GreaterThan, GreaterThanOrEqual:
	default:
		return storeerr.Newf(storeerr.ErrInvalidArgument, "unsupported filter operator %q", f.Op)
	}
	if _, err := ToAttributeValue(f.Value); err != nil {
		return storeerr.Wrap(storeerr.ErrInvalidArgument, "invalid filter value", err)
	}
	return nil
}

func (f Filter) String() string {
	return fmt.Sprintf("%s %s %v", f.Field, f.Op, f.Value)
}

// render registers the filter placeholders under slot and returns the expression.
func (f Filter) render(slot string, names map[string]string, values map[string]types.AttributeValue) (string, error) {
	av, err := ToAttributeValue(f.Value)
	if err != nil {
		return "", storeerr.Wrap(storeerr.ErrInvalidArgument, "invalid filter value", err)
	}
	name, value := "#"+slot, ":"+slot
	names[name] = f.Field
	values[value] = av
	return name + " " + string(f.Op) + " " + value, nil
}

// isPartitionLookup reports whether the filter can run as a partition query instead of
// a full scan.
func (f Filter) isPartitionLookup() bool {
	return f.Field == PartitionKeyAttribute && f.Op == Equal
}

// Row key filters for chronological keys built by rowkey.Chronological. Boundaries are
// ticks-only keys, so suffixed keys with the boundary tick compare greater than it.

// After matches row keys of entities stamped strictly after t.
func After(t time.Time) Filter {
	return Where(RowKeyAttribute, GreaterThanOrEqual, rowkey.ChronologicalKeyStart(t.Add(rowkey.Tick)))
}

// AfterOrEqual matches row keys of entities stamped at or after t.
func AfterOrEqual(t time.Time) Filter {
	return Where(RowKeyAttribute, GreaterThanOrEqual, rowkey.ChronologicalKeyStart(t))
}

// Before matches row keys of entities stamped strictly before t.
func Before(t time.Time) Filter {
	return Where(RowKeyAttribute, LessThan, rowkey.ChronologicalKeyStart(t))
}

// BeforeOrEqual matches row keys of entities stamped at or before t.
func BeforeOrEqual(t time.Time) Filter {
	return Where(RowKeyAttribute, LessThan, rowkey.ChronologicalKeyStart(t.Add(rowkey.Tick)))
}
