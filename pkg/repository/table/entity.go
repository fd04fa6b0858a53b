// Package table stores typed entities in a table keyed by partition and row key.
//
// Reads follow continuation keys until the result set is exhausted. Bulk writes and
// deletes are grouped by partition and submitted as atomic batches of at most
// MaxBatchSize items.
package table

import (
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/nimburion/backupstore/pkg/repository/rowkey"
)

// Stored attribute names shared by every entity.
const (
	PartitionKeyAttribute = "PartitionKey"
	RowKeyAttribute       = "RowKey"
	ETagAttribute         = "ETag"
	TimestampAttribute    = "Timestamp"
)

// DefaultPartitionKey is the partition assigned by NewEntity.
const DefaultPartitionKey = "Default"

// TimeLayout renders times with a fixed width so stored values sort chronologically.
const TimeLayout = "2006-01-02T15:04:05.0000000Z"

// Item is a stored table item.
type Item = map[string]types.AttributeValue

// Entity carries the key and bookkeeping attributes every stored type embeds. ETag and
// Timestamp are assigned by the repository on each write.
type Entity struct {
	PartitionKey string
	RowKey       string
	ETag         string
	Timestamp    time.Time
}

// NewEntity returns an entity in the default partition with a reverse-chronological
// row key for the current time.
func NewEntity() Entity {
	return Entity{PartitionKey: DefaultPartitionKey, RowKey: rowkey.Default()}
}

// Item returns the entity attributes as a new item that mappers extend with their own
// attributes.
func (e Entity) Item() Item {
	item := Item{
		PartitionKeyAttribute: String(e.PartitionKey),
		RowKeyAttribute:       String(e.RowKey),
	}
	if e.ETag != "" {
		item[ETagAttribute] = String(e.ETag)
	}
	if !e.Timestamp.IsZero() {
		item[TimestampAttribute] = Time(e.Timestamp)
	}
	return item
}

// EntityFrom reads the entity attributes of item.
func EntityFrom(item Item) (Entity, error) {
	ts, err := TimeOf(item, TimestampAttribute)
	if err != nil {
		return Entity{}, err
	}
	return Entity{
		PartitionKey: StringOf(item, PartitionKeyAttribute),
		RowKey:       StringOf(item, RowKeyAttribute),
		ETag:         StringOf(item, ETagAttribute),
		Timestamp:    ts,
	}, nil
}

// Mapper converts between T and stored items. ToItem must set the PartitionKey and
// RowKey attributes, usually through Entity.Item.
type Mapper[T any] interface {
	ToItem(value T) (Item, error)
	FromItem(item Item) (T, error)
}

// ItemMapper passes items through unchanged, for tooling that works on any table.
type ItemMapper struct{}

func (ItemMapper) ToItem(item Item) (Item, error)   { return item, nil }
func (ItemMapper) FromItem(item Item) (Item, error) { return item, nil }

// String returns a string attribute.
func String(v string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: v}
}

// Int64 returns a number attribute.
func Int64(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}

// Bool returns a boolean attribute.
func Bool(v bool) types.AttributeValue {
	return &types.AttributeValueMemberBOOL{Value: v}
}

// Time returns t in UTC rendered with TimeLayout.
func Time(t time.Time) types.AttributeValue {
	return String(t.UTC().Format(TimeLayout))
}

// StringOf returns the string attribute name, or "" when absent or not a string.
func StringOf(item Item, name string) string {
	if s, ok := item[name].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

// Int64Of returns the number attribute name, or 0 when absent.
func Int64Of(item Item, name string) (int64, error) {
	switch v := item[name].(type) {
	case nil:
		return 0, nil
	case *types.AttributeValueMemberN:
		n, err := strconv.ParseInt(v.Value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("attribute %s: %w", name, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("attribute %s is not a number", name)
	}
}

// BoolOf returns the boolean attribute name, or false when absent.
func BoolOf(item Item, name string) bool {
	if b, ok := item[name].(*types.AttributeValueMemberBOOL); ok {
		return b.Value
	}
	return false
}

// TimeOf returns the time attribute name, or the zero time when absent.
func TimeOf(item Item, name string) (time.Time, error) {
	s := StringOf(item, name)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("attribute %s: %w", name, err)
	}
	return t, nil
}

// ToAttributeValue converts a Go value to an attribute. Supported types are strings,
// integers, floats, booleans, time.Time and attribute values.
func ToAttributeValue(v any) (types.AttributeValue, error) {
	switch value := v.(type) {
	case types.AttributeValue:
		return value, nil
	case string:
		return String(value), nil
	case bool:
		return Bool(value), nil
	case int:
		return Int64(int64(value)), nil
	case int32:
		return Int64(int64(value)), nil
	case int64:
		return Int64(value), nil
	case float64:
		return &types.AttributeValueMemberN{Value: strconv.FormatFloat(value, 'f', -1, 64)}, nil
	case time.Time:
		return Time(value), nil
	default:
		return nil, fmt.Errorf("unsupported attribute value type %T", v)
	}
}

func keyOf(partitionKey, rowKey string) Item {
	return Item{
		PartitionKeyAttribute: String(partitionKey),
		RowKeyAttribute:       String(rowKey),
	}
}
