package table

import (
	"reflect"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/nimburion/backupstore/pkg/repository/rowkey"
)

func TestFilter_Render(t *testing.T) {
	names := map[string]string{}
	values := map[string]types.AttributeValue{}

	expr, err := Where("Size", LessThanOrEqual, int64(10)).render("f", names, values)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if expr != "#f <= :f" {
		t.Fatalf("unexpected expression %q", expr)
	}
	if names["#f"] != "Size" {
		t.Fatalf("unexpected names %v", names)
	}
	if want := (&types.AttributeValueMemberN{Value: "10"}); !reflect.DeepEqual(values[":f"], want) {
		t.Fatalf("expected %#v, got %#v", want, values[":f"])
	}
}

func TestFilter_PartitionLookup(t *testing.T) {
	if !Where(PartitionKeyAttribute, Equal, "p").isPartitionLookup() {
		t.Error("expected equality on the partition key to be a partition lookup")
	}
	if Where(PartitionKeyAttribute, NotEqual, "p").isPartitionLookup() {
		t.Error("expected inequality not to be a partition lookup")
	}
	if Where(RowKeyAttribute, Equal, "p").isPartitionLookup() {
		t.Error("expected a row key filter not to be a partition lookup")
	}
}

func TestChronologicalFilterBoundaries(t *testing.T) {
	at := time.Date(2022, time.February, 3, 4, 5, 6, 0, time.UTC)
	start := rowkey.ChronologicalKeyStart(at)
	next := rowkey.ChronologicalKeyStart(at.Add(rowkey.Tick))

	cases := []struct {
		filter Filter
		op     Op
		value  string
	}{
		{After(at), GreaterThanOrEqual, next},
		{AfterOrEqual(at), GreaterThanOrEqual, start},
		{Before(at), LessThan, start},
		{BeforeOrEqual(at), LessThan, next},
	}
	for i, tc := range cases {
		if tc.filter.Field != RowKeyAttribute || tc.filter.Op != tc.op || tc.filter.Value != tc.value {
			t.Errorf("case %d: expected %s %v %q, got %+v", i, RowKeyAttribute, tc.op, tc.value, tc.filter)
		}
	}
}

func TestToAttributeValue(t *testing.T) {
	at := time.Date(2022, time.February, 3, 4, 5, 6, 700, time.UTC)
	cases := map[string]struct {
		in   any
		want types.AttributeValue
	}{
		"string": {"x", &types.AttributeValueMemberS{Value: "x"}},
		"int":    {7, &types.AttributeValueMemberN{Value: "7"}},
		"float":  {1.5, &types.AttributeValueMemberN{Value: "1.5"}},
		"bool":   {true, &types.AttributeValueMemberBOOL{Value: true}},
		"time":   {at, &types.AttributeValueMemberS{Value: "2022-02-03T04:05:06.0000007Z"}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := ToAttributeValue(tc.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("expected %#v, got %#v", tc.want, got)
			}
		})
	}

	if _, err := ToAttributeValue([]string{"x"}); err == nil {
		t.Fatal("expected an error for an unsupported type")
	}
}
