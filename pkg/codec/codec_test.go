package codec

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/nimburion/backupstore/pkg/storeerr"
)

type snapshot struct {
	Name     string            `json:"name"`
	Files    []string          `json:"files"`
	Taken    time.Time         `json:"taken"`
	Labels   map[string]string `json:"labels"`
	Complete bool              `json:"complete"`
}

func TestMarshalUnmarshal_PreservesValue(t *testing.T) {
	in := snapshot{
		Name:     "nightly",
		Files:    []string{"a.txt", "b/c.txt"},
		Taken:    time.Date(2024, 3, 1, 2, 3, 4, 0, time.UTC),
		Labels:   map[string]string{"env": "prod"},
		Complete: true,
	}

	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out snapshot
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("expected %+v, got %+v", in, out)
	}
}

func TestMarshal_Compresses(t *testing.T) {
	in := snapshot{Name: strings.Repeat("backup-", 500)}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(data) >= len(in.Name) {
		t.Fatalf("expected compressed payload under %d bytes, got %d", len(in.Name), len(data))
	}
}

func TestUnmarshal_RejectsGarbage(t *testing.T) {
	var out snapshot
	if err := Unmarshal([]byte("not zstd"), &out); !errors.Is(err, storeerr.ErrDataCorruption) {
		t.Fatalf("expected ErrDataCorruption, got %v", err)
	}
}

func TestMarshal_RejectsUnencodable(t *testing.T) {
	if _, err := Marshal(map[string]any{"ch": make(chan int)}); !errors.Is(err, storeerr.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
