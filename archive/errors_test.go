package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ClassNone},
		{"collection", &CollectionError{ChannelID: "1", Err: io.ErrUnexpectedEOF}, ClassCollection},
		{"wrapped collection", fmt.Errorf("sweep: %w", &CollectionError{ChannelID: "1", Err: io.EOF}), ClassCollection},
		{"persistence", &PersistenceError{Op: "rename", Path: "x", Err: os.ErrPermission}, ClassPersistence},
		{"not found", fmt.Errorf("read: %w", ErrNotFound), ClassNotFound},
		{"corrupt", &CorruptArchiveError{Ref: "1.json", Err: io.ErrUnexpectedEOF}, ClassCorrupt},
		{"config", &ConfigError{Key: "interval", Value: 0}, ClassConfig},
		{"other", errors.New("boom"), ClassUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCorruptArchiveErrorIs(t *testing.T) {
	err := fmt.Errorf("read: %w", &CorruptArchiveError{Ref: "1.json", Err: io.EOF})
	if !errors.Is(err, ErrCorrupt) {
		t.Fatal("errors.Is(err, ErrCorrupt) = false")
	}
	if !errors.Is(err, io.EOF) {
		t.Fatal("cause should unwrap")
	}
}

func TestErrorClassString(t *testing.T) {
	if ClassNotFound.String() != "not_found" || ErrorClass(99).String() != "unknown" {
		t.Fatal("unexpected class labels")
	}
}
