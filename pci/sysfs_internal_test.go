package pci

import (
	"bytes"
	"testing"
)

func TestReadable(t *testing.T) {
	for _, tt := range []struct {
		name       string
		have, size int64
	}{
		{"full", 0x100, 0x100},
		{"header only", 0x40, 0x1000},
		{"empty", 0, 0x100},
	} {
		t.Run(tt.name, func(t *testing.T) {
			n, err := readable(bytes.NewReader(make([]byte, tt.have)), tt.size)
			if err != nil {
				t.Fatal(err)
			}

			if n != tt.have {
				t.Fatalf("%#x != %#x", n, tt.have)
			}
		})
	}
}
