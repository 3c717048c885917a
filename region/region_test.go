package region_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/c35s/pcidrv/region"
	"github.com/google/go-cmp/cmp"
)

// roots returns fresh root regions of n bytes, one of each kind.
func roots(t *testing.T, n int, perms region.Permissions) map[string]region.Region {
	t.Helper()

	f, err := os.Create(filepath.Join(t.TempDir(), "config"))
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() { f.Close() })

	if err := f.Truncate(int64(n) + 0x10); err != nil {
		t.Fatal(err)
	}

	return map[string]region.Region{
		"memory": region.NewMemory(make([]byte, n), perms),
		"file":   region.NewFile(f, 0x10, uint64(n), perms),
	}
}

func TestRoundTrip(t *testing.T) {
	for name, r := range roots(t, 0x100, region.ReadWrite) {
		t.Run(name, func(t *testing.T) {
			data := []byte("the quick brown fox")
			for _, off := range []uint64{0, 1, 0x40, 0x100 - uint64(len(data))} {
				if err := r.WriteBytes(off, data); err != nil {
					t.Fatal(err)
				}

				got := make([]byte, len(data))
				if err := r.ReadBytes(off, got); err != nil {
					t.Fatal(err)
				}

				if !bytes.Equal(got, data) {
					t.Fatalf("at %#x: %q != %q", off, got, data)
				}
			}

			if err := r.WriteU32(0x20, 0xdeadbeef); err != nil {
				t.Fatal(err)
			}

			b := make([]byte, 4)
			if err := r.ReadBytes(0x20, b); err != nil {
				t.Fatal(err)
			}

			if diff := cmp.Diff([]byte{0xef, 0xbe, 0xad, 0xde}, b); diff != "" {
				t.Fatalf("not little-endian (-want +got):\n%s", diff)
			}

			if v, err := r.ReadU16(0x22); err != nil || v != 0xdead {
				t.Fatalf("u16 %#x != 0xdead (err: %v)", v, err)
			}

			if err := r.WriteU8(0x23, 0x12); err != nil {
				t.Fatal(err)
			}

			if v, err := r.ReadU32(0x20); err != nil || v != 0x12adbeef {
				t.Fatalf("u32 %#x != 0x12adbeef (err: %v)", v, err)
			}
		})
	}
}

func TestOutOfBounds(t *testing.T) {
	for name, r := range roots(t, 0x40, region.ReadWrite) {
		t.Run(name, func(t *testing.T) {
			for _, n := range []int{1, 2, 4, 7, 0x40, 0x41} {
				for _, off := range []uint64{0x40 - uint64(n) + 1, 0x40, 0x1000, region.End} {
					if n > 0x40 {
						off = 0
					}

					err := r.ReadBytes(off, make([]byte, n))
					if !errors.Is(err, region.ErrOutOfBounds) {
						t.Fatalf("read %d bytes at %#x: %v", n, off, err)
					}

					err = r.WriteBytes(off, make([]byte, n))
					if !errors.Is(err, region.ErrOutOfBounds) {
						t.Fatalf("write %d bytes at %#x: %v", n, off, err)
					}
				}
			}

			if _, err := r.ReadU32(0x3e); !errors.Is(err, region.ErrOutOfBounds) {
				t.Fatalf("u32 at 0x3e: %v", err)
			}

			if err := r.WriteU16(0x40, 0); !errors.Is(err, region.ErrOutOfBounds) {
				t.Fatalf("u16 at 0x40: %v", err)
			}
		})
	}
}

func TestUnaligned(t *testing.T) {
	for name, r := range roots(t, 0x40, region.ReadWrite) {
		t.Run(name, func(t *testing.T) {
			if _, err := r.ReadU16(1); !errors.Is(err, region.ErrUnaligned) {
				t.Fatalf("u16 at 1: %v", err)
			}

			if err := r.WriteU32(2, 0); !errors.Is(err, region.ErrUnaligned) {
				t.Fatalf("u32 at 2: %v", err)
			}

			if !errors.Is(region.ErrUnaligned, region.ErrInvalidInput) {
				t.Fatal("ErrUnaligned is not ErrInvalidInput")
			}

			if _, err := r.ReadU8(3); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestPermissions(t *testing.T) {
	for name, r := range roots(t, 0x10, region.Read) {
		t.Run(name, func(t *testing.T) {
			if err := r.WriteU8(0, 1); !errors.Is(err, region.ErrPermission) {
				t.Fatalf("write to read-only region: %v", err)
			}

			if _, err := r.ReadU8(0); err != nil {
				t.Fatal(err)
			}
		})
	}

	if _, ok := region.NewPermissions(false, false); ok {
		t.Fatal("no-access permissions are valid")
	}

	if p, ok := region.NewPermissions(true, true); !ok || p != region.ReadWrite {
		t.Fatalf("permissions %v != %v", p, region.ReadWrite)
	}
}

func TestSubregion(t *testing.T) {
	mem := region.NewMemory(make([]byte, 0x100), region.ReadWrite)
	for i := 0; i < 0x100; i++ {
		if err := mem.WriteU8(uint64(i), uint8(i)); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("clamp", func(t *testing.T) {
		for _, tc := range []struct{ start, end, len uint64 }{
			{0, region.End, 0x100},
			{0x10, 0x20, 0x10},
			{0x20, 0x10, 0},
			{0xf0, 0x1000, 0x10},
			{0x1000, region.End, 0},
		} {
			if n := region.Sub(mem, tc.start, tc.end).Len(); n != tc.len {
				t.Fatalf("[%#x, %#x): len %#x != %#x", tc.start, tc.end, n, tc.len)
			}
		}
	})

	t.Run("compose", func(t *testing.T) {
		nested := region.Sub(region.Sub(mem, 0x10, 0x80), 0x20, 0x30)
		flat := region.Sub(mem, 0x30, 0x40)

		root, off := nested.Root()
		if root != region.Region(mem) || off != 0x30 {
			t.Fatalf("nested root offset %#x != 0x30", off)
		}

		if nested.Len() != flat.Len() {
			t.Fatalf("len %#x != %#x", nested.Len(), flat.Len())
		}

		for off := uint64(0); off <= 0x10; off++ {
			a, aerr := nested.ReadU8(off)
			b, berr := flat.ReadU8(off)
			if a != b || errors.Is(aerr, region.ErrOutOfBounds) != errors.Is(berr, region.ErrOutOfBounds) {
				t.Fatalf("at %#x: %#x/%v != %#x/%v", off, a, aerr, b, berr)
			}
		}

		if _, err := nested.ReadU8(0x10); !errors.Is(err, region.ErrOutOfBounds) {
			t.Fatalf("read past nested end: %v", err)
		}
	})

	t.Run("addr", func(t *testing.T) {
		base, ok := mem.Addr()
		if !ok {
			t.Fatal("memory region has no address")
		}

		addr, ok := region.Sub(mem, 0x18, region.End).Addr()
		if !ok || addr != base+0x18 {
			t.Fatalf("addr %#x != %#x", addr, base+0x18)
		}

		f := region.NewFile(nil, 0, 0x10, region.Read)
		if _, ok := region.Sub(f, 0, 4).Addr(); ok {
			t.Fatal("file region has an address")
		}
	})

	t.Run("zero", func(t *testing.T) {
		var s region.Subregion
		if err := s.ReadBytes(0, nil); err != nil {
			t.Fatal(err)
		}

		if _, err := s.ReadU8(0); !errors.Is(err, region.ErrOutOfBounds) {
			t.Fatalf("read from zero subregion: %v", err)
		}
	})
}
