package region

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var le = binary.LittleEndian

// ReadWriterAt is implemented by *os.File.
type ReadWriterAt interface {
	io.ReaderAt
	io.WriterAt
}

// File is a region backed by positional reads and writes of a file, such as a
// VFIO device file or a sysfs config file. Typed accesses are issued as a
// single read or write of exactly their width and must be naturally aligned.
type File struct {
	f      ReadWriterAt
	base   uint64
	length uint64
	perms  Permissions
}

// NewFile returns a region backed by bytes [base, base+length) of f.
func NewFile(f ReadWriterAt, base, length uint64, perms Permissions) *File {
	return &File{
		f:      f,
		base:   base,
		length: length,
		perms:  perms,
	}
}

func (f *File) view() Subregion {
	return Subregion{root: f, length: f.length}
}

func (f *File) Len() uint64 {
	return f.length
}

func (f *File) Permissions() Permissions {
	return f.perms
}

func (*File) Addr() (uintptr, bool) {
	return 0, false
}

func (f *File) read(align, off uint64, p []byte) error {
	n := uint64(len(p))
	if err := checkBounds(off, n, f.length); err != nil {
		return err
	}

	if err := checkAlignment(off, n, align); err != nil {
		return err
	}

	if err := checkPermissions(f.perms, Read); err != nil {
		return err
	}

	got, err := f.f.ReadAt(p, int64(f.base+off))
	if got == len(p) && (err == nil || errors.Is(err, io.EOF)) {
		return nil
	}

	if err == nil {
		err = io.ErrUnexpectedEOF
	}

	return fmt.Errorf("%w: read %d bytes at %#x: %w", ErrDeviceIO, n, f.base+off, err)
}

func (f *File) write(align, off uint64, p []byte) error {
	n := uint64(len(p))
	if err := checkBounds(off, n, f.length); err != nil {
		return err
	}

	if err := checkAlignment(off, n, align); err != nil {
		return err
	}

	if err := checkPermissions(f.perms, Write); err != nil {
		return err
	}

	got, err := f.f.WriteAt(p, int64(f.base+off))
	if err == nil && got != len(p) {
		err = io.ErrShortWrite
	}

	if err != nil {
		return fmt.Errorf("%w: write %d bytes at %#x: %w", ErrDeviceIO, n, f.base+off, err)
	}

	return nil
}

func (f *File) ReadBytes(off uint64, p []byte) error {
	return f.read(1, off, p)
}

func (f *File) WriteBytes(off uint64, p []byte) error {
	return f.write(1, off, p)
}

func (f *File) ReadU8(off uint64) (uint8, error) {
	var b [1]byte
	if err := f.read(1, off, b[:]); err != nil {
		return 0, err
	}

	return b[0], nil
}

func (f *File) ReadU16(off uint64) (uint16, error) {
	var b [2]byte
	if err := f.read(2, off, b[:]); err != nil {
		return 0, err
	}

	return le.Uint16(b[:]), nil
}

func (f *File) ReadU32(off uint64) (uint32, error) {
	var b [4]byte
	if err := f.read(4, off, b[:]); err != nil {
		return 0, err
	}

	return le.Uint32(b[:]), nil
}

func (f *File) WriteU8(off uint64, v uint8) error {
	return f.write(1, off, []byte{v})
}

func (f *File) WriteU16(off uint64, v uint16) error {
	return f.write(2, off, le.AppendUint16(nil, v))
}

func (f *File) WriteU32(off uint64, v uint32) error {
	return f.write(4, off, le.AppendUint32(nil, v))
}
