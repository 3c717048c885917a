//go:build linux

package pci

import (
	"encoding/binary"
	"fmt"

	"github.com/c35s/pcidrv/region"
	"github.com/c35s/pcidrv/vfio"
	"golang.org/x/sys/unix"
)

// InterruptKind is an interrupt mechanism. Its value is the VFIO IRQ index.
type InterruptKind int

const (
	INTx InterruptKind = vfio.PCIINTxIRQIndex
	MSI  InterruptKind = vfio.PCIMSIIRQIndex
	MSIX InterruptKind = vfio.PCIMSIXIRQIndex
)

func (k InterruptKind) String() string {
	switch k {
	case INTx:
		return "INTx"
	case MSI:
		return "MSI"
	case MSIX:
		return "MSI-X"
	}

	return fmt.Sprintf("InterruptKind(%d)", int(k))
}

// Interrupts controls one of a device's interrupt mechanisms.
type Interrupts struct {
	d    *Device
	kind InterruptKind
}

// Interrupts returns the device's interrupts of a kind.
func (d *Device) Interrupts(kind InterruptKind) Interrupts {
	return Interrupts{d: d, kind: kind}
}

func (i Interrupts) Kind() InterruptKind {
	return i.kind
}

// Max returns the number of vectors the device supports.
func (i Interrupts) Max() int {
	if i.kind < 0 || int(i.kind) >= len(i.d.maxIRQs) {
		return 0
	}

	return i.d.maxIRQs[i.kind]
}

// Enable enables vectors [0, len(eventfds)) and routes vector n to
// eventfds[n]. An eventfd of -1 leaves its vector unrouted.
func (i Interrupts) Enable(eventfds ...int) error {
	if len(eventfds) == 0 {
		return fmt.Errorf("%w: %w: enable %v: no eventfds", ErrIRQ, region.ErrInvalidInput, i.kind)
	}

	if n := i.Max(); len(eventfds) > n {
		return fmt.Errorf("%w: %w: enable %v: %d vectors, device supports %d", ErrIRQ, region.ErrInvalidInput, i.kind, len(eventfds), n)
	}

	data := make([]int32, len(eventfds))
	for n, fd := range eventfds {
		data[n] = int32(fd)
	}

	flags := uint32(vfio.IRQSetDataEventFD | vfio.IRQSetActionTrigger)
	if err := vfio.SetIRQs(i.d.file, flags, uint32(i.kind), 0, uint32(len(data)), data); err != nil {
		return fmt.Errorf("%w: %w: enable %v: %w", ErrIRQ, region.ErrDeviceIO, i.kind, err)
	}

	return nil
}

// Disable disables every vector.
func (i Interrupts) Disable() error {
	if i.Max() == 0 {
		return fmt.Errorf("%w: %w: disable %v: not supported", ErrIRQ, region.ErrInvalidInput, i.kind)
	}

	flags := uint32(vfio.IRQSetDataNone | vfio.IRQSetActionTrigger)
	if err := vfio.SetIRQs(i.d.file, flags, uint32(i.kind), 0, 0, nil); err != nil {
		return fmt.Errorf("%w: %w: disable %v: %w", ErrIRQ, region.ErrDeviceIO, i.kind, err)
	}

	return nil
}

// Trigger signals an enabled vector's eventfd as if the device had raised
// the interrupt.
func (i Interrupts) Trigger(vector int) error {
	if vector < 0 || vector >= i.Max() {
		return fmt.Errorf("%w: %w: trigger %v vector %d: device supports %d", ErrIRQ, region.ErrInvalidInput, i.kind, vector, i.Max())
	}

	flags := uint32(vfio.IRQSetDataNone | vfio.IRQSetActionTrigger)
	if err := vfio.SetIRQs(i.d.file, flags, uint32(i.kind), uint32(vector), 1, nil); err != nil {
		return fmt.Errorf("%w: %w: trigger %v vector %d: %w", ErrIRQ, region.ErrDeviceIO, i.kind, vector, err)
	}

	return nil
}

// EventFD is a Linux eventfd, the kernel's way of delivering interrupts to
// user space.
type EventFD struct {
	fd int
}

// NewEventFD returns a new eventfd with a count of zero.
func NewEventFD() (*EventFD, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		return nil, err
	}

	return &EventFD{fd: fd}, nil
}

func (e *EventFD) Fd() int {
	return e.fd
}

// Read blocks until the count is nonzero, then returns it and resets it to
// zero.
func (e *EventFD) Read() (uint64, error) {
	var b [8]byte
	if _, err := unix.Read(e.fd, b[:]); err != nil {
		return 0, err
	}

	return binary.NativeEndian.Uint64(b[:]), nil
}

// Signal adds n to the count.
func (e *EventFD) Signal(n uint64) error {
	b := binary.NativeEndian.AppendUint64(nil, n)
	if _, err := unix.Write(e.fd, b); err != nil {
		return err
	}

	return nil
}

func (e *EventFD) Close() error {
	return unix.Close(e.fd)
}
