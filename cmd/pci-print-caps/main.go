// pci-print-caps prints the capabilities of the host's PCI devices.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"text/tabwriter"

	"github.com/c35s/pcidrv/config"
	"github.com/c35s/pcidrv/pci"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

// device is what we learned about one device.
type device struct {
	addr   string
	driver string
	id     string
	class  string
	caps   []config.Capability
	ext    []config.ExtendedCapability
	err    error
}

func main() {

	var (
		root    = flag.String("sysfs", pci.SysfsDevices, "read devices from `dir`")
		jobs    = flag.Int("j", runtime.NumCPU(), "read up to `n` devices at once")
		verbose = flag.Bool("v", false, "log debug messages")
	)

	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	paths, err := pci.Devices(*root)
	if err != nil {
		panic(err)
	}

	if flag.NArg() > 0 {
		paths = filter(paths, flag.Args())
	}

	devs := make([]device, len(paths))

	var eg errgroup.Group
	eg.SetLimit(max(*jobs, 1))

	for i, path := range paths {
		i, path := i, path
		eg.Go(func() error {
			devs[i] = scan(path)
			return nil
		})
	}

	eg.Wait()

	out := io.Writer(os.Stdout)
	if term.IsTerminal(int(os.Stdout.Fd())) {
		tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		defer tw.Flush()
		out = tw
	}

	for _, d := range devs {
		printDevice(out, d)
	}
}

// filter keeps the paths whose device address is in addrs.
func filter(paths, addrs []string) []string {
	want := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		want[a] = true
	}

	var keep []string
	for _, p := range paths {
		if a, err := pci.Address(p); err == nil && want[a] {
			keep = append(keep, p)
		}
	}

	return keep
}

func scan(path string) (d device) {
	addr, err := pci.Address(path)
	if err != nil {
		return device{addr: path, err: err}
	}

	d.addr = addr
	defer func() {
		if d.err != nil {
			slog.Debug("scan failed", "addr", addr, "error", d.err)
		}
	}()

	if d.driver, err = pci.Driver(path); err != nil {
		d.err = err
		return
	}

	c, err := pci.OpenSysfsConfig(path, false)
	if err != nil {
		d.err = err
		return
	}

	defer c.Close()

	vid, err := c.VendorID().Read()
	if err != nil {
		d.err = err
		return
	}

	did, err := c.DeviceID().Read()
	if err != nil {
		d.err = err
		return
	}

	d.id = fmt.Sprintf("%04x:%04x", vid, did)

	var class [3]uint8
	for i, r := range []func() (uint8, error){
		c.ClassCode().BaseClass().Read,
		c.ClassCode().SubClass().Read,
		c.ClassCode().ProgrammingInterface().Read,
	} {
		if class[i], err = r(); err != nil {
			d.err = err
			return
		}
	}

	d.class = fmt.Sprintf("%02x%02x%02x", class[0], class[1], class[2])

	// unprivileged readers see only the standard header
	if c.Region().Len() < 0x100 {
		slog.Debug("capabilities not readable", "addr", addr, "len", c.Region().Len())
		return d
	}

	if d.caps, d.err = c.Capabilities(); d.err != nil {
		return
	}

	// conventional PCI devices have no extended space
	if c.Region().Len() >= 0x1000 {
		d.ext, d.err = c.ExtendedCapabilities()
	}

	return d
}

func printDevice(w io.Writer, d device) {
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.addr, d.id, d.class, d.driver)

	for _, c := range d.caps {
		fmt.Fprintf(w, "\t%#02x\t%s\n", c.Offset, config.CapabilityName(c.ID))
	}

	for _, c := range d.ext {
		fmt.Fprintf(w, "\t%#03x\t%s v%d\n", c.Offset, config.ExtendedCapabilityName(c.ID), c.Version)
	}

	if d.err != nil {
		fmt.Fprintf(w, "\terror\t%v\n", d.err)
	}
}
