//go:build linux

// vfio-print-iommu prints information about the VFIO API, its extensions,
// and the IOMMU geometry of a set of groups.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/c35s/pcidrv/iommu"
	"github.com/c35s/pcidrv/pci"
	"github.com/c35s/pcidrv/vfio"
	"golang.org/x/term"
)

func main() {

	var (
		groups  = flag.String("groups", "", "attach comma-separated IOMMU `groups` and print their geometry")
		device  = flag.String("device", "", "attach the group of the device at sysfs `path`")
		noIOMMU = flag.Bool("noiommu", false, "open the groups in no-IOMMU mode")
		verbose = flag.Bool("v", false, "log debug messages")
	)

	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	sys, err := vfio.OpenContainer()
	if err != nil {
		panic(err)
	}

	version, err := vfio.GetAPIVersion(sys)
	if err != nil {
		panic(err)
	}

	fmt.Printf("VFIO API version: %d\n", version)

	fmt.Println("\n# extensions")
	for _, ext := range vfio.AllExtensions() {
		v, err := vfio.CheckExtension(sys, ext)
		if err != nil {
			panic(err)
		}

		fmt.Printf("%v: %v\n", ext, v)
	}

	if err := sys.Close(); err != nil {
		panic(err)
	}

	nums, err := parseGroups(*groups)
	if err != nil {
		panic(err)
	}

	if *device != "" {
		n, err := pci.Group(*device)
		if err != nil {
			panic(err)
		}

		nums = append(nums, n)
	}

	if len(nums) == 0 {
		return
	}

	c, err := iommu.Open(iommu.Config{Groups: nums, NoIOMMU: *noIOMMU})
	if err != nil {
		panic(err)
	}

	defer c.Close()

	out := io.Writer(os.Stdout)
	if term.IsTerminal(int(os.Stdout.Fd())) {
		tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', tabwriter.AlignRight)
		defer tw.Flush()
		out = tw
	}

	fmt.Fprintf(out, "\n# container\n")
	fmt.Fprintf(out, "groups:\t%v\t\n", c.Groups())
	fmt.Fprintf(out, "alignment:\t%#x\t\n", c.Alignment())

	switch n, err := c.MaxMappings(); {
	case errors.Is(err, errors.ErrUnsupported):
		fmt.Fprintf(out, "max mappings:\tunknown\t\n")
	case err != nil:
		panic(err)
	default:
		fmt.Fprintf(out, "max mappings:\t%d\t\n", n)
	}

	fmt.Fprintf(out, "\n# valid IOVA ranges\n")
	for _, r := range c.ValidIOVARanges() {
		fmt.Fprintf(out, "%#x\t%#x\t%#x\t\n", r.Start, r.End, r.Len())
	}
}

func parseGroups(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}

	var nums []int
	for _, f := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("bad group %q: %w", f, err)
		}

		nums = append(nums, n)
	}

	return nums, nil
}
