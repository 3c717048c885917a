//go:build linux

package pci

import (
	"fmt"

	"github.com/c35s/pcidrv/region"
	"golang.org/x/sync/errgroup"
)

// MapRegions maps each of the given BARs or ROM in full. Either every mapping
// succeeds or none is left behind.
func (d *Device) MapRegions(perms region.Permissions, ids ...region.ID) ([]*region.MappedRegion, error) {
	mrs := make([]*region.MappedRegion, len(ids))

	var eg errgroup.Group
	for i, id := range ids {
		i, id := i, id
		eg.Go(func() error {
			o, ok := d.owning(id)
			if !ok {
				return fmt.Errorf("%w: %s: no region %v", ErrRegion, d.addr, id)
			}

			defer o.Close()

			mr, err := o.Map(0, region.End, perms)
			if err != nil {
				return err
			}

			mrs[i] = mr
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		for _, mr := range mrs {
			if mr != nil {
				mr.Close()
			}
		}

		return nil, err
	}

	return mrs, nil
}

// MappableRegions returns the IDs of the BARs and ROM that can be mapped.
func (d *Device) MappableRegions() []region.ID {
	var ids []region.ID
	for i := range d.regions {
		if id := region.ID(i); d.mappable(id) {
			ids = append(ids, id)
		}
	}

	return ids
}
