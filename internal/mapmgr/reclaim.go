package mapmgr

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/efikit/memmap/internal/logfields"
	"github.com/efikit/memmap/pkg/descriptor"
)

// reclaimOrder lists the firmware-transient region types in the order
// firmware teardown produces them.
var reclaimOrder = []descriptor.Type{
	descriptor.BootServicesCode,
	descriptor.BootServicesData,
	descriptor.LoaderCode,
}

// ReclaimRegionType retypes every region of a firmware-transient type
// back to conventional memory and merges the result. Idempotent: a
// second call finds nothing to retype and the merge is a no-op.
func (m *Manager) ReclaimRegionType(from descriptor.Type) error {
	valid := false
	for _, t := range reclaimOrder {
		if from == t {
			valid = true
			break
		}
	}
	if !valid {
		return errors.Wrapf(ErrInvalidRegionType, "%s", from)
	}

	a, err := m.arena()
	if err != nil {
		return err
	}
	count := 0
	for i, n := 0, m.DescriptorCount(); i < n; i++ {
		v := a.At(i)
		if v.Type() == from {
			v.SetType(descriptor.Conventional)
			count++
		}
	}
	logrus.WithFields(logrus.Fields{
		logfields.RegionType: from.String(),
		logfields.Count:      count,
	}).Debug("memmap::ReclaimRegionType")

	return m.MergeFreeRegions()
}

// ReclaimFirmwareMemory reclaims all firmware-transient region types,
// for use once boot-time firmware services are torn down.
func (m *Manager) ReclaimFirmwareMemory() error {
	for _, t := range reclaimOrder {
		if err := m.ReclaimRegionType(t); err != nil {
			return err
		}
	}
	return nil
}
