package diskmgr

import (
	"github.com/google/uuid"

	"github.com/aivoyager8/xsan/internal/metrics"
	"github.com/aivoyager8/xsan/internal/types"
	"github.com/aivoyager8/xsan/internal/xerrors"
)

// maxExtentsPerVolume bounds how many contributing disks a single
// allocation may span, matching spec.md §4.3's "extent-per-volume cap."
const maxExtentsPerVolume = 32

// AllocateExtents implements spec.md §4.3's allocate_extents: a
// bump-pointer allocator walking member disks in declared order,
// emitting one extent per contributing disk.
func (m *Manager) AllocateExtents(groupID uuid.UUID, blocksNeeded uint64, volumeLogicalBlockSize uint32) ([]types.Extent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	group, ok := m.groups[groupID]
	if !ok {
		metrics.ExtentAllocationsTotal.WithLabelValues("group-not-found").Inc()
		return nil, xerrors.Newf(xerrors.KindDeviceNotFound, "disk group %s not found", groupID)
	}
	if group.LogicalBlockSize == 0 {
		metrics.ExtentAllocationsTotal.WithLabelValues("invalid-group").Inc()
		return nil, xerrors.New(xerrors.KindInvalidParam, "disk group has zero logical block size")
	}

	groupBlocksNeeded := blocksNeeded * uint64(volumeLogicalBlockSize) / uint64(group.LogicalBlockSize)
	if blocksNeeded*uint64(volumeLogicalBlockSize)%uint64(group.LogicalBlockSize) != 0 {
		groupBlocksNeeded++
	}

	var extents []types.Extent
	remaining := groupBlocksNeeded
	var volumeStartLBA uint64

	for _, diskID := range group.DiskIDs {
		if remaining == 0 {
			break
		}
		if len(extents) >= maxExtentsPerVolume {
			break
		}
		disk, ok := m.disks[diskID]
		if !ok {
			continue
		}
		capacityBlocks := disk.CapacityBytes / uint64(disk.BlockSize)
		free := freeBlocks(group, diskID, capacityBlocks)
		if free == 0 {
			continue
		}

		take := free
		if take > remaining {
			take = remaining
		}

		extents = append(extents, types.Extent{
			DiskID:           diskID,
			StartBlockOnDisk: capacityBlocks - free,
			BlockCountOnDisk: take,
			VolumeStartLBA:   volumeStartLBA,
		})

		blocksInVolumeUnits := take * uint64(group.LogicalBlockSize) / uint64(volumeLogicalBlockSize)
		volumeStartLBA += blocksInVolumeUnits
		remaining -= take
		advanceCursor(group, diskID, take)
	}

	if remaining > 0 {
		metrics.ExtentAllocationsTotal.WithLabelValues("insufficient-space").Inc()
		for _, e := range extents {
			rewindCursor(group, e.DiskID, e.BlockCountOnDisk)
		}
		return nil, xerrors.New(xerrors.KindInsufficientSpace, "not enough free space across group members")
	}

	group.AllocatedBytes += groupBlocksNeeded * uint64(group.LogicalBlockSize)
	if err := m.persistGroupLocked(group); err != nil {
		metrics.ExtentAllocationsTotal.WithLabelValues("persist-error").Inc()
		return nil, err
	}
	metrics.ExtentAllocationsTotal.WithLabelValues("ok").Inc()
	m.refreshGaugesLocked()
	return extents, nil
}

// FreeExtents implements spec.md §4.3's free_extents: bump-pointer
// allocators cannot reclaim freed space for reuse until a coalescing
// allocator exists (see the Open Question this motivates), so this
// only decrements the group's allocated-bytes counter.
func (m *Manager) FreeExtents(groupID uuid.UUID, extents []types.Extent, volumeLogicalBlockSize uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	group, ok := m.groups[groupID]
	if !ok {
		return xerrors.Newf(xerrors.KindDeviceNotFound, "disk group %s not found", groupID)
	}

	var freedGroupBlocks uint64
	for _, e := range extents {
		freedGroupBlocks += e.BlockCountOnDisk
	}
	freedBytes := freedGroupBlocks * uint64(group.LogicalBlockSize)
	if freedBytes > group.AllocatedBytes {
		group.AllocatedBytes = 0
	} else {
		group.AllocatedBytes -= freedBytes
	}

	if err := m.persistGroupLocked(group); err != nil {
		return err
	}
	m.refreshGaugesLocked()
	return nil
}

func freeBlocks(g *types.DiskGroup, diskID uuid.UUID, capacityBlocks uint64) uint64 {
	used := g.DiskCursor(diskID)
	if used >= capacityBlocks {
		return 0
	}
	return capacityBlocks - used
}

func advanceCursor(g *types.DiskGroup, diskID uuid.UUID, n uint64) {
	g.SetDiskCursor(diskID, g.DiskCursor(diskID)+n)
}

func rewindCursor(g *types.DiskGroup, diskID uuid.UUID, n uint64) {
	cur := g.DiskCursor(diskID)
	if n > cur {
		n = cur
	}
	g.SetDiskCursor(diskID, cur-n)
}
