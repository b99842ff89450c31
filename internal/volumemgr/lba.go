package volumemgr

import (
	"sort"

	"github.com/google/uuid"

	"github.com/aivoyager8/xsan/internal/diskmgr"
	"github.com/aivoyager8/xsan/internal/types"
	"github.com/aivoyager8/xsan/internal/xerrors"
)

// PhysicalBlock is the resolved target of a map_lba lookup (spec.md §4.4).
type PhysicalBlock struct {
	DiskID            uuid.UUID
	PhysicalBlock     uint64
	PhysicalBlockSize uint32
}

// MapLBA implements spec.md §4.4's map_lba: binary-search the
// allocation map's extents on volume-start-LBA, then translate to a
// physical block on the chosen extent's disk.
func MapLBA(disks *diskmgr.Manager, am *types.AllocationMap, vol *types.Volume, logicalBlock uint64) (PhysicalBlock, error) {
	extents := am.Extents
	idx := sort.Search(len(extents), func(i int) bool {
		return extents[i].VolumeStartLBA > logicalBlock
	}) - 1
	if idx < 0 || idx >= len(extents) {
		return PhysicalBlock{}, xerrors.Newf(xerrors.KindInvalidOffset, "logical block %d has no backing extent", logicalBlock)
	}

	extent := extents[idx]
	offsetIntoExtent := logicalBlock - extent.VolumeStartLBA

	disk, err := disks.GetDisk(extent.DiskID)
	if err != nil {
		return PhysicalBlock{}, err
	}
	if disk.BlockSize == 0 {
		return PhysicalBlock{}, xerrors.New(xerrors.KindInvalidParam, "backing disk has zero block size")
	}

	ratio := uint64(vol.LogicalBlockSize) / uint64(disk.BlockSize)
	if ratio == 0 {
		ratio = 1
	}
	physicalOffset := offsetIntoExtent * ratio
	physicalBlock := extent.StartBlockOnDisk + physicalOffset

	extentPhysicalBlocks := extent.BlockCountOnDisk
	if physicalOffset >= extentPhysicalBlocks {
		return PhysicalBlock{}, xerrors.Newf(xerrors.KindInvalidOffset,
			"logical block %d maps outside its extent's physical range", logicalBlock)
	}
	capacityBlocks := disk.CapacityBytes / uint64(disk.BlockSize)
	if physicalBlock >= capacityBlocks {
		return PhysicalBlock{}, xerrors.Newf(xerrors.KindInvalidOffset,
			"mapped physical block %d exceeds disk %s capacity", physicalBlock, disk.ID)
	}

	return PhysicalBlock{
		DiskID:            disk.ID,
		PhysicalBlock:     physicalBlock,
		PhysicalBlockSize: disk.BlockSize,
	}, nil
}
