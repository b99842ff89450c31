// Package types defines the persisted and in-memory entity structs of
// the XSAN storage core, per spec.md §3.
package types

import (
	"time"

	"github.com/google/uuid"
)

// NodeState is the lifecycle state of a cluster participant.
type NodeState string

const (
	NodeStateUnknown        NodeState = "unknown"
	NodeStateInitializing   NodeState = "initializing"
	NodeStateActive         NodeState = "active"
	NodeStateMaintenance    NodeState = "maintenance"
	NodeStateFailed         NodeState = "failed"
	NodeStateDecommissioned NodeState = "decommissioned"
)

// Node is a cluster participant, produced from the configured seed
// list at startup.
type Node struct {
	ID             uuid.UUID `json:"id"`
	Hostname       string    `json:"hostname"`
	MgmtIP         string    `json:"mgmt_ip"`
	MgmtPort       uint16    `json:"mgmt_port"`
	StorageIP      string    `json:"storage_ip"`
	StoragePort    uint16    `json:"storage_port"`
	State          NodeState `json:"state"`
}

// BlockDeviceInfo describes a reactor-managed block device, bound to
// the lifetime of the reactor substrate (spec.md §3).
type BlockDeviceInfo struct {
	Name              string `json:"name"`
	UUID              string `json:"uuid"`
	LogicalBlockSize  uint32 `json:"logical_block_size"`
	BlockCount        uint64 `json:"block_count"`
	ProductName       string `json:"product_name"`
	Rotational        bool   `json:"rotational"`
	OptimalIOBoundary uint32 `json:"optimal_io_boundary"`
	WriteCache        bool   `json:"write_cache"`
}

// CapacityBytes returns BlockCount * LogicalBlockSize.
func (b BlockDeviceInfo) CapacityBytes() uint64 {
	return b.BlockCount * uint64(b.LogicalBlockSize)
}

// DiskType classifies the backing device technology.
type DiskType string

const (
	DiskTypeUnknown  DiskType = "unknown"
	DiskTypeNVMeSSD  DiskType = "nvme-ssd"
	DiskTypeSATASSD  DiskType = "sata-ssd"
	DiskTypeSASSSD   DiskType = "sas-ssd"
	DiskTypeHDDSATA  DiskType = "hdd-sata"
	DiskTypeHDDSAS   DiskType = "hdd-sas"
	DiskTypeOtherSSD DiskType = "other-ssd"
	DiskTypeOtherHDD DiskType = "other-hdd"
)

// DiskState is the lifecycle state of a Disk record.
type DiskState string

const (
	DiskStateUnknown      DiskState = "unknown"
	DiskStateInitializing DiskState = "initializing"
	DiskStateOnline       DiskState = "online"
	DiskStateOffline      DiskState = "offline"
	DiskStateDegraded     DiskState = "degraded"
	DiskStateFailed       DiskState = "failed"
	DiskStateMissing      DiskState = "missing"
	DiskStateRebuilding   DiskState = "rebuilding"
	DiskStateMaintenance  DiskState = "maintenance"
)

// ZeroUUID is the sentinel "unassigned" group id, per spec.md §3.
var ZeroUUID uuid.UUID

// Disk is the XSAN record wrapping one block device with identity and
// state (spec.md §3).
type Disk struct {
	ID            uuid.UUID `json:"id"`
	BdevName      string    `json:"bdev_name"`
	BdevUUID      string    `json:"bdev_uuid"`
	GroupID       uuid.UUID `json:"group_id"`
	Type          DiskType  `json:"type"`
	State         DiskState `json:"state"`
	CapacityBytes uint64    `json:"capacity_bytes"`
	BlockSize     uint32    `json:"block_size"`
}

// Assigned reports whether the disk currently belongs to a disk group.
func (d *Disk) Assigned() bool {
	return d.GroupID != ZeroUUID
}

// DiskGroupType is the pooling strategy of a disk group.
type DiskGroupType string

const (
	DiskGroupTypeUndefined  DiskGroupType = "undefined"
	DiskGroupTypePassthrough DiskGroupType = "passthrough"
	DiskGroupTypeJBOD       DiskGroupType = "jbod"
)

// DiskGroupState is the lifecycle state of a disk group.
type DiskGroupState string

const (
	DiskGroupStateUnknown DiskGroupState = "unknown"
	DiskGroupStateOnline  DiskGroupState = "online"
	DiskGroupStateDegraded DiskGroupState = "degraded"
	DiskGroupStateFailed  DiskGroupState = "failed"
)

// DiskGroup is a logical pool built from one or more disks (spec.md §3).
type DiskGroup struct {
	ID                  uuid.UUID      `json:"id"`
	Name                string         `json:"name"`
	Type                DiskGroupType  `json:"type"`
	State               DiskGroupState `json:"state"`
	DiskIDs             []uuid.UUID    `json:"disk_ids"`
	RawCapacityBytes    uint64         `json:"raw_capacity_bytes"`
	UsableCapacityBytes uint64         `json:"usable_capacity_bytes"`
	AllocatedBytes      uint64         `json:"allocated_bytes"`
	NextAllocBlock      uint64         `json:"next_alloc_block"`
	LogicalBlockSize    uint32         `json:"logical_block_size"`

	// DiskCursors tracks the bump-pointer allocation cursor per member
	// disk (keyed by disk id string), generalizing NextAllocBlock to
	// JBOD groups that span more than one disk.
	DiskCursors map[string]uint64 `json:"disk_cursors,omitempty"`
}

// DiskCount returns the number of member disks.
func (g *DiskGroup) DiskCount() int { return len(g.DiskIDs) }

// DiskCursor returns the bump-pointer allocation cursor (in disk-native
// blocks already handed out) for the given member disk.
func (g *DiskGroup) DiskCursor(diskID uuid.UUID) uint64 {
	if g.DiskCursors == nil {
		return 0
	}
	return g.DiskCursors[diskID.String()]
}

// SetDiskCursor updates the bump-pointer allocation cursor for a member disk.
func (g *DiskGroup) SetDiskCursor(diskID uuid.UUID, blocks uint64) {
	if g.DiskCursors == nil {
		g.DiskCursors = make(map[string]uint64)
	}
	g.DiskCursors[diskID.String()] = blocks
}

// VolumeState is the lifecycle state of a Volume.
type VolumeState string

const (
	VolumeStateUnknown  VolumeState = "unknown"
	VolumeStateCreating VolumeState = "creating"
	VolumeStateOnline   VolumeState = "online"
	VolumeStateDegraded VolumeState = "degraded"
	VolumeStateFailed   VolumeState = "failed"
	VolumeStateDeleting VolumeState = "deleting"
)

// ReplicaState is the health of one row in a volume's replica-location
// table.
type ReplicaState string

const (
	ReplicaStateUnknown ReplicaState = "unknown"
	ReplicaStateOnline  ReplicaState = "online"
	ReplicaStateOffline ReplicaState = "offline"
	ReplicaStateSyncing ReplicaState = "syncing"
)

// ReplicaLocation is one row of a volume's ordered replica-location
// table. Row 0 is always the primary/local replica.
type ReplicaLocation struct {
	NodeID         uuid.UUID    `json:"node_id"`
	IP             string       `json:"ip"`
	Port           uint16       `json:"port"`
	State          ReplicaState `json:"state"`
	LastContactUTC time.Time    `json:"last_contact_utc"`
}

// Volume is the logical block device presented externally (spec.md §3).
type Volume struct {
	ID                uuid.UUID         `json:"id"`
	Name              string            `json:"name"`
	SizeBytes         uint64            `json:"size_bytes"`
	LogicalBlockSize  uint32            `json:"logical_block_size"`
	GroupID           uuid.UUID         `json:"group_id"`
	Thin              bool              `json:"thin"`
	AllocatedBytes    uint64            `json:"allocated_bytes"`
	State             VolumeState       `json:"state"`
	FTT               uint32            `json:"ftt"`
	ReplicaCount      uint32            `json:"replica_count"`
	Replicas          []ReplicaLocation `json:"replicas"`
	CreatedAt         time.Time         `json:"created_at"`
}

// BlockCount returns SizeBytes / LogicalBlockSize.
func (v *Volume) BlockCount() uint64 {
	if v.LogicalBlockSize == 0 {
		return 0
	}
	return v.SizeBytes / uint64(v.LogicalBlockSize)
}

// Extent is a contiguous range of physical blocks on one disk, mapped
// to a contiguous range of a volume's logical blocks (spec.md §3).
type Extent struct {
	DiskID              uuid.UUID `json:"disk_id"`
	StartBlockOnDisk    uint64    `json:"start_block_on_disk"`
	BlockCountOnDisk    uint64    `json:"block_count_on_disk"`
	VolumeStartLBA      uint64    `json:"volume_start_lba"`
}

// AllocationMap is the persisted extent list for one volume (spec.md
// §3), keyed separately from the Volume record itself.
type AllocationMap struct {
	VolumeID             uuid.UUID `json:"volume_id"`
	VolumeLogicalBlockSize uint32  `json:"volume_logical_block_size"`
	Extents              []Extent `json:"extents"`
}

// IsPowerOfTwo reports whether n is a nonzero power of two.
func IsPowerOfTwo(n uint32) bool {
	return n != 0 && n&(n-1) == 0
}
