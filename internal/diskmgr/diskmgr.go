// Package diskmgr is the disk and disk-group manager (spec.md §4.3):
// it reconciles live block devices with persisted disk/disk-group
// records and allocates/frees contiguous extent sets from groups.
package diskmgr

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aivoyager8/xsan/internal/bdev"
	"github.com/aivoyager8/xsan/internal/log"
	"github.com/aivoyager8/xsan/internal/metastore"
	"github.com/aivoyager8/xsan/internal/metrics"
	"github.com/aivoyager8/xsan/internal/types"
	"github.com/aivoyager8/xsan/internal/xerrors"
)

// Manager is the singleton disk/disk-group manager.
type Manager struct {
	mu     sync.Mutex
	store  *metastore.Store
	bdevs  *bdev.Layer
	logger zerolog.Logger

	disks  map[uuid.UUID]*types.Disk
	groups map[uuid.UUID]*types.DiskGroup
}

// New constructs a manager bound to store and bdevs but does not yet
// load state; call Load to run the startup scan-and-reconcile pass.
func New(store *metastore.Store, bdevs *bdev.Layer) *Manager {
	return &Manager{
		store:  store,
		bdevs:  bdevs,
		logger: log.WithComponent("diskmgr"),
		disks:  make(map[uuid.UUID]*types.Disk),
		groups: make(map[uuid.UUID]*types.DiskGroup),
	}
}

// Load runs the startup sequence from spec.md §4.3: load every "d:"
// and "g:" record, reconstruct in-memory lists, then scan-and-reconcile
// against the block device layer.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	diskBlobs, err := m.store.ScanPrefix(metastore.PrefixDisk)
	if err != nil {
		return xerrors.Wrap(xerrors.KindSystem, "load disk records", err)
	}
	for _, blob := range diskBlobs {
		var d types.Disk
		if err := json.Unmarshal(blob, &d); err != nil {
			return xerrors.Wrap(xerrors.KindSystem, "decode disk record", err)
		}
		disk := d
		m.disks[disk.ID] = &disk
	}

	groupBlobs, err := m.store.ScanPrefix(metastore.PrefixGroup)
	if err != nil {
		return xerrors.Wrap(xerrors.KindSystem, "load disk group records", err)
	}
	for _, blob := range groupBlobs {
		var g types.DiskGroup
		if err := json.Unmarshal(blob, &g); err != nil {
			return xerrors.Wrap(xerrors.KindSystem, "decode disk group record", err)
		}
		group := g
		m.groups[group.ID] = &group
	}

	return m.reconcileLocked()
}

// reconcileLocked implements the scan-and-reconcile pass: create
// records for newly observed devices, mark loaded-but-vanished disks
// missing, and refresh volatile attributes for matches. Caller must
// hold m.mu.
func (m *Manager) reconcileLocked() error {
	seen := make(map[string]bool)

	for _, info := range m.bdevs.Enumerate() {
		seen[info.Name] = true

		existing := m.findByBdevNameLocked(info.Name)
		if existing == nil {
			disk := &types.Disk{
				ID:            uuid.New(),
				BdevName:      info.Name,
				BdevUUID:      info.UUID,
				GroupID:       types.ZeroUUID,
				Type:          types.DiskTypeUnknown,
				State:         types.DiskStateOnline,
				CapacityBytes: info.CapacityBytes(),
				BlockSize:     info.LogicalBlockSize,
			}
			m.disks[disk.ID] = disk
			if err := m.persistDiskLocked(disk); err != nil {
				return err
			}
			m.logger.Info().Str("bdev", info.Name).Str("disk_id", disk.ID.String()).Msg("discovered new block device")
			continue
		}

		existing.CapacityBytes = info.CapacityBytes()
		existing.BlockSize = info.LogicalBlockSize
		if existing.State == types.DiskStateMissing {
			existing.State = types.DiskStateOnline
		}
		if err := m.persistDiskLocked(existing); err != nil {
			return err
		}
	}

	for _, d := range m.disks {
		if !seen[d.BdevName] && d.State != types.DiskStateMissing {
			d.State = types.DiskStateMissing
			if err := m.persistDiskLocked(d); err != nil {
				return err
			}
			m.logger.Warn().Str("disk_id", d.ID.String()).Str("bdev", d.BdevName).Msg("backing block device missing")
		}
	}

	m.refreshGaugesLocked()
	return nil
}

func (m *Manager) findByBdevNameLocked(name string) *types.Disk {
	for _, d := range m.disks {
		if d.BdevName == name {
			return d
		}
	}
	return nil
}

func (m *Manager) refreshGaugesLocked() {
	counts := map[types.DiskState]float64{}
	for _, d := range m.disks {
		counts[d.State]++
	}
	for state, n := range counts {
		metrics.DisksTotal.WithLabelValues(string(state)).Set(n)
	}
	for _, g := range m.groups {
		metrics.DiskGroupAllocatedBytes.WithLabelValues(g.Name).Set(float64(g.AllocatedBytes))
		metrics.DiskGroupUsableBytes.WithLabelValues(g.Name).Set(float64(g.UsableCapacityBytes))
	}
}

func (m *Manager) persistDiskLocked(d *types.Disk) error {
	blob, err := json.Marshal(d)
	if err != nil {
		return xerrors.Wrap(xerrors.KindSystem, "marshal disk record", err)
	}
	return m.store.Put(metastore.KeyFor(metastore.PrefixDisk, d.ID.String()), blob)
}

func (m *Manager) persistGroupLocked(g *types.DiskGroup) error {
	blob, err := json.Marshal(g)
	if err != nil {
		return xerrors.Wrap(xerrors.KindSystem, "marshal disk group record", err)
	}
	return m.store.Put(metastore.KeyFor(metastore.PrefixGroup, g.ID.String()), blob)
}

// GetDisk returns a defensive copy of a disk by id; mutating the
// result has no effect on manager state (spec.md §4.3's "do not
// transfer ownership").
func (m *Manager) GetDisk(id uuid.UUID) (*types.Disk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.disks[id]
	if !ok {
		return nil, xerrors.Newf(xerrors.KindDeviceNotFound, "disk %s not found", id)
	}
	return cloneDisk(d), nil
}

// ListDisks returns a snapshot slice of defensive copies of all known disks.
func (m *Manager) ListDisks() []*types.Disk {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Disk, 0, len(m.disks))
	for _, d := range m.disks {
		out = append(out, cloneDisk(d))
	}
	return out
}

// GetGroup returns a defensive copy of a disk group by id.
func (m *Manager) GetGroup(id uuid.UUID) (*types.DiskGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, xerrors.Newf(xerrors.KindDeviceNotFound, "disk group %s not found", id)
	}
	return cloneGroup(g), nil
}

// ListGroups returns a snapshot slice of defensive copies of all known disk groups.
func (m *Manager) ListGroups() []*types.DiskGroup {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.DiskGroup, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, cloneGroup(g))
	}
	return out
}

// cloneDisk returns a copy of d; types.Disk has no reference fields so
// a value copy already severs aliasing.
func cloneDisk(d *types.Disk) *types.Disk {
	cp := *d
	return &cp
}

// cloneGroup returns a copy of g with its slice and map fields copied
// too, so a caller mutating the result cannot reach the manager's
// internal DiskGroup.
func cloneGroup(g *types.DiskGroup) *types.DiskGroup {
	cp := *g
	if g.DiskIDs != nil {
		cp.DiskIDs = append([]uuid.UUID(nil), g.DiskIDs...)
	}
	if g.DiskCursors != nil {
		cp.DiskCursors = make(map[string]uint64, len(g.DiskCursors))
		for k, v := range g.DiskCursors {
			cp.DiskCursors[k] = v
		}
	}
	return &cp
}

func (m *Manager) findGroupByNameLocked(name string) *types.DiskGroup {
	for _, g := range m.groups {
		if g.Name == name {
			return g
		}
	}
	return nil
}

// CreateGroupInput is the input to CreateGroup.
type CreateGroupInput struct {
	Name        string
	Type        types.DiskGroupType
	MemberNames []string
}

// CreateGroup implements spec.md §4.3's disk group create operation.
func (m *Manager) CreateGroup(in CreateGroupInput) (*types.DiskGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findGroupByNameLocked(in.Name) != nil {
		return nil, xerrors.Newf(xerrors.KindVolumeExists, "disk group %q already exists", in.Name)
	}
	if len(in.MemberNames) == 0 {
		return nil, xerrors.New(xerrors.KindInvalidParam, "disk group requires at least one member disk")
	}

	members := make([]*types.Disk, 0, len(in.MemberNames))
	for _, name := range in.MemberNames {
		d := m.findByBdevNameLocked(name)
		if d == nil {
			return nil, xerrors.Newf(xerrors.KindDeviceNotFound, "member disk %q not found", name)
		}
		if d.State != types.DiskStateOnline {
			return nil, xerrors.Newf(xerrors.KindDeviceFailed, "member disk %q is not online", name)
		}
		if d.Assigned() {
			return nil, xerrors.Newf(xerrors.KindVolumeBusy, "member disk %q is already assigned to a group", name)
		}
		members = append(members, d)
	}

	group := &types.DiskGroup{
		ID:    uuid.New(),
		Name:  in.Name,
		Type:  in.Type,
		State: types.DiskGroupStateOnline,
	}

	minBlockSize := uint32(0)
	for _, d := range members {
		group.RawCapacityBytes += d.CapacityBytes
		group.DiskIDs = append(group.DiskIDs, d.ID)
		if minBlockSize == 0 || d.BlockSize < minBlockSize {
			minBlockSize = d.BlockSize
		}
	}
	group.UsableCapacityBytes = group.RawCapacityBytes
	group.LogicalBlockSize = minBlockSize

	if err := m.persistGroupLocked(group); err != nil {
		return nil, err
	}
	for _, d := range members {
		d.GroupID = group.ID
		if err := m.persistDiskLocked(d); err != nil {
			return nil, err
		}
	}

	m.groups[group.ID] = group
	m.refreshGaugesLocked()
	m.logger.Info().Str("group", group.Name).Str("group_id", group.ID.String()).Int("members", len(members)).Msg("disk group created")
	return group, nil
}

// DeleteGroup implements spec.md §4.3's disk group delete operation.
// The caller is responsible for checking via the volume manager that
// no volume still references the group.
func (m *Manager) DeleteGroup(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	group, ok := m.groups[id]
	if !ok {
		return xerrors.Newf(xerrors.KindDeviceNotFound, "disk group %s not found", id)
	}

	for _, diskID := range group.DiskIDs {
		d, ok := m.disks[diskID]
		if !ok {
			continue
		}
		d.GroupID = types.ZeroUUID
		if err := m.persistDiskLocked(d); err != nil {
			return err
		}
	}

	if err := m.store.Delete(metastore.KeyFor(metastore.PrefixGroup, id.String())); err != nil {
		return xerrors.Wrap(xerrors.KindSystem, "delete disk group record", err)
	}
	delete(m.groups, id)
	m.refreshGaugesLocked()
	return nil
}
