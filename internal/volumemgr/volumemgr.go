// Package volumemgr is the volume manager (spec.md §4.4): volume
// create/delete, LBA→physical mapping, and the async read/write entry
// points that hand off to the I/O pipeline and replication
// coordinators.
package volumemgr

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aivoyager8/xsan/internal/diskmgr"
	"github.com/aivoyager8/xsan/internal/log"
	"github.com/aivoyager8/xsan/internal/metastore"
	"github.com/aivoyager8/xsan/internal/metrics"
	"github.com/aivoyager8/xsan/internal/types"
	"github.com/aivoyager8/xsan/internal/xerrors"
)

// MaxReplicaCount is the platform cap on actual replica count (spec.md
// §4.4's "min(FTT + 1, platform max, ...)").
const MaxReplicaCount = 5

// Manager is the singleton volume manager.
type Manager struct {
	mu      sync.Mutex
	store   *metastore.Store
	disks   *diskmgr.Manager
	logger  zerolog.Logger
	volumes map[uuid.UUID]*types.Volume
	maps    map[uuid.UUID]*types.AllocationMap
}

// New constructs a volume manager bound to the metadata store and disk
// manager. Call Load to run the startup state reconstruction.
func New(store *metastore.Store, disks *diskmgr.Manager) *Manager {
	return &Manager{
		store:   store,
		disks:   disks,
		logger:  log.WithComponent("volumemgr"),
		volumes: make(map[uuid.UUID]*types.Volume),
		maps:    make(map[uuid.UUID]*types.AllocationMap),
	}
}

// Load reconstructs in-memory state from persisted "v:" and "volmap:"
// records (spec.md §4.4). A volmap with no matching volume record is a
// crash artifact of create-volume's map-then-volume write order and is
// dropped rather than kept around.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	volBlobs, err := m.store.ScanPrefix(metastore.PrefixVolume)
	if err != nil {
		return xerrors.Wrap(xerrors.KindSystem, "load volume records", err)
	}
	for _, blob := range volBlobs {
		var v types.Volume
		if err := json.Unmarshal(blob, &v); err != nil {
			return xerrors.Wrap(xerrors.KindSystem, "decode volume record", err)
		}
		vol := v
		m.volumes[vol.ID] = &vol
	}

	mapBlobs, err := m.store.ScanPrefix(metastore.PrefixVolumeMap)
	if err != nil {
		return xerrors.Wrap(xerrors.KindSystem, "load allocation map records", err)
	}
	for _, blob := range mapBlobs {
		var am types.AllocationMap
		if err := json.Unmarshal(blob, &am); err != nil {
			return xerrors.Wrap(xerrors.KindSystem, "decode allocation map record", err)
		}
		if _, ok := m.volumes[am.VolumeID]; !ok {
			m.logger.Warn().Str("volume_id", am.VolumeID.String()).Msg("dropping orphaned allocation map with no matching volume")
			m.store.Delete(metastore.KeyFor(metastore.PrefixVolumeMap, am.VolumeID.String()))
			continue
		}
		alloc := am
		m.maps[alloc.VolumeID] = &alloc
	}

	metrics.VolumesTotal.Set(float64(len(m.volumes)))
	return nil
}

func (m *Manager) findByNameLocked(name string) *types.Volume {
	for _, v := range m.volumes {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// CreateVolumeInput is the input to CreateVolume.
type CreateVolumeInput struct {
	Name             string
	SizeBytes        uint64
	GroupID          uuid.UUID
	LogicalBlockSize uint32
	Thin             bool
	FTT              uint32
	KnownNodes       []types.Node
	LocalNodeID      uuid.UUID
}

// CreateVolume implements spec.md §4.4's create-volume sequence.
func (m *Manager) CreateVolume(in CreateVolumeInput) (*types.Volume, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findByNameLocked(in.Name) != nil {
		return nil, xerrors.Newf(xerrors.KindVolumeExists, "volume %q already exists", in.Name)
	}
	if in.SizeBytes == 0 {
		return nil, xerrors.New(xerrors.KindInvalidParam, "volume size must be > 0")
	}
	if in.LogicalBlockSize == 0 || !types.IsPowerOfTwo(in.LogicalBlockSize) || in.SizeBytes%uint64(in.LogicalBlockSize) != 0 {
		return nil, xerrors.New(xerrors.KindInvalidParam, "logical block size must be a power of two dividing size")
	}

	group, err := m.disks.GetGroup(in.GroupID)
	if err != nil {
		return nil, err
	}
	if group.State != types.DiskGroupStateOnline {
		return nil, xerrors.Newf(xerrors.KindDeviceFailed, "disk group %s is not online", in.GroupID)
	}
	if !in.Thin && in.SizeBytes > group.UsableCapacityBytes-group.AllocatedBytes {
		return nil, xerrors.New(xerrors.KindInsufficientSpace, "requested size exceeds group's remaining usable capacity")
	}

	replicaCount := in.FTT + 1
	if replicaCount > MaxReplicaCount {
		replicaCount = MaxReplicaCount
	}
	if usable := uint32(len(in.KnownNodes)); replicaCount > usable && usable > 0 {
		replicaCount = usable
	}
	if replicaCount == 0 {
		replicaCount = 1
	}

	vol := &types.Volume{
		ID:               uuid.New(),
		Name:             in.Name,
		SizeBytes:        in.SizeBytes,
		LogicalBlockSize: in.LogicalBlockSize,
		GroupID:          in.GroupID,
		Thin:             in.Thin,
		State:            types.VolumeStateCreating,
		FTT:              in.FTT,
		ReplicaCount:     replicaCount,
		CreatedAt:        time.Now().UTC(),
	}

	blockCount := vol.SizeBytes / uint64(vol.LogicalBlockSize)
	extents, err := m.disks.AllocateExtents(in.GroupID, blockCount, vol.LogicalBlockSize)
	if err != nil {
		return nil, err
	}
	vol.AllocatedBytes = vol.SizeBytes

	allocMap := &types.AllocationMap{
		VolumeID:               vol.ID,
		VolumeLogicalBlockSize: vol.LogicalBlockSize,
		Extents:                extents,
	}

	// map first, then volume: crash between the two leaves a stray map
	// that Load drops on next start (spec.md §4.4).
	mapBlob, err := json.Marshal(allocMap)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindSystem, "marshal allocation map", err)
	}
	if err := m.store.Put(metastore.KeyFor(metastore.PrefixVolumeMap, vol.ID.String()), mapBlob); err != nil {
		return nil, xerrors.Wrap(xerrors.KindSystem, "persist allocation map", err)
	}

	vol.Replicas = buildReplicaTable(in.KnownNodes, in.LocalNodeID, int(replicaCount))
	vol.State = types.VolumeStateOnline

	volBlob, err := json.Marshal(vol)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindSystem, "marshal volume record", err)
	}
	if err := m.store.Put(metastore.KeyFor(metastore.PrefixVolume, vol.ID.String()), volBlob); err != nil {
		return nil, xerrors.Wrap(xerrors.KindSystem, "persist volume record", err)
	}

	m.volumes[vol.ID] = vol
	m.maps[vol.ID] = allocMap
	metrics.VolumesTotal.Set(float64(len(m.volumes)))
	m.logger.Info().Str("volume", vol.Name).Str("volume_id", vol.ID.String()).Uint32("replicas", replicaCount).Msg("volume created")
	return vol, nil
}

// buildReplicaTable populates the replica-location table with row 0
// pointing at the local node (spec.md §4.4 step 5).
func buildReplicaTable(nodes []types.Node, localNodeID uuid.UUID, replicaCount int) []types.ReplicaLocation {
	var table []types.ReplicaLocation
	for _, n := range nodes {
		if n.ID == localNodeID {
			table = append(table, types.ReplicaLocation{
				NodeID: n.ID,
				IP:     n.StorageIP,
				Port:   n.StoragePort,
				State:  types.ReplicaStateOnline,
			})
			break
		}
	}
	for _, n := range nodes {
		if n.ID == localNodeID {
			continue
		}
		if len(table) >= replicaCount {
			break
		}
		table = append(table, types.ReplicaLocation{
			NodeID: n.ID,
			IP:     n.StorageIP,
			Port:   n.StoragePort,
			State:  types.ReplicaStateOnline,
		})
	}
	if len(table) > replicaCount {
		table = table[:replicaCount]
	}
	return table
}

// DeleteVolume implements spec.md §4.4's delete-volume sequence. The
// caller must have already confirmed no re-exporter references the
// volume (resource-busy is the re-exposer's concern, out of scope).
func (m *Manager) DeleteVolume(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	vol, ok := m.volumes[id]
	if !ok {
		return xerrors.Newf(xerrors.KindVolumeNotFound, "volume %s not found", id)
	}
	am, hasMap := m.maps[id]
	if hasMap {
		if err := m.disks.FreeExtents(vol.GroupID, am.Extents, vol.LogicalBlockSize); err != nil {
			return err
		}
	}

	if err := m.store.Delete(metastore.KeyFor(metastore.PrefixVolumeMap, id.String())); err != nil {
		return xerrors.Wrap(xerrors.KindSystem, "delete allocation map record", err)
	}
	if err := m.store.Delete(metastore.KeyFor(metastore.PrefixVolume, id.String())); err != nil {
		return xerrors.Wrap(xerrors.KindSystem, "delete volume record", err)
	}

	delete(m.volumes, id)
	delete(m.maps, id)
	metrics.VolumesTotal.Set(float64(len(m.volumes)))
	return nil
}

// GetVolume returns a defensive copy of a volume by id; mutating the
// result has no effect on manager state.
func (m *Manager) GetVolume(id uuid.UUID) (*types.Volume, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.volumes[id]
	if !ok {
		return nil, xerrors.Newf(xerrors.KindVolumeNotFound, "volume %s not found", id)
	}
	return cloneVolume(v), nil
}

// ListVolumes returns a snapshot slice of defensive copies of all
// known volumes, sorted by name for deterministic listing.
func (m *Manager) ListVolumes() []*types.Volume {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Volume, 0, len(m.volumes))
	for _, v := range m.volumes {
		out = append(out, cloneVolume(v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// cloneVolume returns a copy of v with Replicas copied too, so a
// caller mutating the result cannot reach the manager's internal
// Volume or its replica table.
func cloneVolume(v *types.Volume) *types.Volume {
	cp := *v
	if v.Replicas != nil {
		cp.Replicas = append([]types.ReplicaLocation(nil), v.Replicas...)
	}
	return &cp
}

// AllocationMapFor returns the persisted extent list for a volume.
func (m *Manager) AllocationMapFor(id uuid.UUID) (*types.AllocationMap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	am, ok := m.maps[id]
	if !ok {
		return nil, xerrors.Newf(xerrors.KindVolumeNotFound, "allocation map for volume %s not found", id)
	}
	return am, nil
}
