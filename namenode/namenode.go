// Package namenode is the metadata authority of the file system: it knows which
// datanodes exist, which files exist and where the blocks of every file were placed.
package namenode

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/ZhenbangYou/TinyDFS/block-dfs/common"
)

// A store that has been begun but whose block placement has not been reported yet
type pendingStore struct {
	size      uint64
	began     time.Time
	completed atomic.Bool
}

type NameNode struct {
	registry Registry
	// path -> *pendingStore, expires after the pending store TTL
	pending *cache.Cache
}

func NewNameNode(registry Registry, pendingStoreTTL time.Duration) *NameNode {
	if pendingStoreTTL <= 0 {
		pendingStoreTTL = common.PENDING_STORE_TTL
	}
	pending := cache.New(pendingStoreTTL, pendingStoreTTL/2)
	pending.OnEvicted(func(path string, value interface{}) {
		store := value.(*pendingStore)
		if store.completed.Load() {
			return
		}
		slog.Warn("Store never completed, its blocks may be orphaned on the datanodes",
			"path", path, "size", store.size, "began", store.began)
	})
	return &NameNode{registry: registry, pending: pending}
}

// RegisterNode adds a datanode. Registering a known node again fails with common.ErrDuplicateNode
// and changes nothing.
func (nn *NameNode) RegisterNode(node common.NodeAddress) error {
	slog.Info("RegisterNode request", "node", node.String())

	if node.Address == "" || node.Port == 0 {
		return fmt.Errorf("%w: invalid datanode address %q", common.ErrMalformedMessage, node.String())
	}
	id, created, err := nn.registry.AddDataNode(node)
	if err != nil {
		slog.Error("RegisterNode failed", "node", node.String(), "error", err)
		return fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	if !created {
		slog.Info("Duplicate datanode registration", "node", node.String(), "id", id)
		return fmt.Errorf("%s: %w", node, common.ErrDuplicateNode)
	}
	slog.Info("Registered datanode", "node", node.String(), "id", id)
	return nil
}

// BeginStore creates the record of a new file and returns the datanodes every block
// of the file should be written to. The list is a snapshot: nodes registering later
// are not part of this store.
func (nn *NameNode) BeginStore(path string, size uint64) ([]common.NodeAddress, error) {
	slog.Info("BeginStore request", "path", path, "size", size)

	if path == "" {
		return nil, fmt.Errorf("%w: empty path", common.ErrMalformedMessage)
	}

	records, err := nn.registry.DataNodes()
	if err != nil {
		slog.Error("BeginStore failed to list datanodes", "path", path, "error", err)
		return nil, fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	// Nodes are never removed, so checking before the insert cannot let a store without nodes through
	if len(records) == 0 {
		slog.Warn("BeginStore rejected, no datanodes registered", "path", path)
		return nil, common.ErrNoAvailableNodes
	}

	inode, created, err := nn.registry.CreateFile(path, size)
	if err != nil {
		slog.Error("BeginStore failed to create inode", "path", path, "error", err)
		return nil, fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	if !created {
		slog.Info("BeginStore rejected, file exists", "path", path, "existingSize", inode.Size)
		return nil, fmt.Errorf("%s: %w", path, common.ErrDuplicateFile)
	}

	nn.pending.SetDefault(path, &pendingStore{size: size, began: time.Now()})

	nodes := make([]common.NodeAddress, len(records))
	for i, record := range records {
		nodes[i] = record.Node
	}
	slog.Debug("BeginStore success", "path", path, "inode", inode.ID, "nodes", len(nodes))
	return nodes, nil
}

// CompleteStore attaches the placement of the blocks of path to its file record.
// Reports for unknown or already completed files leave the registry untouched.
func (nn *NameNode) CompleteStore(path string, placements []common.Placement) error {
	slog.Info("CompleteStore request", "path", path, "placements", len(placements))

	err := nn.registry.AddPlacements(path, placements)
	switch {
	case err == nil:
	case errors.Is(err, common.ErrNotFound), errors.Is(err, common.ErrAlreadyCompleted),
		errors.Is(err, common.ErrUnknownNode):
		slog.Warn("CompleteStore ignored", "path", path, "error", err)
		return err
	default:
		slog.Error("CompleteStore failed", "path", path, "error", err)
		return fmt.Errorf("%w: %v", common.ErrInternal, err)
	}

	if value, found := nn.pending.Get(path); found {
		value.(*pendingStore).completed.Store(true)
		nn.pending.Delete(path)
	}
	slog.Debug("CompleteStore success", "path", path)
	return nil
}

// Lookup returns the size of path and the placements to read it back from,
// in chunk order and all on the same datanode
func (nn *NameNode) Lookup(path string) (uint64, []common.Placement, error) {
	slog.Info("Lookup request", "path", path)

	inode, err := nn.registry.GetFile(path)
	if errors.Is(err, common.ErrNotFound) {
		return 0, nil, err
	} else if err != nil {
		slog.Error("Lookup failed", "path", path, "error", err)
		return 0, nil, fmt.Errorf("%w: %v", common.ErrInternal, err)
	}

	records, err := nn.registry.Placements(path)
	if err != nil {
		slog.Error("Lookup failed to read placements", "path", path, "error", err)
		return 0, nil, fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	placements := reconstructionPath(records)
	slog.Debug("Lookup success", "path", path, "size", inode.Size, "blocks", len(placements))
	return inode.Size, placements, nil
}

// Placements returns every recorded replica of every block of path
func (nn *NameNode) Placements(path string) ([]common.Placement, error) {
	records, err := nn.registry.Placements(path)
	if err != nil {
		return nil, err
	}
	placements := make([]common.Placement, len(records))
	for i, record := range records {
		placements[i] = record.placement()
	}
	return placements, nil
}

func (nn *NameNode) ListFiles() ([]common.FileInfo, error) {
	slog.Info("ListFiles request")

	files, err := nn.registry.Files()
	if err != nil {
		slog.Error("ListFiles failed", "error", err)
		return nil, fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	return files, nil
}

// PendingStores counts the stores begun but not completed and not yet expired
func (nn *NameNode) PendingStores() int {
	return nn.pending.ItemCount()
}

func (nn *NameNode) Close() error {
	return nn.registry.Close()
}

func (record PlacementRecord) placement() common.Placement {
	return common.Placement{Node: record.Node, BlockID: record.BlockID, Chunk: record.Chunk}
}

// reconstructionPath picks one datanode holding the longest run of chunks 0, 1, 2, ...
// and returns that run. Ties go to the node reported first.
func reconstructionPath(records []PlacementRecord) []common.Placement {
	var order []uint64
	byNode := make(map[uint64][]PlacementRecord)
	for _, record := range records {
		if _, seen := byNode[record.NodeID]; !seen {
			order = append(order, record.NodeID)
		}
		byNode[record.NodeID] = append(byNode[record.NodeID], record)
	}

	var best []PlacementRecord
	for _, nodeID := range order {
		lineage := byNode[nodeID]
		sort.SliceStable(lineage, func(i, j int) bool { return lineage[i].Chunk < lineage[j].Chunk })
		run := 0
		for run < len(lineage) && lineage[run].Chunk == uint64(run) {
			run++
		}
		if run > len(best) {
			best = lineage[:run]
		}
	}

	placements := make([]common.Placement, len(best))
	for i, record := range best {
		placements[i] = record.placement()
	}
	return placements
}
