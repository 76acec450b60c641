package namenode

import (
	"fmt"
	"sync"

	"github.com/emirpasic/gods/maps/linkedhashmap"
	"github.com/emirpasic/gods/maps/treemap"

	"github.com/ZhenbangYou/TinyDFS/block-dfs/common"
)

type memoryInode struct {
	inode      Inode
	placements []PlacementRecord
}

// MemoryRegistry keeps the registry in process memory. Its content is lost on restart.
type MemoryRegistry struct {
	rwlock *sync.RWMutex

	files *treemap.Map       // name -> *memoryInode, ordered by name
	nodes *linkedhashmap.Map // common.NodeAddress -> DataNodeRecord, in registration order

	lastFileID uint64
	lastNodeID uint64
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		rwlock: new(sync.RWMutex),
		files:  treemap.NewWithStringComparator(),
		nodes:  linkedhashmap.New(),
	}
}

func (r *MemoryRegistry) AddDataNode(node common.NodeAddress) (uint64, bool, error) {
	r.rwlock.Lock()
	defer r.rwlock.Unlock()

	if existing, found := r.nodes.Get(node); found {
		return existing.(DataNodeRecord).ID, false, nil
	}
	r.lastNodeID++
	r.nodes.Put(node, DataNodeRecord{ID: r.lastNodeID, Node: node})
	return r.lastNodeID, true, nil
}

func (r *MemoryRegistry) DataNodes() ([]DataNodeRecord, error) {
	r.rwlock.RLock()
	defer r.rwlock.RUnlock()

	records := make([]DataNodeRecord, 0, r.nodes.Size())
	for _, value := range r.nodes.Values() {
		records = append(records, value.(DataNodeRecord))
	}
	return records, nil
}

func (r *MemoryRegistry) CreateFile(name string, size uint64) (Inode, bool, error) {
	r.rwlock.Lock()
	defer r.rwlock.Unlock()

	if existing, found := r.files.Get(name); found {
		return existing.(*memoryInode).inode, false, nil
	}
	r.lastFileID++
	inode := Inode{ID: r.lastFileID, Name: name, Size: size}
	r.files.Put(name, &memoryInode{inode: inode})
	return inode, true, nil
}

func (r *MemoryRegistry) GetFile(name string) (Inode, error) {
	r.rwlock.RLock()
	defer r.rwlock.RUnlock()

	value, found := r.files.Get(name)
	if !found {
		return Inode{}, fmt.Errorf("file %s: %w", name, common.ErrNotFound)
	}
	return value.(*memoryInode).inode, nil
}

func (r *MemoryRegistry) Files() ([]common.FileInfo, error) {
	r.rwlock.RLock()
	defer r.rwlock.RUnlock()

	files := make([]common.FileInfo, 0, r.files.Size())
	r.files.Each(func(_ interface{}, value interface{}) {
		inode := value.(*memoryInode).inode
		files = append(files, common.FileInfo{Name: inode.Name, Size: inode.Size})
	})
	return files, nil
}

func (r *MemoryRegistry) AddPlacements(name string, placements []common.Placement) error {
	r.rwlock.Lock()
	defer r.rwlock.Unlock()

	value, found := r.files.Get(name)
	if !found {
		return fmt.Errorf("file %s: %w", name, common.ErrNotFound)
	}
	file := value.(*memoryInode)
	if file.inode.Complete {
		return fmt.Errorf("file %s: %w", name, common.ErrAlreadyCompleted)
	}

	// Resolve every node before touching the inode so a bad report records nothing
	records := make([]PlacementRecord, 0, len(placements))
	for _, p := range placements {
		node, found := r.nodes.Get(p.Node)
		if !found {
			return fmt.Errorf("placement of chunk %d on %s: %w", p.Chunk, p.Node, common.ErrUnknownNode)
		}
		records = append(records, PlacementRecord{
			NodeID:  node.(DataNodeRecord).ID,
			Node:    p.Node,
			BlockID: p.BlockID,
			Chunk:   p.Chunk,
		})
	}
	file.placements = records
	file.inode.Complete = true
	return nil
}

func (r *MemoryRegistry) Placements(name string) ([]PlacementRecord, error) {
	r.rwlock.RLock()
	defer r.rwlock.RUnlock()

	value, found := r.files.Get(name)
	if !found {
		return nil, fmt.Errorf("file %s: %w", name, common.ErrNotFound)
	}
	placements := value.(*memoryInode).placements
	return append([]PlacementRecord(nil), placements...), nil
}

func (r *MemoryRegistry) Close() error {
	return nil
}
