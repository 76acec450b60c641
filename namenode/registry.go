package namenode

import (
	"github.com/ZhenbangYou/TinyDFS/block-dfs/common"
)

type DataNodeRecord struct {
	ID   uint64
	Node common.NodeAddress
}

// Inode is the namenode's record of a file.
// Complete turns true once the placement of its blocks has been reported.
// Report identifies the accepted placement report in registries that store reports apart from the inode.
type Inode struct {
	ID       uint64
	Name     string
	Size     uint64
	Complete bool
	Report   uint64 `json:",omitempty"`
}

type PlacementRecord struct {
	NodeID  uint64
	Node    common.NodeAddress
	BlockID string
	Chunk   uint64
}

// Registry holds the datanodes, the files and the block placements of the namenode.
// Every method is one short transaction and safe for concurrent use.
type Registry interface {
	// AddDataNode inserts node unless it is already registered.
	// created is false for a known node; id is the node's id either way.
	AddDataNode(node common.NodeAddress) (id uint64, created bool, err error)
	// DataNodes returns all registered nodes in registration order
	DataNodes() ([]DataNodeRecord, error)
	// CreateFile inserts a file record unless name is taken, in which case
	// the existing record is returned with created set to false.
	CreateFile(name string, size uint64) (inode Inode, created bool, err error)
	// GetFile fails with common.ErrNotFound for unknown names
	GetFile(name string) (Inode, error)
	// Files returns every file sorted by name
	Files() ([]common.FileInfo, error)
	// AddPlacements records where the blocks of name live and marks the file complete.
	// Nothing is recorded if the file is unknown (common.ErrNotFound), already complete
	// (common.ErrAlreadyCompleted) or if any placement names an unregistered node (common.ErrUnknownNode).
	AddPlacements(name string, placements []common.Placement) error
	// Placements returns the placements of name in the order they were reported
	Placements(name string) ([]PlacementRecord, error)
	Close() error
}
