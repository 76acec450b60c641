package common

import (
	"net"
	"strconv"
)

// NodeAddress identifies a data node by the address and port it serves blocks on
type NodeAddress struct {
	Address string
	Port    uint16
}

func (n NodeAddress) String() string {
	return net.JoinHostPort(n.Address, strconv.Itoa(int(n.Port)))
}

// Placement says where one chunk of a file lives.
// Chunk is the position of the block within the file, starting at 0.
type Placement struct {
	Node    NodeAddress
	BlockID string
	Chunk   uint64
}

type FileInfo struct {
	Name string
	Size uint64
}
