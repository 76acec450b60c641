// Package protocol defines the framed binary messages exchanged between clients,
// the namenode and the datanodes.
//
// Every message travels as one frame: a 4 byte big-endian length followed by that
// many bytes of body. The body starts with the message Kind and is followed by the
// payload of that kind.
package protocol

import (
	"fmt"

	"github.com/ZhenbangYou/TinyDFS/block-dfs/common"
)

type Kind uint8

const (
	KindStatus Kind = iota + 1
	KindRegister
	KindPutFile
	KindDataBlocks
	KindGetFile
	KindList
	KindPutBlock
	KindGetBlock
	KindNodeList
	KindFileInode
	KindFileList
	KindBlockID
	KindBlockData
)

var kindNames = map[Kind]string{
	KindStatus:     "status",
	KindRegister:   "reg",
	KindPutFile:    "put",
	KindDataBlocks: "dblks",
	KindGetFile:    "get",
	KindList:       "list",
	KindPutBlock:   "put-block",
	KindGetBlock:   "get-block",
	KindNodeList:   "nodes",
	KindFileInode:  "inode",
	KindFileList:   "files",
	KindBlockID:    "block-id",
	KindBlockData:  "block-data",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Message is one of the structs below. The set is closed: only this package can add members.
type Message interface {
	Kind() Kind
	isMessage()
}

type StatusCode uint8

const (
	StatusACK StatusCode = iota + 1
	StatusDUP
	StatusNAK
	StatusNFOUND
	StatusOK
	StatusNONODES
)

var statusNames = map[StatusCode]string{
	StatusACK:     "ACK",
	StatusDUP:     "DUP",
	StatusNAK:     "NAK",
	StatusNFOUND:  "NFOUND",
	StatusOK:      "OK",
	StatusNONODES: "NONODES",
}

func (c StatusCode) String() string {
	if name, ok := statusNames[c]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", uint8(c))
}

// Status is the sentinel reply: ACK, DUP, NAK, NFOUND, OK or NONODES
type Status struct {
	Code StatusCode
}

// Register is sent by a datanode to announce where it serves blocks
type Register struct {
	Node common.NodeAddress
}

// PutFile asks the namenode to create a file record and name the datanodes to write to
type PutFile struct {
	Path string
	Size uint64
}

// DataBlocks reports where the blocks of a stored file ended up
type DataBlocks struct {
	Path       string
	Placements []common.Placement
}

type GetFile struct {
	Path string
}

type List struct{}

// PutBlock opens a block write on a datanode. The block itself follows as BlockData.
type PutBlock struct {
	SizeHint uint64
}

type GetBlock struct {
	BlockID string
}

type NodeList struct {
	Nodes []common.NodeAddress
}

type FileInode struct {
	Size       uint64
	Placements []common.Placement
}

type FileList struct {
	Files []common.FileInfo
}

type BlockID struct {
	ID string
}

type BlockData struct {
	Data []byte
}

func (Status) Kind() Kind     { return KindStatus }
func (Register) Kind() Kind   { return KindRegister }
func (PutFile) Kind() Kind    { return KindPutFile }
func (DataBlocks) Kind() Kind { return KindDataBlocks }
func (GetFile) Kind() Kind    { return KindGetFile }
func (List) Kind() Kind       { return KindList }
func (PutBlock) Kind() Kind   { return KindPutBlock }
func (GetBlock) Kind() Kind   { return KindGetBlock }
func (NodeList) Kind() Kind   { return KindNodeList }
func (FileInode) Kind() Kind  { return KindFileInode }
func (FileList) Kind() Kind   { return KindFileList }
func (BlockID) Kind() Kind    { return KindBlockID }
func (BlockData) Kind() Kind  { return KindBlockData }

func (Status) isMessage()     {}
func (Register) isMessage()   {}
func (PutFile) isMessage()    {}
func (DataBlocks) isMessage() {}
func (GetFile) isMessage()    {}
func (List) isMessage()       {}
func (PutBlock) isMessage()   {}
func (GetBlock) isMessage()   {}
func (NodeList) isMessage()   {}
func (FileInode) isMessage()  {}
func (FileList) isMessage()   {}
func (BlockID) isMessage()    {}
func (BlockData) isMessage()  {}
