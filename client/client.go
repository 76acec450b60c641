// Package client stores files into and fetches files from the distributed file system.
//
// A file is cut into chunks of at most BlockSize bytes and every chunk is written to
// every datanode the namenode hands out, so any single datanode can serve the whole file.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ZhenbangYou/TinyDFS/block-dfs/common"
	"github.com/ZhenbangYou/TinyDFS/block-dfs/protocol"
	"github.com/ZhenbangYou/TinyDFS/block-dfs/transport"
)

type Options struct {
	BlockSize uint64        // chunk size, must not exceed the block size of the datanodes
	Timeout   time.Duration // bound of one exchange with the namenode or a datanode
	// Number of blocks fetched at the same time
	MaxParallel int
}

func DefaultOptions() Options {
	return Options{
		BlockSize:   common.BLOCK_SIZE,
		Timeout:     common.RPC_TIMEOUT,
		MaxParallel: common.MAX_PARALLEL_TRANSFERS,
	}
}

type DistributedFileSystem struct {
	endpoint string
	options  Options
}

func NewDistributedFileSystem(endpoint string) DistributedFileSystem {
	return New(endpoint, DefaultOptions())
}

// New returns a client of the namenode at endpoint. Zero fields of options take their default.
func New(endpoint string, options Options) DistributedFileSystem {
	defaults := DefaultOptions()
	if options.BlockSize == 0 {
		options.BlockSize = defaults.BlockSize
	}
	if options.Timeout <= 0 {
		options.Timeout = defaults.Timeout
	}
	if options.MaxParallel <= 0 {
		options.MaxParallel = defaults.MaxParallel
	}
	return DistributedFileSystem{endpoint: endpoint, options: options}
}

// Put stores the local file localPath as remotePath
func (dfs *DistributedFileSystem) Put(ctx context.Context, localPath string, remotePath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", localPath)
	}
	return dfs.PutReader(ctx, remotePath, file, uint64(info.Size()))
}

// PutReader stores the size bytes of r as remotePath.
// If the store fails midway, the blocks already written stay on the datanodes unreferenced.
func (dfs *DistributedFileSystem) PutReader(ctx context.Context, remotePath string, r io.Reader, size uint64) error {
	slog.Info("Put request", "path", remotePath, "size", size)

	// Step 1: Create the file record and learn where to write
	reply, err := dfs.call(ctx, protocol.PutFile{Path: remotePath, Size: size})
	if err != nil {
		return err
	}
	nodeList, ok := reply.(protocol.NodeList)
	if !ok {
		return replyError(protocol.KindPutFile, reply, remotePath)
	}
	nodes := nodeList.Nodes
	if len(nodes) == 0 {
		return common.ErrNoAvailableNodes
	}

	// Step 2: Push every chunk to every node
	chunks := (size + dfs.options.BlockSize - 1) / dfs.options.BlockSize
	placements := make([]common.Placement, 0, chunks*uint64(len(nodes)))
	buffer := make([]byte, dfs.options.BlockSize)
	remaining := size
	for chunk := uint64(0); chunk < chunks; chunk++ {
		data := buffer[:min(remaining, dfs.options.BlockSize)]
		if _, err := io.ReadFull(r, data); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("source of %s is shorter than %d bytes", remotePath, size)
			}
			return err
		}
		remaining -= uint64(len(data))

		ids, err := dfs.pushChunk(ctx, nodes, data)
		if err != nil {
			slog.Error("Put aborted", "path", remotePath, "chunk", chunk, "error", err)
			return err
		}
		for i, node := range nodes {
			placements = append(placements, common.Placement{Node: node, BlockID: ids[i], Chunk: chunk})
		}
	}
	var extra [1]byte
	if n, _ := io.ReadFull(r, extra[:]); n > 0 {
		return fmt.Errorf("source of %s is longer than %d bytes", remotePath, size)
	}

	// Step 3: Report where the blocks are
	reply, err = dfs.call(ctx, protocol.DataBlocks{Path: remotePath, Placements: placements})
	if err != nil {
		return err
	}
	if status, ok := reply.(protocol.Status); !ok || status.Code != protocol.StatusACK {
		return replyError(protocol.KindDataBlocks, reply, remotePath)
	}
	slog.Info("Put succeeded", "path", remotePath, "chunks", chunks, "replicas", len(nodes))
	return nil
}

// pushChunk writes data to all nodes in parallel and returns the block ids in node order
func (dfs *DistributedFileSystem) pushChunk(ctx context.Context, nodes []common.NodeAddress, data []byte) ([]string, error) {
	ids := make([]string, len(nodes))
	errs := make([]error, len(nodes))
	var wg sync.WaitGroup
	for i, node := range nodes {
		wg.Add(1)
		go func(i int, node common.NodeAddress) {
			defer wg.Done()
			ids[i], errs[i] = dfs.pushBlock(ctx, node, data)
		}(i, node)
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return ids, nil
}

func (dfs *DistributedFileSystem) pushBlock(ctx context.Context, node common.NodeAddress, data []byte) (string, error) {
	conn, err := transport.Dial(ctx, node.String(), dfs.options.Timeout)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	reply, err := conn.Call(protocol.PutBlock{SizeHint: uint64(len(data))})
	if err != nil {
		return "", err
	}
	if status, ok := reply.(protocol.Status); !ok || status.Code != protocol.StatusOK {
		return "", fmt.Errorf("datanode %s refused block: %w", node, replyError(protocol.KindPutBlock, reply, ""))
	}

	reply, err = conn.Call(protocol.BlockData{Data: data})
	if err != nil {
		return "", err
	}
	id, ok := reply.(protocol.BlockID)
	if !ok {
		return "", fmt.Errorf("datanode %s failed to store block: %w", node, replyError(protocol.KindBlockData, reply, ""))
	}
	slog.Debug("PutBlock succeeded", "datanode", node.String(), "blockID", id.ID, "bytes", len(data))
	return id.ID, nil
}

// Get fetches remotePath into the local file localPath.
// The local file is only created once every block has been retrieved.
func (dfs *DistributedFileSystem) Get(ctx context.Context, remotePath string, localPath string) error {
	blocks, err := dfs.fetch(ctx, remotePath)
	if err != nil {
		return err
	}
	file, err := os.Create(localPath)
	if err != nil {
		return err
	}
	if err := writeBlocks(file, blocks); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// GetWriter fetches remotePath and writes its content to w
func (dfs *DistributedFileSystem) GetWriter(ctx context.Context, remotePath string, w io.Writer) error {
	blocks, err := dfs.fetch(ctx, remotePath)
	if err != nil {
		return err
	}
	return writeBlocks(w, blocks)
}

func writeBlocks(w io.Writer, blocks [][]byte) error {
	for _, block := range blocks {
		if _, err := w.Write(block); err != nil {
			return err
		}
	}
	return nil
}

func (dfs *DistributedFileSystem) fetch(ctx context.Context, remotePath string) ([][]byte, error) {
	slog.Info("Get request", "path", remotePath)

	// Step 1: Get the file size and block placement from the namenode
	reply, err := dfs.call(ctx, protocol.GetFile{Path: remotePath})
	if err != nil {
		return nil, err
	}
	inode, ok := reply.(protocol.FileInode)
	if !ok {
		return nil, replyError(protocol.KindGetFile, reply, remotePath)
	}

	// Step 2: Read the blocks from the datanodes in parallel
	blocks := make([][]byte, len(inode.Placements))
	errs := make([]error, len(inode.Placements))
	semaphore := make(chan struct{}, dfs.options.MaxParallel)
	var wg sync.WaitGroup
	for i, placement := range inode.Placements {
		wg.Add(1)
		semaphore <- struct{}{}
		go func(i int, placement common.Placement) {
			defer func() {
				<-semaphore
				wg.Done()
			}()
			blocks[i], errs[i] = dfs.fetchBlock(ctx, placement)
		}(i, placement)
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		slog.Error("Failed to read all blocks", "path", remotePath, "error", err)
		return nil, err
	}

	// Step 3: The blocks must add up to the recorded size
	var total uint64
	for _, block := range blocks {
		total += uint64(len(block))
	}
	if total != inode.Size {
		return nil, fmt.Errorf("%s: %w: got %d of %d bytes", remotePath, common.ErrIncompleteFile, total, inode.Size)
	}
	slog.Info("Get succeeded", "path", remotePath, "size", total, "blocks", len(blocks))
	return blocks, nil
}

func (dfs *DistributedFileSystem) fetchBlock(ctx context.Context, placement common.Placement) ([]byte, error) {
	reply, err := transport.Call(ctx, placement.Node.String(), dfs.options.Timeout,
		protocol.GetBlock{BlockID: placement.BlockID})
	if err != nil {
		return nil, err
	}
	block, ok := reply.(protocol.BlockData)
	if !ok {
		return nil, fmt.Errorf("block %d on %s: %w", placement.Chunk, placement.Node,
			replyError(protocol.KindGetBlock, reply, placement.BlockID))
	}
	return block.Data, nil
}

// List returns every file known to the namenode, sorted by name
func (dfs *DistributedFileSystem) List(ctx context.Context) ([]common.FileInfo, error) {
	reply, err := dfs.call(ctx, protocol.List{})
	if err != nil {
		return nil, err
	}
	files, ok := reply.(protocol.FileList)
	if !ok {
		return nil, replyError(protocol.KindList, reply, "")
	}
	return files.Files, nil
}

func (dfs *DistributedFileSystem) call(ctx context.Context, req protocol.Message) (protocol.Message, error) {
	reply, err := transport.Call(ctx, dfs.endpoint, dfs.options.Timeout, req)
	if err != nil {
		slog.Error("namenode request failed", "request", req.Kind().String(), "namenode", dfs.endpoint, "error", err)
	}
	return reply, err
}

// replyError turns a status reply into the matching error
func replyError(request protocol.Kind, reply protocol.Message, subject string) error {
	status, ok := reply.(protocol.Status)
	if !ok {
		return fmt.Errorf("%w: %s to %s", common.ErrUnexpectedReply, reply.Kind(), request)
	}
	var err error
	switch status.Code {
	case protocol.StatusDUP:
		err = common.ErrDuplicateFile
		if request == protocol.KindDataBlocks {
			err = common.ErrAlreadyCompleted
		}
	case protocol.StatusNFOUND:
		err = common.ErrNotFound
		if request == protocol.KindGetBlock {
			err = common.ErrBlockNotFound
		}
	case protocol.StatusNONODES:
		err = common.ErrNoAvailableNodes
	case protocol.StatusNAK:
		err = common.ErrInternal
	default:
		return fmt.Errorf("%w: %s to %s", common.ErrUnexpectedReply, status.Code, request)
	}
	if subject == "" {
		return err
	}
	return fmt.Errorf("%s: %w", subject, err)
}
