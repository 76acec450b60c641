package datanode

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/ZhenbangYou/TinyDFS/block-dfs/common"
)

const blockSuffix = ".dat"

// BlockStore keeps immutable blocks as one file per block in a directory
type BlockStore struct {
	dir string
	// block id -> []byte, nil when caching is disabled
	cache *cache.Cache

	mu     sync.Mutex
	blocks int
	bytes  uint64
}

// NewBlockStore opens the blocks kept in dir. A cacheTTL of 0 disables the read cache.
func NewBlockStore(dir string, cacheTTL time.Duration) (*BlockStore, error) {
	store := &BlockStore{dir: dir}
	if cacheTTL > 0 {
		store.cache = cache.New(cacheTTL, 2*cacheTTL)
	}

	// Go over the blocks left by a previous run
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading block directory: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(name, ".tmp") {
			// interrupted write
			os.Remove(filepath.Join(dir, name))
			continue
		}
		if _, ok := blockID(name); !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		store.blocks++
		store.bytes += uint64(info.Size())
	}
	slog.Info("Opened block store", "dir", dir, "blocks", store.blocks,
		"size", datasize.ByteSize(store.bytes).HumanReadable())
	return store, nil
}

// Put stores data as a new block and returns its id
func (s *BlockStore) Put(data []byte) (string, error) {
	id := newBlockID()
	path := s.path(id)
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", err
	}

	s.mu.Lock()
	s.blocks++
	s.bytes += uint64(len(data))
	s.mu.Unlock()
	return id, nil
}

// Get returns the content of block id, or common.ErrBlockNotFound
func (s *BlockStore) Get(id string) ([]byte, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, common.ErrBlockNotFound
	}
	if s.cache != nil {
		if data, found := s.cache.Get(id); found {
			return data.([]byte), nil
		}
	}

	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, common.ErrBlockNotFound
	} else if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.SetDefault(id, data)
	}
	return data, nil
}

// Stats returns the number of blocks and their total size
func (s *BlockStore) Stats() (int, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocks, s.bytes
}

func (s *BlockStore) path(id string) string {
	return filepath.Join(s.dir, id+blockSuffix)
}

// Parse a block file name and returns the block id
func blockID(fileName string) (string, bool) {
	id, found := strings.CutSuffix(fileName, blockSuffix)
	if !found {
		return "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, true
}

func newBlockID() string {
	id, err := uuid.NewUUID()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
