package namenode

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/ZhenbangYou/TinyDFS/block-dfs/common"
)

const (
	prefixNode      = "node/"   // node/<host:port> -> DataNodeRecord
	prefixNodeID    = "nodeid/" // nodeid/<be64 id> -> DataNodeRecord, scanned for registration order
	prefixFile      = "file/"   // file/<name> -> Inode
	prefixPlacement = "place/"  // place/<be64 file id><be64 report id><be64 seq> -> PlacementRecord

	sequenceBandwidth = 64
	maxTxnRetries     = 16
)

// BadgerRegistry persists the registry in a badger database
type BadgerRegistry struct {
	db        *badger.DB
	fileSeq   *badger.Sequence
	nodeSeq   *badger.Sequence
	reportSeq *badger.Sequence
}

// OpenBadgerRegistry opens (or creates) the registry stored in dir.
// An empty dir keeps the database in memory.
func OpenBadgerRegistry(dir string) (*BadgerRegistry, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening registry at %q: %w", dir, err)
	}
	fileSeq, err := db.GetSequence([]byte("seq/file"), sequenceBandwidth)
	if err != nil {
		db.Close()
		return nil, err
	}
	nodeSeq, err := db.GetSequence([]byte("seq/node"), sequenceBandwidth)
	if err != nil {
		fileSeq.Release()
		db.Close()
		return nil, err
	}
	reportSeq, err := db.GetSequence([]byte("seq/report"), sequenceBandwidth)
	if err != nil {
		nodeSeq.Release()
		fileSeq.Release()
		db.Close()
		return nil, err
	}
	slog.Info("Opened badger registry", "dir", dir, "inMemory", dir == "")
	return &BadgerRegistry{db: db, fileSeq: fileSeq, nodeSeq: nodeSeq, reportSeq: reportSeq}, nil
}

// update runs fn in a read-write transaction, retrying when a concurrent transaction
// committed a conflicting write first
func (r *BadgerRegistry) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		err = r.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (r *BadgerRegistry) AddDataNode(node common.NodeAddress) (uint64, bool, error) {
	var id uint64
	var created bool
	err := r.update(func(txn *badger.Txn) error {
		var existing DataNodeRecord
		err := getJSON(txn, nodeKey(node), &existing)
		if err == nil {
			id, created = existing.ID, false
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		next, err := r.nodeSeq.Next()
		if err != nil {
			return err
		}
		record := DataNodeRecord{ID: next + 1, Node: node}
		if err := setJSON(txn, nodeKey(node), record); err != nil {
			return err
		}
		if err := setJSON(txn, idKey(prefixNodeID, record.ID), record); err != nil {
			return err
		}
		id, created = record.ID, true
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return id, created, nil
}

func (r *BadgerRegistry) DataNodes() ([]DataNodeRecord, error) {
	records := []DataNodeRecord{}
	err := r.db.View(func(txn *badger.Txn) error {
		return scanJSON(txn, []byte(prefixNodeID), func() interface{} {
			records = append(records, DataNodeRecord{})
			return &records[len(records)-1]
		})
	})
	return records, err
}

func (r *BadgerRegistry) CreateFile(name string, size uint64) (Inode, bool, error) {
	var inode Inode
	var created bool
	err := r.update(func(txn *badger.Txn) error {
		err := getJSON(txn, fileKey(name), &inode)
		if err == nil {
			created = false
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		next, err := r.fileSeq.Next()
		if err != nil {
			return err
		}
		inode = Inode{ID: next + 1, Name: name, Size: size}
		created = true
		return setJSON(txn, fileKey(name), inode)
	})
	if err != nil {
		return Inode{}, false, err
	}
	return inode, created, nil
}

func (r *BadgerRegistry) GetFile(name string) (Inode, error) {
	var inode Inode
	err := r.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, fileKey(name), &inode)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Inode{}, fmt.Errorf("file %s: %w", name, common.ErrNotFound)
	}
	return inode, err
}

func (r *BadgerRegistry) Files() ([]common.FileInfo, error) {
	var inodes []Inode
	err := r.db.View(func(txn *badger.Txn) error {
		return scanJSON(txn, []byte(prefixFile), func() interface{} {
			inodes = append(inodes, Inode{})
			return &inodes[len(inodes)-1]
		})
	})
	if err != nil {
		return nil, err
	}
	files := make([]common.FileInfo, 0, len(inodes))
	for _, inode := range inodes {
		files = append(files, common.FileInfo{Name: inode.Name, Size: inode.Size})
	}
	return files, nil
}

// AddPlacements writes the report through a WriteBatch, which splits it into as many
// transactions as needed, under a report id of its own. A final transaction publishes the
// report id on the inode; a report losing that race is deleted again.
func (r *BadgerRegistry) AddPlacements(name string, placements []common.Placement) error {
	var inode Inode
	records := make([]PlacementRecord, 0, len(placements))
	err := r.db.View(func(txn *badger.Txn) error {
		err := getJSON(txn, fileKey(name), &inode)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("file %s: %w", name, common.ErrNotFound)
		} else if err != nil {
			return err
		}
		if inode.Complete {
			return fmt.Errorf("file %s: %w", name, common.ErrAlreadyCompleted)
		}

		// Nodes are never removed, so resolving them outside the final transaction is safe
		nodeIDs := make(map[common.NodeAddress]uint64)
		for _, p := range placements {
			id, found := nodeIDs[p.Node]
			if !found {
				var node DataNodeRecord
				err := getJSON(txn, nodeKey(p.Node), &node)
				if errors.Is(err, badger.ErrKeyNotFound) {
					return fmt.Errorf("placement of chunk %d on %s: %w", p.Chunk, p.Node, common.ErrUnknownNode)
				} else if err != nil {
					return err
				}
				id = node.ID
				nodeIDs[p.Node] = id
			}
			records = append(records, PlacementRecord{NodeID: id, Node: p.Node, BlockID: p.BlockID, Chunk: p.Chunk})
		}
		return nil
	})
	if err != nil {
		return err
	}

	next, err := r.reportSeq.Next()
	if err != nil {
		return err
	}
	report := next + 1

	if err := r.writeReport(inode.ID, report, records); err != nil {
		r.discardReport(inode.ID, report, len(records))
		return err
	}

	err = r.update(func(txn *badger.Txn) error {
		var current Inode
		if err := getJSON(txn, fileKey(name), &current); err != nil {
			return err
		}
		if current.Complete {
			return fmt.Errorf("file %s: %w", name, common.ErrAlreadyCompleted)
		}
		current.Complete = true
		current.Report = report
		return setJSON(txn, fileKey(name), current)
	})
	if err != nil {
		r.discardReport(inode.ID, report, len(records))
		return err
	}
	return nil
}

func (r *BadgerRegistry) writeReport(fileID uint64, report uint64, records []PlacementRecord) error {
	wb := r.db.NewWriteBatch()
	defer wb.Cancel()
	for seq, record := range records {
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		if err := wb.Set(placementKey(fileID, report, uint64(seq)), data); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// discardReport removes the placements of a report that was never published
func (r *BadgerRegistry) discardReport(fileID uint64, report uint64, count int) {
	wb := r.db.NewWriteBatch()
	defer wb.Cancel()
	for seq := 0; seq < count; seq++ {
		if err := wb.Delete(placementKey(fileID, report, uint64(seq))); err != nil {
			slog.Warn("Failed to discard placement report", "file", fileID, "report", report, "error", err)
			return
		}
	}
	if err := wb.Flush(); err != nil {
		slog.Warn("Failed to discard placement report", "file", fileID, "report", report, "error", err)
	}
}

func (r *BadgerRegistry) Placements(name string) ([]PlacementRecord, error) {
	var records []PlacementRecord
	err := r.db.View(func(txn *badger.Txn) error {
		var inode Inode
		err := getJSON(txn, fileKey(name), &inode)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("file %s: %w", name, common.ErrNotFound)
		} else if err != nil {
			return err
		}
		if !inode.Complete {
			return nil
		}
		prefix := binary.BigEndian.AppendUint64(idKey(prefixPlacement, inode.ID), inode.Report)
		return scanJSON(txn, prefix, func() interface{} {
			records = append(records, PlacementRecord{})
			return &records[len(records)-1]
		})
	})
	return records, err
}

func (r *BadgerRegistry) Close() error {
	r.fileSeq.Release()
	r.nodeSeq.Release()
	r.reportSeq.Release()
	return r.db.Close()
}

func nodeKey(node common.NodeAddress) []byte {
	return []byte(prefixNode + node.String())
}

func fileKey(name string) []byte {
	return []byte(prefixFile + name)
}

func idKey(prefix string, id uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], id)
	return key
}

func placementKey(fileID uint64, report uint64, seq uint64) []byte {
	key := idKey(prefixPlacement, fileID)
	key = binary.BigEndian.AppendUint64(key, report)
	return binary.BigEndian.AppendUint64(key, seq)
}

func getJSON(txn *badger.Txn, key []byte, v interface{}) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// scanJSON decodes every value under prefix, in key order, into the value returned by next
func scanJSON(txn *badger.Txn, prefix []byte, next func() interface{}) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		target := next()
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, target)
		}); err != nil {
			return err
		}
	}
	return nil
}

// badgerLogger forwards badger's own logging to slog
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	slog.Error(fmt.Sprintf(format, args...), "component", "badger")
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	slog.Warn(fmt.Sprintf(format, args...), "component", "badger")
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	slog.Debug(fmt.Sprintf(format, args...), "component", "badger")
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	slog.Debug(fmt.Sprintf(format, args...), "component", "badger")
}
