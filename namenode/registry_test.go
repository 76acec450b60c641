package namenode

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ZhenbangYou/TinyDFS/block-dfs/common"
)

func registries(t *testing.T) map[string]Registry {
	badgerRegistry, err := OpenBadgerRegistry("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { badgerRegistry.Close() })
	return map[string]Registry{
		"memory": NewMemoryRegistry(),
		"badger": badgerRegistry,
	}
}

func node(port uint16) common.NodeAddress {
	return common.NodeAddress{Address: "127.0.0.1", Port: port}
}

func TestRegistryDataNodes(t *testing.T) {
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			id1, created, err := r.AddDataNode(node(9001))
			if err != nil || !created {
				t.Fatalf("first registration: created=%v err=%v", created, err)
			}
			id2, created, err := r.AddDataNode(node(9002))
			if err != nil || !created {
				t.Fatalf("second registration: created=%v err=%v", created, err)
			}
			if id1 == id2 {
				t.Fatalf("ids not unique: %d", id1)
			}
			again, created, err := r.AddDataNode(node(9001))
			if err != nil || created || again != id1 {
				t.Fatalf("duplicate registration: id=%d created=%v err=%v", again, created, err)
			}

			nodes, err := r.DataNodes()
			if err != nil {
				t.Fatal(err)
			}
			if len(nodes) != 2 || nodes[0].Node != node(9001) || nodes[1].Node != node(9002) {
				t.Fatalf("unexpected nodes %+v", nodes)
			}
		})
	}
}

func TestRegistryFiles(t *testing.T) {
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			files, err := r.Files()
			if err != nil || len(files) != 0 {
				t.Fatalf("empty registry listed %v, %v", files, err)
			}
			if _, err := r.GetFile("/missing"); !errors.Is(err, common.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			for _, f := range []common.FileInfo{{Name: "/b", Size: 2}, {Name: "/a", Size: 1}, {Name: "/c", Size: 0}} {
				if _, created, err := r.CreateFile(f.Name, f.Size); err != nil || !created {
					t.Fatalf("create %s: created=%v err=%v", f.Name, created, err)
				}
			}
			existing, created, err := r.CreateFile("/a", 100)
			if err != nil || created || existing.Size != 1 {
				t.Fatalf("duplicate create: %+v created=%v err=%v", existing, created, err)
			}

			files, err = r.Files()
			if err != nil {
				t.Fatal(err)
			}
			want := []common.FileInfo{{Name: "/a", Size: 1}, {Name: "/b", Size: 2}, {Name: "/c", Size: 0}}
			if fmt.Sprint(files) != fmt.Sprint(want) {
				t.Fatalf("got %v, want %v", files, want)
			}

			inode, err := r.GetFile("/b")
			if err != nil || inode.Size != 2 || inode.Complete {
				t.Fatalf("unexpected inode %+v, %v", inode, err)
			}
		})
	}
}

func TestRegistryPlacements(t *testing.T) {
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			r.AddDataNode(node(9001))
			r.AddDataNode(node(9002))
			r.CreateFile("/f", 20000)

			placements := []common.Placement{
				{Node: node(9001), BlockID: "a0", Chunk: 0},
				{Node: node(9002), BlockID: "b0", Chunk: 0},
				{Node: node(9001), BlockID: "a1", Chunk: 1},
				{Node: node(9002), BlockID: "b1", Chunk: 1},
			}
			if err := r.AddPlacements("/f", placements); err != nil {
				t.Fatal(err)
			}
			records, err := r.Placements("/f")
			if err != nil {
				t.Fatal(err)
			}
			if len(records) != len(placements) {
				t.Fatalf("got %d records, want %d", len(records), len(placements))
			}
			for i, record := range records {
				if record.placement() != placements[i] {
					t.Errorf("record %d: got %+v, want %+v", i, record.placement(), placements[i])
				}
			}
			inode, _ := r.GetFile("/f")
			if !inode.Complete {
				t.Error("file not marked complete")
			}

			if err := r.AddPlacements("/f", placements[:1]); !errors.Is(err, common.ErrAlreadyCompleted) {
				t.Fatalf("expected ErrAlreadyCompleted, got %v", err)
			}
			if err := r.AddPlacements("/missing", placements); !errors.Is(err, common.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			records, _ = r.Placements("/f")
			if len(records) != len(placements) {
				t.Fatalf("rejected report changed placements: %d records", len(records))
			}
		})
	}
}

func TestRegistryRejectsUnknownNode(t *testing.T) {
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			r.AddDataNode(node(9001))
			r.CreateFile("/f", 10)
			err := r.AddPlacements("/f", []common.Placement{
				{Node: node(9001), BlockID: "a0", Chunk: 0},
				{Node: node(9999), BlockID: "z0", Chunk: 0},
			})
			if !errors.Is(err, common.ErrUnknownNode) {
				t.Fatalf("expected ErrUnknownNode, got %v", err)
			}
			records, err := r.Placements("/f")
			if err != nil || len(records) != 0 {
				t.Fatalf("partial report recorded: %v, %v", records, err)
			}
			inode, _ := r.GetFile("/f")
			if inode.Complete {
				t.Fatal("file marked complete after rejected report")
			}
		})
	}
}

func TestRegistryConcurrentCreate(t *testing.T) {
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			const writers = 16
			var wg sync.WaitGroup
			var mu sync.Mutex
			createdCount := 0
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(size uint64) {
					defer wg.Done()
					_, created, err := r.CreateFile("/same", size)
					if err != nil {
						t.Error(err)
						return
					}
					if created {
						mu.Lock()
						createdCount++
						mu.Unlock()
					}
				}(uint64(i))
			}
			wg.Wait()
			if createdCount != 1 {
				t.Fatalf("%d creations succeeded, want 1", createdCount)
			}
		})
	}
}

func TestRegistryLargePlacementReport(t *testing.T) {
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			r.AddDataNode(node(9001))
			r.AddDataNode(node(9002))
			const chunks = 1 << 16
			r.CreateFile("/big", chunks*common.BLOCK_SIZE)

			placements := make([]common.Placement, 0, 2*chunks)
			for chunk := uint64(0); chunk < chunks; chunk++ {
				for _, port := range []uint16{9001, 9002} {
					placements = append(placements, common.Placement{
						Node:    node(port),
						BlockID: fmt.Sprintf("%08x-0000-1000-8000-%012d", chunk, port),
						Chunk:   chunk,
					})
				}
			}
			if err := r.AddPlacements("/big", placements); err != nil {
				t.Fatal(err)
			}

			records, err := r.Placements("/big")
			if err != nil {
				t.Fatal(err)
			}
			if len(records) != len(placements) {
				t.Fatalf("got %d records, want %d", len(records), len(placements))
			}
			for _, i := range []int{0, 1, len(placements) / 2, len(placements) - 1} {
				if records[i].placement() != placements[i] {
					t.Errorf("record %d: got %+v, want %+v", i, records[i].placement(), placements[i])
				}
			}
			inode, _ := r.GetFile("/big")
			if !inode.Complete {
				t.Fatal("file not marked complete")
			}
		})
	}
}

func TestRegistryConcurrentReports(t *testing.T) {
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			r.AddDataNode(node(9001))
			r.CreateFile("/f", 3*common.BLOCK_SIZE)

			const reporters = 8
			reports := make([][]common.Placement, reporters)
			for i := range reports {
				for chunk := uint64(0); chunk < 3; chunk++ {
					reports[i] = append(reports[i], common.Placement{
						Node:    node(9001),
						BlockID: fmt.Sprintf("report-%d-chunk-%d", i, chunk),
						Chunk:   chunk,
					})
				}
			}

			var wg sync.WaitGroup
			errs := make([]error, reporters)
			for i := range reports {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					errs[i] = r.AddPlacements("/f", reports[i])
				}(i)
			}
			wg.Wait()

			winner := -1
			for i, err := range errs {
				switch {
				case err == nil:
					if winner >= 0 {
						t.Fatalf("reports %d and %d both accepted", winner, i)
					}
					winner = i
				case !errors.Is(err, common.ErrAlreadyCompleted):
					t.Fatalf("report %d: %v", i, err)
				}
			}
			if winner < 0 {
				t.Fatal("no report accepted")
			}

			records, err := r.Placements("/f")
			if err != nil {
				t.Fatal(err)
			}
			if len(records) != 3 {
				t.Fatalf("got %d records, want 3", len(records))
			}
			for i, record := range records {
				if record.placement() != reports[winner][i] {
					t.Errorf("record %d: got %+v, want %+v from the accepted report", i, record.placement(), reports[winner][i])
				}
			}
		})
	}
}
