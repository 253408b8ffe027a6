package cluster_test

import (
	"testing"

	"github.com/ksort/distsort/cluster"
)

func TestRoleRanges(t *testing.T) {
	topo, err := cluster.NewTopology(2, 2, 4, 2, map[int]string{})
	if err != nil {
		t.Fatalf("NewTopology: %v", err)
	}
	cases := []struct {
		rank int
		role cluster.Role
	}{
		{0, cluster.RoleReader}, {1, cluster.RoleReader},
		{2, cluster.RoleTransferrer}, {3, cluster.RoleTransferrer},
		{4, cluster.RoleSorter}, {5, cluster.RoleSorter}, {6, cluster.RoleSorter}, {7, cluster.RoleSorter},
	}
	for _, c := range cases {
		n, ok := topo.Node(c.rank)
		if !ok {
			t.Fatalf("rank %d not found", c.rank)
		}
		if n.Role != c.role {
			t.Errorf("rank %d: got role %v, want %v", c.rank, n.Role, c.role)
		}
	}
}

func TestSorterMasterIsLowestRankOnHost(t *testing.T) {
	topo, err := cluster.NewTopology(2, 2, 4, 2, map[int]string{})
	if err != nil {
		t.Fatalf("NewTopology: %v", err)
	}
	for host := 0; host < 2; host++ {
		master, ok := topo.SorterMaster(host)
		if !ok {
			t.Fatalf("host %d: no sorter master", host)
		}
		for _, rank := range topo.SortersOnHost(host) {
			if master > rank {
				t.Errorf("host %d: master %d is not the lowest rank among %v", host, master, topo.SortersOnHost(host))
			}
		}
	}
}

func TestAssignFileStriping(t *testing.T) {
	topo, err := cluster.NewTopology(3, 3, 3, 1, map[int]string{})
	if err != nil {
		t.Fatalf("NewTopology: %v", err)
	}
	for f := 0; f < 9; f++ {
		reader, iter := topo.AssignFile(f)
		if reader != f%3 || iter != f/3 {
			t.Errorf("AssignFile(%d) = (%d,%d), want (%d,%d)", f, reader, iter, f%3, f/3)
		}
	}
}

func TestRXMismatchRejected(t *testing.T) {
	if _, err := cluster.NewTopology(2, 3, 4, 1, map[int]string{}); err == nil {
		t.Fatal("expected error when R != X")
	}
}
