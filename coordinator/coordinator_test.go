package coordinator_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/ksort/distsort/cluster"
	"github.com/ksort/distsort/coordinator"
)

func mustTopo() *cluster.Topology {
	topo, err := cluster.NewTopology(2, 2, 2, 1, map[int]string{})
	Expect(err).ToNot(HaveOccurred())
	return topo
}

var _ = Describe("CycleDest", func() {
	It("starts at the first Sorter rank and wraps past the last", func() {
		topo := mustTopo()
		cd := coordinator.NewCycleDest(topo)
		first := topo.FirstSorterRank()
		last := topo.LastSorterRank()

		Expect(cd.Next()).To(Equal(first))
		Expect(cd.Next()).To(Equal(last))
		Expect(cd.Next()).To(Equal(first)) // wrapped
	})
})

var _ = Describe("Master.Tick", func() {
	It("increases the tag strictly by 2 on every assignment", func() {
		topo := mustTopo()
		m := coordinator.NewMaster(topo, 10)

		r1 := m.Tick(coordinator.TickRequest{Rank: 0, FullLen: 1})
		r2 := m.Tick(coordinator.TickRequest{Rank: 1, FullLen: 1})
		Expect(r1.Assignment.Assigned).To(BeTrue())
		Expect(r2.Assignment.Assigned).To(BeTrue())
		Expect(r2.Assignment.Tag - r1.Assignment.Tag).To(Equal(2))
	})

	It("does not assign a destination when a rank reports no full buffers", func() {
		topo := mustTopo()
		m := coordinator.NewMaster(topo, 10)
		r := m.Tick(coordinator.TickRequest{Rank: 0, FullLen: 0})
		Expect(r.Assignment.Assigned).To(BeFalse())
	})

	It("accumulates filesDelivered across ticks", func() {
		topo := mustTopo()
		m := coordinator.NewMaster(topo, 10)
		m.Tick(coordinator.TickRequest{Rank: 0, FilesSentPrev: 3})
		m.Tick(coordinator.TickRequest{Rank: 1, FilesSentPrev: 4})
		Expect(m.Delivered()).To(Equal(7))
		Expect(m.Done()).To(BeFalse())
	})
})
