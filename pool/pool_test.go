package pool_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/ksort/distsort/pool"
)

var _ = Describe("Pool", func() {
	It("starts with every index on the empty list", func() {
		p := pool.New(4, 16)
		Expect(p.NumEmpty()).To(Equal(4))
		Expect(p.NumFull()).To(Equal(0))
	})

	It("conserves buffer count across acquire/release", func() {
		p := pool.New(4, 16)
		idx, ok := p.AcquireEmpty()
		Expect(ok).To(BeTrue())
		p.ReleaseFull(idx)
		Expect(p.NumEmpty()).To(Equal(3))
		Expect(p.NumFull()).To(Equal(1))

		runs := p.PeekFullPrefix(4)
		Expect(runs).To(HaveLen(1))
		Expect(runs[0]).To(Equal(pool.Run{Start: idx, Count: 1}))

		p.ReleaseEmpty(runs[0])
		Expect(p.NumEmpty()).To(Equal(4))
		Expect(p.NumFull()).To(Equal(0))
	})

	It("coalesces contiguous indices under PeekFullPrefix", func() {
		p := pool.New(4, 16)
		var idxs []int
		for i := 0; i < 4; i++ {
			idx, ok := p.AcquireEmpty()
			Expect(ok).To(BeTrue())
			idxs = append(idxs, idx)
		}
		for _, idx := range idxs {
			p.ReleaseFull(idx)
		}
		runs := p.PeekFullPrefix(4)
		Expect(runs).To(HaveLen(1))
		Expect(runs[0].Count).To(Equal(4))
	})

	It("respects the max coalesce bound", func() {
		p := pool.New(4, 16)
		for i := 0; i < 4; i++ {
			idx, _ := p.AcquireEmpty()
			p.ReleaseFull(idx)
		}
		runs := p.PeekFullPrefix(2)
		Expect(runs).To(HaveLen(1))
		Expect(runs[0].Count).To(Equal(2))
		Expect(p.NumFull()).To(Equal(2))
	})

	It("does not coalesce across a gap left by an out-of-order release", func() {
		p := pool.New(4, 16)
		idxs := make([]int, 4)
		for i := range idxs {
			idxs[i], _ = p.AcquireEmpty()
		}
		// p has all four buffers acquired, so make the gap in a second
		// pool: acquire 0, 1, 2, 3 and release 0, 1, 3 while 2 stays
		// acquired, leaving two non-adjacent groups on the full list.
		p2 := pool.New(6, 16)
		a, _ := p2.AcquireEmpty()
		b, _ := p2.AcquireEmpty()
		_, _ = p2.AcquireEmpty() // skipped, stays empty
		c, _ := p2.AcquireEmpty()
		p2.ReleaseFull(a)
		p2.ReleaseFull(b)
		p2.ReleaseFull(c)
		runs := p2.PeekFullPrefix(8)
		Expect(runs).To(HaveLen(2))
		total := 0
		for _, r := range runs {
			total += r.Count
		}
		Expect(total).To(Equal(3))

		// idxs is not used further; p keeps all four buffers acquired.
		_ = idxs
	})
})
