package prefetch_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/prefetchsim/prefetch"
)

var _ = Describe("ISB", func() {
	// Block addresses chosen to fall in distinct rows of a 64-row table.
	const (
		a = uint64(0x1000)
		b = uint64(0x7040)
		c = uint64(0x3080)
		d = uint64(0x90C0)
		e = uint64(0x5100)
		x = uint64(0xB140)
	)

	var (
		host   *fakeHost
		config prefetch.Config
		p      *prefetch.ISB
	)

	build := func() {
		p = prefetch.NewISB(config, host)
		Expect(p.Init()).To(Succeed())
	}

	BeforeEach(func() {
		host = newFakeHost()
		config = prefetch.DefaultConfig(prefetch.KindISB)
		config.ISBTrainingSize = 16
		config.ISBTableSize = 64
		config.ISBChunkSize = 4
		config.ISBMaxConfidence = 3
		config.ISBDegree = 4
		build()
	})

	train := func(pc uint64, addrs ...uint64) {
		for _, addr := range addrs {
			p.Access(prefetch.AccessStat{PC: pc, Addr: addr, Miss: false})
		}
	}

	structural := func(addr uint64) (uint64, uint8) {
		s, conf, ok := p.Structural(addr)
		Expect(ok).To(BeTrue())
		return s, conf
	}

	Describe("Training", func() {
		It("should give consecutive structural addresses to a new stream", func() {
			train(0x10, a, b, c)

			s, conf := structural(a)
			Expect(s).To(Equal(uint64(0)))
			Expect(conf).To(Equal(uint8(1)))
			s, _ = structural(b)
			Expect(s).To(Equal(uint64(1)))
			s, _ = structural(c)
			Expect(s).To(Equal(uint64(2)))

			phys, ok := p.Physical(1)
			Expect(ok).To(BeTrue())
			Expect(phys).To(Equal(b))
		})

		It("should work on block addresses", func() {
			train(0x10, a+4, b+60)
			s, _ := structural(b)
			Expect(s).To(Equal(uint64(1)))
		})

		It("should raise confidence when a pair repeats and saturate", func() {
			train(0x10, a, b)
			train(0x11, a, b)
			_, conf := structural(b)
			Expect(conf).To(Equal(uint8(2)))

			train(0x12, a, b)
			train(0x13, a, b)
			train(0x14, a, b)
			_, conf = structural(b)
			Expect(conf).To(Equal(uint8(3)))
		})

		It("should give an unmapped predecessor a new chunk when the slot before is taken", func() {
			train(0x10, a, b)
			train(0x11, x, b)

			s, _ := structural(x)
			Expect(s).To(Equal(uint64(4)))
			s, _ = structural(b)
			Expect(s).To(Equal(uint64(1)))
		})

		It("should place an unmapped predecessor in the free slot before", func() {
			// z shares a's row in the mapping table and pushes a out,
			// leaving slot 0 free.
			const z = uint64(0x2000)
			train(0x10, a, b)
			train(0x11, z, e)
			_, _, ok := p.Structural(a)
			Expect(ok).To(BeFalse())

			train(0x12, d, b)
			s, conf := structural(d)
			Expect(s).To(Equal(uint64(0)))
			Expect(conf).To(Equal(uint8(1)))

			p.Access(prefetch.AccessStat{PC: 0x20, Addr: d, Miss: true})
			Expect(host.issued).To(Equal([]uint64{b}))
		})

		It("should only lose confidence on the first conflict at confidence 1", func() {
			train(0x10, a, b)
			train(0x11, x, b)
			train(0x12, x, b)

			s, conf := structural(b)
			Expect(s).To(Equal(uint64(1)))
			Expect(conf).To(Equal(uint8(0)))
		})

		It("should re-link a block on a conflict at zero confidence", func() {
			train(0x10, a, b)
			train(0x11, x, b)
			train(0x12, x, b)
			train(0x13, x, b)

			s, conf := structural(b)
			Expect(s).To(Equal(uint64(5)))
			Expect(conf).To(Equal(uint8(1)))

			_, ok := p.Physical(1)
			Expect(ok).To(BeFalse())
		})

		It("should resist re-linking a confident block", func() {
			train(0x10, a, b)
			train(0x11, a, b)
			train(0x12, x, b)
			train(0x13, x, b)

			s, conf := structural(b)
			Expect(s).To(Equal(uint64(1)))
			Expect(conf).To(Equal(uint8(1)))
		})

		It("should start a new chunk at the end of a chunk", func() {
			train(0x10, a, b, c, d, e)

			s, _ := structural(d)
			Expect(s).To(Equal(uint64(3)))
			s, _ = structural(e)
			Expect(s).To(Equal(uint64(4)))
		})
	})

	Describe("Recurring streams", func() {
		seq := []uint64{a, b, c, d, e, x}

		replay := func() []uint64 {
			host.reset()
			for _, addr := range seq {
				p.Access(prefetch.AccessStat{PC: 0x30, Addr: addr, Miss: true})
			}
			return host.issued
		}

		BeforeEach(func() {
			config.ISBChunkSize = 256
			build()
		})

		It("should learn nothing it can issue on the first pass", func() {
			Expect(replay()).To(BeEmpty())
		})

		It("should issue the successors of the head on the second pass", func() {
			replay()
			issued := replay()
			Expect(issued[:4]).To(Equal([]uint64{b, c, d, e}))
		})

		It("should keep prefetching the sequence on every later pass", func() {
			replay()
			replay()
			for rep := 2; rep < 10; rep++ {
				issued := replay()
				Expect(issued).NotTo(BeEmpty(), "pass %d", rep)
				for _, addr := range issued {
					Expect(seq).To(ContainElement(addr), "pass %d", rep)
				}
			}
		})

		It("should keep the head mapped after the loop closes once", func() {
			replay()
			replay()
			s, conf := structural(a)
			Expect(s).To(Equal(uint64(0)))
			Expect(conf).To(Equal(uint8(0)))
		})
	})

	Describe("Prediction", func() {
		BeforeEach(func() {
			train(0x10, a, b, c)
		})

		It("should walk the structural stream until the first gap", func() {
			p.Access(prefetch.AccessStat{PC: 0x20, Addr: a, Miss: true})
			Expect(host.issued).To(Equal([]uint64{b, c}))
		})

		It("should stop at the degree", func() {
			config.ISBDegree = 1
			build()
			train(0x10, a, b, c)
			p.Access(prefetch.AccessStat{PC: 0x20, Addr: a, Miss: true})
			Expect(host.issued).To(Equal([]uint64{b}))
		})

		It("should not cross the end of a chunk", func() {
			train(0x10, d, e)
			p.Access(prefetch.AccessStat{PC: 0x20, Addr: a, Miss: true})
			Expect(host.issued).To(Equal([]uint64{b, c, d}))
		})

		It("should skip resident blocks but keep walking", func() {
			host.resident[b] = true
			p.Access(prefetch.AccessStat{PC: 0x20, Addr: a, Miss: true})
			Expect(host.issued).To(Equal([]uint64{c}))
		})

		It("should trigger on a hit to a prefetched block", func() {
			host.prefetched[a] = true
			p.Access(prefetch.AccessStat{PC: 0x20, Addr: a, Miss: false})
			Expect(host.issued).To(Equal([]uint64{b, c}))
		})

		It("should not trigger on an ordinary hit", func() {
			p.Access(prefetch.AccessStat{PC: 0x20, Addr: a, Miss: false})
			Expect(host.issued).To(BeEmpty())
		})
	})
})
