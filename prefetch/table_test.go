package prefetch_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/prefetchsim/prefetch"
)

var _ = Describe("Indexer", func() {
	var x prefetch.Indexer

	BeforeEach(func() {
		x = prefetch.NewIndexer(64, 8)
	})

	It("should take the low bits of a key", func() {
		Expect(prefetch.Index(0x12345, 4)).To(Equal(0x5))
		Expect(prefetch.Index(0x12345, 0)).To(Equal(0))
	})

	It("should compute log2 of powers of 2", func() {
		Expect(prefetch.Log2(1)).To(Equal(uint(0)))
		Expect(prefetch.Log2(64)).To(Equal(uint(6)))
		Expect(prefetch.Log2(1024)).To(Equal(uint(10)))
	})

	It("should split an address into region base and block offset", func() {
		// 8 blocks of 64B = 512B regions
		Expect(x.RegionBase(0x1234)).To(Equal(uint64(0x1200)))
		Expect(x.BlockOffset(0x1234)).To(Equal(0))
		Expect(x.BlockOffset(0x12C0)).To(Equal(3))
		Expect(x.BlockOffset(0x13FF)).To(Equal(7))
		Expect(x.RegionBlock(0x1200, 3)).To(Equal(uint64(0x12C0)))
	})

	It("should align addresses to blocks", func() {
		Expect(x.BlockAddr(0x107F)).To(Equal(uint64(0x1040)))
		Expect(x.BlockNumber(0x1040)).To(Equal(uint64(0x41)))
	})
})

var _ = Describe("Bitmap", func() {
	It("should get every bit that was set and no other", func() {
		b := prefetch.NewBitmap(100)
		for i := 0; i < 100; i += 3 {
			b.Set(i)
		}
		for i := 0; i < 100; i++ {
			Expect(b.Get(i)).To(Equal(i%3 == 0), "bit %d", i)
		}
		Expect(b.Count()).To(Equal(34))
	})

	It("should copy bit for bit", func() {
		src := prefetch.NewBitmap(70)
		src.Set(0)
		src.Set(63)
		src.Set(64)
		src.Set(69)

		dst := prefetch.NewBitmap(70)
		dst.Set(5)
		prefetch.CopyBitmap(dst, src)

		Expect(dst.Equal(src)).To(BeTrue())
		Expect(dst.Get(5)).To(BeFalse())
	})

	It("should visit set bits in ascending order", func() {
		b := prefetch.NewBitmap(128)
		b.Set(100)
		b.Set(2)
		b.Set(64)

		var seen []int
		b.Each(func(i int) bool {
			seen = append(seen, i)
			return true
		})
		Expect(seen).To(Equal([]int{2, 64, 100}))
	})

	It("should stop visiting when asked", func() {
		b := prefetch.NewBitmap(8)
		b.Set(1)
		b.Set(2)
		b.Set(3)

		n := 0
		b.Each(func(int) bool {
			n++
			return n < 2
		})
		Expect(n).To(Equal(2))
	})

	It("should clear all bits", func() {
		b := prefetch.NewBitmap(16)
		b.Set(7)
		Expect(b.IsZero()).To(BeFalse())
		b.Clear()
		Expect(b.IsZero()).To(BeTrue())
	})
})

var _ = Describe("Table", func() {
	type entry struct{ value int }

	var t *prefetch.Table[entry]

	BeforeEach(func() {
		t = prefetch.NewTable[entry](4)
	})

	It("should start empty", func() {
		Expect(t.Len()).To(Equal(4))
		Expect(t.FindEmpty()).To(Equal(0))
		Expect(t.Find(0)).To(Equal(prefetch.NotFound))
	})

	It("should find allocated rows by tag", func() {
		i, evicted := t.Allocate(0x40)
		Expect(evicted).To(BeFalse())
		t.At(i).Entry.value = 7

		Expect(t.Find(0x40)).To(Equal(i))
		Expect(t.At(t.Find(0x40)).Entry.value).To(Equal(7))
	})

	It("should treat a zero tag as a real tag when the row is valid", func() {
		i, _ := t.Allocate(0)
		Expect(t.Find(0)).To(Equal(i))
	})

	It("should evict round-robin and report the victim when full", func() {
		var victims []uint64
		t.OnEvict(func(_ int, row *prefetch.Row[entry]) {
			victims = append(victims, row.Tag)
		})

		for tag := uint64(1); tag <= 4; tag++ {
			t.Allocate(tag)
		}
		Expect(victims).To(BeEmpty())

		i, evicted := t.Allocate(5)
		Expect(evicted).To(BeTrue())
		Expect(i).To(Equal(0))
		_, _ = t.Allocate(6)

		Expect(victims).To(Equal([]uint64{1, 2}))
		Expect(t.Find(1)).To(Equal(prefetch.NotFound))
		Expect(t.Find(5)).To(Equal(0))
	})

	It("should reuse cleared rows before evicting", func() {
		for tag := uint64(1); tag <= 4; tag++ {
			t.Allocate(tag)
		}
		t.Clear(2)

		i, evicted := t.Allocate(9)
		Expect(evicted).To(BeFalse())
		Expect(i).To(Equal(2))
	})

	It("should map keys to direct slots by their low bits", func() {
		Expect(t.SlotIndex(0x13)).To(Equal(3))
		t.Slot(0x13).Valid = true
		Expect(t.At(3).Valid).To(BeTrue())
	})

	It("should empty every row on reset", func() {
		t.Allocate(1)
		t.Allocate(2)
		t.Reset()
		Expect(t.Find(1)).To(Equal(prefetch.NotFound))
		Expect(t.FindEmpty()).To(Equal(0))
	})
})
