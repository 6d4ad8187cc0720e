package results_test

import (
	"context"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/prefetchsim/harness"
	"github.com/sarchlab/prefetchsim/results"
)

var _ = Describe("Store", func() {
	var (
		ctx   context.Context
		path  string
		store *results.Store
	)

	sample := func(kind string, useful uint64) harness.Result {
		r := harness.Result{
			Name:       "stride",
			Prefetcher: kind,
			Accesses:   100,
			Hits:       useful,
			Misses:     100 - useful,
			Issued:     useful + 1,
			Fills:      useful + 1,
			Useful:     useful,
			WallTime:   3 * time.Millisecond,
		}
		harness.Derive(&r)
		return r
	}

	BeforeEach(func() {
		ctx = context.Background()
		path = filepath.Join(GinkgoT().TempDir(), "results.db")

		var err error
		store, err = results.Open(path)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = store.Close() })
	})

	It("should save and load a run in order", func() {
		saved := []harness.Result{sample("stride", 97), sample("none", 0)}

		id, err := store.Save(ctx, "stride", "abc", saved)
		Expect(err).NotTo(HaveOccurred())
		Expect(id).NotTo(BeEmpty())

		loaded, err := store.Load(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded).To(Equal(saved))
	})

	It("should list runs filtered by digest", func() {
		first, err := store.Save(ctx, "a", "d1", []harness.Result{sample("rpt", 5)})
		Expect(err).NotTo(HaveOccurred())
		_, err = store.Save(ctx, "b", "d2", []harness.Result{sample("isb", 5)})
		Expect(err).NotTo(HaveOccurred())

		runs, err := store.Runs(ctx, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(runs).To(HaveLen(2))

		runs, err = store.Runs(ctx, "d1")
		Expect(err).NotTo(HaveOccurred())
		Expect(runs).To(HaveLen(1))
		Expect(runs[0].ID).To(Equal(first))
		Expect(runs[0].Trace).To(Equal("a"))
	})

	It("should keep runs across reopening", func() {
		id, err := store.Save(ctx, "a", "d1", []harness.Result{sample("sms", 10)})
		Expect(err).NotTo(HaveOccurred())
		Expect(store.Close()).To(Succeed())

		store, err = results.Open(path)
		Expect(err).NotTo(HaveOccurred())

		loaded, err := store.Load(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded).To(HaveLen(1))
		Expect(loaded[0].Prefetcher).To(Equal("sms"))
	})

	It("should report an unknown run", func() {
		_, err := store.Load(ctx, "missing")
		Expect(err).To(MatchError(ContainSubstring("failed to find run")))
	})
})
