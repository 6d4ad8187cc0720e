package harness_test

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/prefetchsim/harness"
	"github.com/sarchlab/prefetchsim/prefetch"
	"github.com/sarchlab/prefetchsim/trace"
)

var _ = Describe("Harness", func() {
	var (
		out     *bytes.Buffer
		h       *harness.Harness
		records []trace.Record
	)

	BeforeEach(func() {
		out = &bytes.Buffer{}
		config := harness.DefaultConfig()
		config.Output = out
		config.Cache.FillLatency = 1
		h = harness.NewHarness(config)

		records = trace.Stride(0x400, 0x100000, 128, 100)
	})

	Describe("Run", func() {
		It("should miss on every block without a prefetcher", func() {
			r, err := h.Run(context.Background(), "stride",
				prefetch.DefaultConfig(prefetch.KindNone), records)
			Expect(err).NotTo(HaveOccurred())

			Expect(r.Prefetcher).To(Equal(prefetch.KindNone))
			Expect(r.Accesses).To(Equal(uint64(100)))
			Expect(r.Misses).To(Equal(uint64(100)))
			Expect(r.MissRate).To(Equal(1.0))
			Expect(r.Issued).To(BeZero())
			Expect(r.Coverage).To(BeZero())
			Expect(r.Accuracy).To(BeZero())
		})

		It("should cover a strided walk once the stride is confirmed", func() {
			r, err := h.Run(context.Background(), "stride",
				prefetch.DefaultConfig(prefetch.KindStride), records)
			Expect(err).NotTo(HaveOccurred())

			Expect(r.Misses).To(Equal(uint64(3)))
			Expect(r.Hits).To(Equal(uint64(97)))
			Expect(r.Issued).To(Equal(uint64(98)))
			Expect(r.Fills).To(Equal(uint64(98)))
			Expect(r.Useful).To(Equal(uint64(97)))
			Expect(r.Late).To(BeZero())
			Expect(r.Coverage).To(BeNumerically("~", 0.97, 1e-9))
			Expect(r.Accuracy).To(BeNumerically("~", 97.0/98.0, 1e-9))
		})

		It("should count prefetches that arrive after the demand as late", func() {
			config := h.Config()
			config.Cache.FillLatency = 8
			h = harness.NewHarness(config)

			r, err := h.Run(context.Background(), "stride",
				prefetch.DefaultConfig(prefetch.KindStride), records)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Late).To(BeNumerically(">", 0))
			Expect(r.Useful).To(BeZero())
		})

		It("should cover a recurring irregular sequence with the correlating prefetchers", func() {
			records, err := trace.Generate(trace.SyntheticCorrelated, 20000, 1)
			Expect(err).NotTo(HaveOccurred())

			h = harness.NewHarness(harness.DefaultConfig())
			baseline, err := h.Run(context.Background(), "correlated",
				prefetch.DefaultConfig(prefetch.KindNone), records)
			Expect(err).NotTo(HaveOccurred())
			Expect(baseline.Misses).To(BeNumerically(">", uint64(len(records)/2)))

			for _, kind := range []string{prefetch.KindISB, prefetch.KindDomino} {
				r, err := h.Run(context.Background(), "correlated",
					prefetch.DefaultConfig(kind), records)
				Expect(err).NotTo(HaveOccurred(), kind)
				Expect(r.Issued).To(BeNumerically(">", 0), kind)
				Expect(r.Useful).To(BeNumerically(">", 0), kind)
				Expect(r.Coverage).To(BeNumerically(">", 0), kind)
				Expect(r.Misses).To(BeNumerically("<", baseline.Misses), kind)
			}
		})

		It("should reject a block size that differs from the cache", func() {
			pconf := prefetch.DefaultConfig(prefetch.KindStride)
			pconf.BlockSize = 128
			_, err := h.Run(context.Background(), "stride", pconf, records)
			Expect(err).To(MatchError(ContainSubstring("block size")))
		})

		It("should stop when the context is cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err := h.Run(ctx, "stride",
				prefetch.DefaultConfig(prefetch.KindStride), records)
			Expect(err).To(MatchError(context.Canceled))
		})
	})

	Describe("RunAll", func() {
		It("should return results in request order", func() {
			var pconfs []prefetch.Config
			for _, kind := range prefetch.Kinds {
				pconfs = append(pconfs, prefetch.DefaultConfig(kind))
			}

			results, err := h.RunAll(context.Background(), "stride", pconfs, records)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(len(prefetch.Kinds)))
			for i, kind := range prefetch.Kinds {
				Expect(results[i].Prefetcher).To(Equal(kind))
				Expect(results[i].Accesses).To(Equal(uint64(100)))
			}
		})

		It("should name the failing prefetcher", func() {
			bad := prefetch.DefaultConfig(prefetch.KindRPT)
			bad.RPTTableSize = 3

			_, err := h.RunAll(context.Background(), "stride", []prefetch.Config{
				prefetch.DefaultConfig(prefetch.KindStride), bad,
			}, records)
			Expect(err).To(MatchError(ContainSubstring("rpt")))
		})
	})

	Describe("Reports", func() {
		var results []harness.Result

		BeforeEach(func() {
			var err error
			results, err = h.RunAll(context.Background(), "stride", []prefetch.Config{
				prefetch.DefaultConfig(prefetch.KindNone),
				prefetch.DefaultConfig(prefetch.KindStride),
			}, records)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should print a human-readable summary", func() {
			h.PrintResults(results)
			Expect(out.String()).To(ContainSubstring("Prefetcher: stride"))
			Expect(out.String()).To(ContainSubstring("Coverage:        97.0%"))
		})

		It("should print one CSV row per result", func() {
			h.PrintCSV(results)
			lines := strings.Split(strings.TrimSpace(out.String()), "\n")
			Expect(lines).To(HaveLen(3))
			Expect(lines[0]).To(HavePrefix("name,prefetcher,"))
			Expect(lines[2]).To(HavePrefix("stride,stride,100,97,3,"))
		})

		It("should summarize and round-trip a JSON report", func() {
			report := h.NewReport("stride", trace.Digest(records), results)
			Expect(report.Summary.TotalRuns).To(Equal(2))
			Expect(report.Summary.BestCoverage).To(Equal(prefetch.KindStride))

			path := filepath.Join(GinkgoT().TempDir(), "report.json")
			Expect(harness.WriteJSON(path, report)).To(Succeed())

			loaded, err := harness.LoadReport(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.Metadata.Digest).To(Equal(report.Metadata.Digest))
			Expect(loaded.Results).To(Equal(report.Results))
		})
	})
})
