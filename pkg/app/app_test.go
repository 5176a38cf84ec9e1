package app_test

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/openmem/pkg/app"
)

func TestApp(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "App Suite")
}

var _ = Describe("New", func() {
	var tmpDir string

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		// No provider credentials: compression degrades to the basic
		// extractor with a startup warning.
		GinkgoT().Setenv("ANTHROPIC_API_KEY", "")
		GinkgoT().Setenv("OPENAI_API_KEY", "")
	})

	It("creates the .open-mem directory and database", func() {
		a, err := app.New(tmpDir, false)
		Expect(err).NotTo(HaveOccurred())
		defer a.Close()

		Expect(a.Dir).To(Equal(filepath.Join(tmpDir, ".open-mem")))
		_, err = os.Stat(filepath.Join(a.Dir, "memory.db"))
		Expect(err).NotTo(HaveOccurred())

		Expect(a.Runtime).NotTo(BeNil())
		Expect(a.Processor).NotTo(BeNil())
		Expect(a.Search).NotTo(BeNil())
	})

	It("honors config.json overrides", func() {
		dir := filepath.Join(tmpDir, ".open-mem")
		Expect(os.MkdirAll(dir, 0o755)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(dir, "config.json"),
			[]byte(`{"processing":{"batch_size":3},"embedding":{"provider":""}}`), 0o644)).To(Succeed())

		a, err := app.New(tmpDir, false)
		Expect(err).NotTo(HaveOccurred())
		defer a.Close()

		Expect(a.Config.Processing.BatchSize).To(Equal(3))
		Expect(a.Store.VectorEnabled()).To(BeFalse())
	})

	It("reports daemon liveness through the lock file", func() {
		a, err := app.New(tmpDir, false)
		Expect(err).NotTo(HaveOccurred())
		defer a.Close()

		Expect(a.DaemonAlive()).To(BeFalse())

		lock, err := a.AcquireLock()
		Expect(err).NotTo(HaveOccurred())
		Expect(a.DaemonAlive()).To(BeTrue())
		Expect(lock.Release()).To(Succeed())
		Expect(a.DaemonAlive()).To(BeFalse())
	})
})
