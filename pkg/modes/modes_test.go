package modes_test

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/openmem/pkg/modes"
)

func TestModes(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Modes Suite")
}

var _ = Describe("Loader", func() {
	var tmpDir string
	var loader *modes.Loader

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		loader = modes.NewLoader(tmpDir, zap.NewNop())
	})

	writeMode := func(id, body string) {
		path := filepath.Join(tmpDir, id+".json")
		Expect(os.WriteFile(path, []byte(body), 0o644)).To(Succeed())
	}

	It("returns the default mode for an empty id", func() {
		m := loader.Load("")
		Expect(m.ID).To(Equal(modes.DefaultModeID))
		Expect(m.ObservationTypes).To(ContainElement("decision"))
	})

	It("loads a standalone mode overlaid on the defaults", func() {
		writeMode("docs", `{"id":"docs","observation_types":["discovery","change"]}`)
		m := loader.Load("docs")
		Expect(m.ID).To(Equal("docs"))
		Expect(m.ObservationTypes).To(Equal([]string{"discovery", "change"}))
		// Unset fields inherit the defaults.
		Expect(m.EntityTypes).NotTo(BeEmpty())
	})

	It("applies extends with the child overriding the parent", func() {
		writeMode("base", `{"id":"base","concepts":["infra"],"entity_types":["service"]}`)
		writeMode("child", `{"id":"child","extends":"base","concepts":["frontend"]}`)
		m := loader.Load("child")
		Expect(m.Concepts).To(Equal([]string{"frontend"}))
		Expect(m.EntityTypes).To(Equal([]string{"service"}))
	})

	It("falls back to the default mode on a cyclic extends chain", func() {
		writeMode("a", `{"id":"a","extends":"b","concepts":["from-a"]}`)
		writeMode("b", `{"id":"b","extends":"a","concepts":["from-b"]}`)
		m := loader.Load("a")
		Expect(m.ID).To(Equal(modes.DefaultModeID))
		Expect(m.Concepts).NotTo(ContainElement("from-a"))
	})

	It("falls back to the default mode when a file is missing", func() {
		m := loader.Load("nope")
		Expect(m.ID).To(Equal(modes.DefaultModeID))
	})

	It("falls back to the default mode on malformed JSON", func() {
		writeMode("broken", `{not json`)
		m := loader.Load("broken")
		Expect(m.ID).To(Equal(modes.DefaultModeID))
	})
})
