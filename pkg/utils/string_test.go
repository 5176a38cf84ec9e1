package utils_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/openmem/pkg/utils"
)

func TestUtils(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Utils Suite")
}

var _ = Describe("Truncate", func() {
	It("returns short strings unchanged", func() {
		Expect(utils.Truncate("short", 10)).To(Equal("short"))
	})

	It("truncates long strings with an ellipsis", func() {
		Expect(utils.Truncate("a very long string", 6)).To(Equal("a very..."))
	})
})
