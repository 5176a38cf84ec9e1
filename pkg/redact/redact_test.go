package redact_test

import (
	"strings"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/openmem/pkg/redact"
)

func TestRedact(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Redact Suite")
}

var _ = Describe("Redactor", func() {
	var r *redact.Redactor

	BeforeEach(func() {
		r = redact.New(redact.Config{MinLength: 10}, zap.NewNop())
	})

	Describe("private blocks", func() {
		It("strips a private block including its delimiters", func() {
			out := r.Redact("keep <private>secret stuff</private> this")
			Expect(out).To(Equal("keep  this"))
		})

		It("strips blocks spanning multiple lines", func() {
			out := r.Redact("before\n<private>line one\nline two</private>\nafter")
			Expect(out).NotTo(ContainSubstring("line one"))
			Expect(out).To(ContainSubstring("before"))
			Expect(out).To(ContainSubstring("after"))
		})

		It("strips multiple non-nested blocks independently", func() {
			out := r.Redact("a <private>x</private> b <private>y</private> c")
			Expect(out).NotTo(ContainSubstring("x"))
			Expect(out).NotTo(ContainSubstring("y"))
			Expect(out).To(ContainSubstring("b"))
		})
	})

	Describe("sensitive patterns", func() {
		It("redacts provider API keys", func() {
			out := r.Redact("export ANTHROPIC_API_KEY=sk-ant-abc123def456ghi789 please")
			Expect(out).NotTo(ContainSubstring("sk-ant-abc123def456ghi789"))
			Expect(out).To(ContainSubstring(redact.Marker))
		})

		It("redacts high-entropy opaque runs", func() {
			token := strings.Repeat("Ab3", 20) // 60 chars of base64-ish text
			out := r.Redact("token is " + token + " end")
			Expect(out).NotTo(ContainSubstring(token))
			Expect(out).To(ContainSubstring(redact.Marker))
		})

		It("applies configured patterns case-insensitively", func() {
			custom := redact.New(redact.Config{Patterns: []string{`password=\S+`}}, zap.NewNop())
			out := custom.Redact("PASSWORD=hunter2 rest")
			Expect(out).NotTo(ContainSubstring("hunter2"))
		})

		It("skips invalid patterns without failing", func() {
			custom := redact.New(redact.Config{Patterns: []string{`([bad`}}, zap.NewNop())
			Expect(custom.Redact("plain text survives")).To(Equal("plain text survives"))
		})
	})

	Describe("Suppress", func() {
		It("suppresses output shorter than the minimum", func() {
			Expect(r.Suppress("short")).To(BeTrue())
			Expect(r.Suppress("long enough to keep around")).To(BeFalse())
		})
	})
})
