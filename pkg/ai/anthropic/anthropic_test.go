package anthropic_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/openmem/pkg/ai"
	"github.com/papercomputeco/openmem/pkg/ai/anthropic"
)

func TestAnthropic(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Anthropic Suite")
}

var _ = Describe("Client", func() {
	It("requires an API key", func() {
		GinkgoT().Setenv("ANTHROPIC_API_KEY", "")
		_, err := anthropic.NewClient(anthropic.Config{})
		Expect(ai.IsConfigError(err)).To(BeTrue())
	})

	It("extracts the first text block from a response", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Path).To(Equal("/v1/messages"))
			Expect(r.Header.Get("x-api-key")).To(Equal("test-key"))
			w.Write([]byte(`{"content":[{"type":"text","text":"distilled"}]}`))
		}))
		defer server.Close()

		c, err := anthropic.NewClient(anthropic.Config{APIKey: "test-key", BaseURL: server.URL})
		Expect(err).NotTo(HaveOccurred())

		reply, err := c.Chat(context.Background(), "sys", "user")
		Expect(err).NotTo(HaveOccurred())
		Expect(reply).To(Equal("distilled"))
	})

	It("short-circuits on authentication failures", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		c, err := anthropic.NewClient(anthropic.Config{APIKey: "bad-key", BaseURL: server.URL})
		Expect(err).NotTo(HaveOccurred())

		_, err = c.Chat(context.Background(), "sys", "user")
		Expect(ai.IsConfigError(err)).To(BeTrue())
	})
})
