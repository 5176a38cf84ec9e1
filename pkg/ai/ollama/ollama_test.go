package ollama_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/openmem/pkg/ai"
	"github.com/papercomputeco/openmem/pkg/ai/ollama"
)

func TestOllama(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Ollama Suite")
}

var _ = Describe("Client", func() {
	var server *httptest.Server

	AfterEach(func() {
		if server != nil {
			server.Close()
		}
	})

	newClient := func() *ollama.Client {
		c, err := ollama.NewClient(ollama.Config{BaseURL: server.URL})
		Expect(err).NotTo(HaveOccurred())
		return c
	}

	It("returns the chat message content", func() {
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Path).To(Equal("/api/chat"))
			w.Write([]byte(`{"message":{"role":"assistant","content":"hello"}}`))
		}))

		reply, err := newClient().Chat(context.Background(), "sys", "user")
		Expect(err).NotTo(HaveOccurred())
		Expect(reply).To(Equal("hello"))
	})

	It("returns the first embedding vector", func() {
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Path).To(Equal("/api/embed"))
			w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3]]}`))
		}))

		vec, err := newClient().Embed(context.Background(), "text")
		Expect(err).NotTo(HaveOccurred())
		Expect(vec).To(Equal([]float32{0.1, 0.2, 0.3}))
	})

	It("classifies server errors as retryable", func() {
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))

		_, err := newClient().Chat(context.Background(), "sys", "user")
		Expect(ai.IsRetryable(err)).To(BeTrue())
	})

	It("classifies bad requests as config errors", func() {
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}))

		_, err := newClient().Embed(context.Background(), "text")
		Expect(ai.IsConfigError(err)).To(BeTrue())
	})
})
