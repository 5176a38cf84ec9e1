package api_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/openmem/api"
	"github.com/papercomputeco/openmem/pkg/ai"
	"github.com/papercomputeco/openmem/pkg/assemble"
	"github.com/papercomputeco/openmem/pkg/hooks"
	"github.com/papercomputeco/openmem/pkg/memory"
	"github.com/papercomputeco/openmem/pkg/metrics"
	"github.com/papercomputeco/openmem/pkg/modes"
	"github.com/papercomputeco/openmem/pkg/queue"
	"github.com/papercomputeco/openmem/pkg/redact"
	"github.com/papercomputeco/openmem/pkg/search"
	"github.com/papercomputeco/openmem/pkg/storage"
)

func TestAPI(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "API Suite")
}

var _ = Describe("Server", func() {
	var store *storage.Store
	var server *api.Server
	var sess *memory.Session

	BeforeEach(func() {
		var err error
		store, err = storage.Open(storage.Config{Path: ":memory:"}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		sess, err = store.GetOrCreateSession("", "/project/alpha")
		Expect(err).NotTo(HaveOccurred())

		processor := queue.NewProcessor(queue.Config{}, store, ai.NewBasicExtractor(), modes.DefaultMode(), zap.NewNop())
		runtime := hooks.NewRuntime(hooks.Config{
			ProjectPath: "/project/alpha",
			Redactor:    redact.New(redact.Config{}, zap.NewNop()),
			Store:       store,
			Processor:   processor,
			Assembler:   assemble.New(assemble.Config{}, store, zap.NewNop()),
		}, zap.NewNop())

		server = api.NewServer(
			api.Config{ListenAddr: "127.0.0.1:0", ProjectPath: "/project/alpha"},
			store,
			search.NewOrchestrator(store, zap.NewNop()),
			runtime,
			metrics.NewRegistry(),
			zap.NewNop(),
		)
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	do := func(method, target, body string) (*http.Response, map[string]any) {
		var reader io.Reader
		if body != "" {
			reader = strings.NewReader(body)
		}
		req := httptest.NewRequest(method, target, reader)
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := server.App().Test(req, -1)
		Expect(err).NotTo(HaveOccurred())

		data, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())

		var parsed map[string]any
		if len(data) > 0 && data[0] == '{' {
			Expect(json.Unmarshal(data, &parsed)).To(Succeed())
		}
		return resp, parsed
	}

	seed := func(title string) *memory.Observation {
		o, err := store.CreateObservation(&memory.Observation{
			SessionID: sess.ID,
			Type:      memory.TypeDiscovery,
			Title:     title,
			Narrative: "narrative of " + title,
		})
		Expect(err).NotTo(HaveOccurred())
		return o
	}

	It("responds to ping", func() {
		resp, _ := do("GET", "/ping", "")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("lists observations scoped to the configured project", func() {
		seed("listed observation")

		other, err := store.GetOrCreateSession("", "/project/beta")
		Expect(err).NotTo(HaveOccurred())
		_, err = store.CreateObservation(&memory.Observation{
			SessionID: other.ID,
			Type:      memory.TypeDiscovery,
			Title:     "foreign",
			Narrative: "n",
		})
		Expect(err).NotTo(HaveOccurred())

		resp, body := do("GET", "/observations", "")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body["count"]).To(BeNumerically("==", 1))
	})

	It("creates, revises and tombstones an observation over HTTP", func() {
		resp, body := do("POST", "/observations", `{
			"type": "decision",
			"title": "created over http",
			"narrative": "first version"
		}`)
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		id := body["id"].(string)

		resp, body = do("PATCH", "/observations/"+id, `{"narrative": "second version"}`)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		newID := body["id"].(string)
		Expect(newID).NotTo(Equal(id))
		Expect(body["revision_of"]).To(Equal(id))

		resp, body = do("GET", "/observations/"+newID+"/lineage", "")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body["count"]).To(BeNumerically("==", 2))

		resp, _ = do("DELETE", "/observations/"+newID, "")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		resp, _ = do("GET", "/observations/"+newID, "")
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))

		resp, _ = do("GET", "/observations/"+newID+"?include_archived=true", "")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("computes a diff between two lineage members", func() {
		o := seed("diffable")
		resp, body := do("PATCH", "/observations/"+o.ID, `{"narrative": "changed"}`)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		newID := body["id"].(string)

		resp, body = do("GET", "/observations/"+o.ID+"/diff/"+newID, "")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body["summary"]).To(ContainSubstring("narrative"))
	})

	It("searches with project isolation", func() {
		seed("searchable caching decision")

		resp, body := do("GET", "/search?query=caching", "")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body["count"]).To(BeNumerically("==", 1))
	})

	It("rejects searches without a query", func() {
		resp, _ := do("GET", "/search", "")
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
	})

	It("returns sessions with observations and summary", func() {
		seed("session content")
		_, err := store.CreateSummary(&memory.SessionSummary{
			SessionID: sess.ID,
			Summary:   "did things",
		})
		Expect(err).NotTo(HaveOccurred())

		resp, body := do("GET", "/sessions/"+sess.ID, "")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body["session"]).NotTo(BeNil())
		Expect(body["summary"]).NotTo(BeNil())
	})

	It("reports stats, metrics, and queue status", func() {
		seed("counted")

		resp, body := do("GET", "/stats", "")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body["observation_count"]).To(BeNumerically("==", 1))

		resp, _ = do("GET", "/metrics", "")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		resp, _ = do("GET", "/queue/status", "")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("exports and imports a project dump", func() {
		seed("exported")

		req := httptest.NewRequest("GET", "/export", nil)
		resp, err := server.App().Test(req, -1)
		Expect(err).NotTo(HaveOccurred())
		dump, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())

		resp2, body := do("POST", "/import?mode=merge", string(dump))
		Expect(resp2.StatusCode).To(Equal(http.StatusOK))
		Expect(body["imported"]).To(BeNumerically("==", 0))
	})

	It("drains the queue on the process trigger", func() {
		_, err := store.Enqueue(sess.ID, "bash", "raw capture output to be distilled", "call-1")
		Expect(err).NotTo(HaveOccurred())

		resp, body := do("POST", "/queue/process", "")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body["processed"]).To(Equal(true))

		resp, statusBody := do("GET", "/queue/status", "")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(statusBody).NotTo(HaveKey("pending"))
	})
})
