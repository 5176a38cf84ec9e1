package storage_test

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/openmem/pkg/memory"
	"github.com/papercomputeco/openmem/pkg/storage"
)

func TestStorage(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Storage Suite")
}

var _ = Describe("Store", func() {
	var store *storage.Store

	BeforeEach(func() {
		var err error
		store, err = storage.Open(storage.Config{Path: ":memory:", Dimensions: 4}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	seedSession := func(projectPath string) *memory.Session {
		sess, err := store.GetOrCreateSession("", projectPath)
		Expect(err).NotTo(HaveOccurred())
		return sess
	}

	seedObservation := func(sessionID string, mutate func(*memory.Observation)) *memory.Observation {
		o := &memory.Observation{
			SessionID: sessionID,
			Type:      memory.TypeDiscovery,
			Title:     "seeded observation",
			Narrative: "something was learned",
		}
		if mutate != nil {
			mutate(o)
		}
		created, err := store.CreateObservation(o)
		Expect(err).NotTo(HaveOccurred())
		return created
	}

	Describe("CreateObservation", func() {
		It("assigns id, creation time and token costs", func() {
			sess := seedSession("/project/alpha")
			o := seedObservation(sess.ID, func(o *memory.Observation) {
				o.Narrative = "12345678"
				o.RawToolOutput = "raw output before compression"
			})

			Expect(o.ID).NotTo(BeEmpty())
			Expect(o.CreatedAt).NotTo(BeZero())
			Expect(o.TokenCount).To(Equal(2))
			Expect(o.DiscoveryTokens).To(BeNumerically(">", 0))
		})

		It("rejects unknown types", func() {
			sess := seedSession("/project/alpha")
			_, err := store.CreateObservation(&memory.Observation{
				SessionID: sess.ID,
				Type:      "haiku",
				Title:     "t",
			})
			Expect(err).To(MatchError(memory.ErrValidation))
		})

		It("bumps the session observation count", func() {
			sess := seedSession("/project/alpha")
			seedObservation(sess.ID, nil)
			seedObservation(sess.ID, nil)

			got, err := store.GetSession(sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ObservationCount).To(Equal(2))
		})
	})

	Describe("revision lineage", func() {
		It("creates a successor and archives the predecessor", func() {
			sess := seedSession("/project/alpha")
			o1 := seedObservation(sess.ID, func(o *memory.Observation) { o.Narrative = "x" })

			narrative := "y"
			o2, err := store.UpdateObservation(o1.ID, storage.ObservationPatch{Narrative: &narrative})
			Expect(err).NotTo(HaveOccurred())
			Expect(o2.ID).NotTo(Equal(o1.ID))
			Expect(o2.RevisionOf).To(Equal(o1.ID))
			Expect(o2.Narrative).To(Equal("y"))

			// Active-only get no longer sees the predecessor.
			_, err = store.GetObservation(o1.ID)
			Expect(err).To(MatchError(memory.ErrNotFound))

			archived, err := store.GetObservationIncludingArchived(o1.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(archived.SupersededBy).To(Equal(o2.ID))
			Expect(archived.SupersededAt).NotTo(BeNil())
		})

		It("returns the chain oldest first from any member", func() {
			sess := seedSession("/project/alpha")
			o1 := seedObservation(sess.ID, func(o *memory.Observation) { o.Narrative = "v1" })

			n2 := "v2"
			o2, err := store.UpdateObservation(o1.ID, storage.ObservationPatch{Narrative: &n2})
			Expect(err).NotTo(HaveOccurred())

			n3 := "v3"
			o3, err := store.UpdateObservation(o2.ID, storage.ObservationPatch{Narrative: &n3})
			Expect(err).NotTo(HaveOccurred())

			for _, id := range []string{o1.ID, o2.ID, o3.ID} {
				chain, err := store.GetLineage(id)
				Expect(err).NotTo(HaveOccurred())
				Expect(chain).To(HaveLen(3))
				Expect(chain[0].ID).To(Equal(o1.ID))
				Expect(chain[1].ID).To(Equal(o2.ID))
				Expect(chain[2].ID).To(Equal(o3.ID))

				// Adjacent pairs satisfy the lineage pointers.
				for i := 1; i < len(chain); i++ {
					Expect(chain[i].RevisionOf).To(Equal(chain[i-1].ID))
					Expect(chain[i-1].SupersededBy).To(Equal(chain[i].ID))
				}
			}
		})

		It("rejects updates of superseded rows", func() {
			sess := seedSession("/project/alpha")
			o1 := seedObservation(sess.ID, nil)

			title := "updated"
			_, err := store.UpdateObservation(o1.ID, storage.ObservationPatch{Title: &title})
			Expect(err).NotTo(HaveOccurred())

			_, err = store.UpdateObservation(o1.ID, storage.ObservationPatch{Title: &title})
			Expect(err).To(MatchError(memory.ErrNotFound))
		})
	})

	Describe("tombstones", func() {
		It("hides deleted rows from search but keeps them addressable", func() {
			sess := seedSession("/project/alpha")
			o := seedObservation(sess.ID, func(o *memory.Observation) { o.Title = "hide-me" })

			found, err := store.SearchObservations(memory.SearchQuery{Query: "hide-me", ProjectPath: "/project/alpha"})
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(HaveLen(1))

			Expect(store.DeleteObservation(o.ID)).To(Succeed())

			found, err = store.SearchObservations(memory.SearchQuery{Query: "hide-me", ProjectPath: "/project/alpha"})
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeEmpty())

			archived, err := store.GetObservationIncludingArchived(o.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(archived.DeletedAt).NotTo(BeNil())
		})

		It("returns NotFound for a second delete", func() {
			sess := seedSession("/project/alpha")
			o := seedObservation(sess.ID, nil)
			Expect(store.DeleteObservation(o.ID)).To(Succeed())
			Expect(store.DeleteObservation(o.ID)).To(MatchError(memory.ErrNotFound))
		})
	})

	Describe("project isolation", func() {
		It("never returns observations from another project", func() {
			alpha := seedSession("/project/alpha")
			beta := seedSession("/project/beta")

			seedObservation(alpha.ID, func(o *memory.Observation) {
				o.Title = "Alpha JWT authentication pattern"
				o.Concepts = []string{"JWT", "authentication"}
				o.FilesRead = []string{"src/auth.ts"}
			})
			seedObservation(beta.ID, func(o *memory.Observation) {
				o.Title = "Beta JWT token validation"
				o.Concepts = []string{"JWT", "validation"}
			})

			found, err := store.SearchObservations(memory.SearchQuery{Query: "JWT", ProjectPath: "/project/alpha"})
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(HaveLen(1))
			Expect(found[0].Observation.Title).To(HavePrefix("Alpha"))
		})
	})

	Describe("search filters", func() {
		It("applies the filter conjunction after the FTS match", func() {
			sess := seedSession("/project/alpha")
			seedObservation(sess.ID, func(o *memory.Observation) {
				o.Title = "cache design"
				o.Type = memory.TypeDecision
				o.Importance = 5
			})
			seedObservation(sess.ID, func(o *memory.Observation) {
				o.Title = "cache bug"
				o.Type = memory.TypeBugfix
				o.Importance = 2
			})

			found, err := store.SearchObservations(memory.SearchQuery{
				Query:         "cache",
				ProjectPath:   "/project/alpha",
				Type:          string(memory.TypeDecision),
				ImportanceMin: 4,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(HaveLen(1))
			Expect(found[0].Observation.Title).To(Equal("cache design"))
		})
	})

	Describe("SearchByConcept and SearchByFile", func() {
		It("matches the tokenized concept column only", func() {
			sess := seedSession("/project/alpha")
			seedObservation(sess.ID, func(o *memory.Observation) {
				o.Title = "first"
				o.Concepts = []string{"authentication"}
			})
			seedObservation(sess.ID, func(o *memory.Observation) {
				o.Title = "authentication mentioned in title only"
			})

			found, err := store.SearchByConcept("authentication", 10, "/project/alpha")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(HaveLen(1))
			Expect(found[0].Title).To(Equal("first"))
		})

		It("matches file paths through their tokenized form", func() {
			sess := seedSession("/project/alpha")
			seedObservation(sess.ID, func(o *memory.Observation) {
				o.Title = "auth work"
				o.FilesModified = []string{"src/auth.ts"}
			})

			found, err := store.SearchByFile("src/auth.ts", 10, "/project/alpha")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(HaveLen(1))
		})
	})

	Describe("ListByProject", func() {
		It("filters by lineage state", func() {
			sess := seedSession("/project/alpha")
			o1 := seedObservation(sess.ID, nil)

			title := "v2"
			_, err := store.UpdateObservation(o1.ID, storage.ObservationPatch{Title: &title})
			Expect(err).NotTo(HaveOccurred())

			current, err := store.ListByProject("/project/alpha", memory.ListOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(current).To(HaveLen(1))
			Expect(current[0].Title).To(Equal("v2"))

			superseded, err := store.ListByProject("/project/alpha", memory.ListOptions{State: memory.StateSuperseded})
			Expect(err).NotTo(HaveOccurred())
			Expect(superseded).To(HaveLen(1))
			Expect(superseded[0].ID).To(Equal(o1.ID))

			all, err := store.ListByProject("/project/alpha", memory.ListOptions{State: memory.StateAll})
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(2))
		})
	})

	Describe("GetAroundTimestamp", func() {
		It("returns the window in chronological order", func() {
			sess := seedSession("/project/alpha")

			older := seedObservation(sess.ID, func(o *memory.Observation) {
				o.Title = "older"
				o.CreatedAt = time.Now().Add(-2 * time.Hour)
			})
			anchor := time.Now().Add(-1 * time.Hour)
			newer := seedObservation(sess.ID, func(o *memory.Observation) {
				o.Title = "newer"
				o.CreatedAt = time.Now().Add(-30 * time.Minute)
			})

			window, err := store.GetAroundTimestamp(anchor, 5, 5, "/project/alpha")
			Expect(err).NotTo(HaveOccurred())
			Expect(window).To(HaveLen(2))
			Expect(window[0].ID).To(Equal(older.ID))
			Expect(window[1].ID).To(Equal(newer.ID))
		})
	})

	Describe("pending queue", func() {
		It("is idempotent on (sessionId, callId)", func() {
			sess := seedSession("/project/alpha")

			inserted, err := store.Enqueue(sess.ID, "bash", "output", "call-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(inserted).To(BeTrue())

			inserted, err = store.Enqueue(sess.ID, "bash", "output again", "call-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(inserted).To(BeFalse())

			batch, err := store.Claim(10)
			Expect(err).NotTo(HaveOccurred())
			Expect(batch).To(HaveLen(1))
		})

		It("claims oldest first and hides claimed rows", func() {
			sess := seedSession("/project/alpha")
			_, err := store.Enqueue(sess.ID, "bash", "first", "call-1")
			Expect(err).NotTo(HaveOccurred())
			_, err = store.Enqueue(sess.ID, "bash", "second", "call-2")
			Expect(err).NotTo(HaveOccurred())

			batch, err := store.Claim(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(batch).To(HaveLen(1))
			Expect(batch[0].ToolOutput).To(Equal("first"))
			Expect(batch[0].Status).To(Equal(memory.PendingProcessing))

			batch2, err := store.Claim(10)
			Expect(err).NotTo(HaveOccurred())
			Expect(batch2).To(HaveLen(1))
			Expect(batch2[0].ToolOutput).To(Equal("second"))
		})

		It("returns failed rows to pending until retries run out", func() {
			sess := seedSession("/project/alpha")
			_, err := store.Enqueue(sess.ID, "bash", "flaky", "call-1")
			Expect(err).NotTo(HaveOccurred())

			for i := 0; i < 2; i++ {
				batch, err := store.Claim(1)
				Expect(err).NotTo(HaveOccurred())
				Expect(batch).To(HaveLen(1))
				Expect(store.FailPending(batch[0].ID, "provider down", 3)).To(Succeed())
			}

			// Third failure exhausts MAX_RETRIES.
			batch, err := store.Claim(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(batch).To(HaveLen(1))
			Expect(batch[0].RetryCount).To(Equal(2))
			Expect(store.FailPending(batch[0].ID, "provider down", 3)).To(Succeed())

			batch, err = store.Claim(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(batch).To(BeEmpty())

			status, err := store.QueueStatus()
			Expect(err).NotTo(HaveOccurred())
			Expect(status["failed"]).To(Equal(1))
		})

		It("recovers stale processing rows on startup", func() {
			sess := seedSession("/project/alpha")
			_, err := store.Enqueue(sess.ID, "bash", "orphaned", "call-1")
			Expect(err).NotTo(HaveOccurred())

			_, err = store.Claim(1)
			Expect(err).NotTo(HaveOccurred())

			n, err := store.RecoverStale(0)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			batch, err := store.Claim(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(batch).To(HaveLen(1))
		})
	})

	Describe("knowledge graph", func() {
		It("dedupes entities case-insensitively", func() {
			e1, err := store.UpsertEntity("function", "HandleAuth", "")
			Expect(err).NotTo(HaveOccurred())
			e2, err := store.UpsertEntity("function", "handleauth", "the auth handler")
			Expect(err).NotTo(HaveOccurred())
			Expect(e2.ID).To(Equal(e1.ID))
			Expect(e2.Description).To(Equal("the auth handler"))
		})

		It("traverses neighbours up to depth 2 with provenance", func() {
			a, err := store.UpsertEntity("file", "auth.ts", "")
			Expect(err).NotTo(HaveOccurred())
			b, err := store.UpsertEntity("function", "validateToken", "")
			Expect(err).NotTo(HaveOccurred())
			c, err := store.UpsertEntity("concept", "JWT", "")
			Expect(err).NotTo(HaveOccurred())

			Expect(store.AddRelationship(a.ID, b.ID, "defines", "obs-1")).To(Succeed())
			Expect(store.AddRelationship(b.ID, c.ID, "uses", "obs-2")).To(Succeed())

			depth1, err := store.Neighbours("auth.ts", 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(depth1).To(HaveLen(1))
			Expect(depth1[0].Entity.Name).To(Equal("validateToken"))
			Expect(depth1[0].ObservationIDs).To(ConsistOf("obs-1"))

			depth2, err := store.Neighbours("auth.ts", 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(depth2).To(HaveLen(2))
		})

		It("returns nothing for unknown entities", func() {
			out, err := store.Neighbours("ghost", 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(BeEmpty())
		})
	})

	Describe("brute-force similarity", func() {
		It("finds same-type neighbours above the threshold", func() {
			sess := seedSession("/project/alpha")
			near := seedObservation(sess.ID, func(o *memory.Observation) { o.Title = "near" })
			far := seedObservation(sess.ID, func(o *memory.Observation) { o.Title = "far" })

			Expect(store.SetEmbedding(near.ID, []float32{1, 0, 0, 0})).To(Succeed())
			Expect(store.SetEmbedding(far.ID, []float32{0, 1, 0, 0})).To(Succeed())

			similar, err := store.FindSimilar([]float32{0.9, 0.1, 0, 0}, memory.TypeDiscovery, 0.8, 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(similar).To(HaveLen(1))
			Expect(similar[0].ID).To(Equal(near.ID))
		})
	})

	Describe("native KNN", func() {
		It("orders results by distance and honors subsets", func() {
			if !store.VectorEnabled() {
				Skip("sqlite-vec not available in this environment")
			}

			sess := seedSession("/project/alpha")
			a := seedObservation(sess.ID, func(o *memory.Observation) { o.Title = "a" })
			b := seedObservation(sess.ID, func(o *memory.Observation) { o.Title = "b" })
			c := seedObservation(sess.ID, func(o *memory.Observation) { o.Title = "c" })

			Expect(store.SetEmbedding(a.ID, []float32{1, 0, 0, 0})).To(Succeed())
			Expect(store.SetEmbedding(b.ID, []float32{0.9, 0.1, 0, 0})).To(Succeed())
			Expect(store.SetEmbedding(c.ID, []float32{0, 0, 1, 0})).To(Succeed())

			results := store.VecSearch([]float32{1, 0, 0, 0}, 2)
			Expect(results).To(HaveLen(2))
			Expect(results[0].ObservationID).To(Equal(a.ID))
			Expect(results[1].ObservationID).To(Equal(b.ID))

			subset := store.VecSearchSubset([]float32{1, 0, 0, 0}, []string{c.ID}, 2)
			Expect(subset).To(HaveLen(1))
			Expect(subset[0].ObservationID).To(Equal(c.ID))
		})

		It("removes vectors when their observation is tombstoned", func() {
			if !store.VectorEnabled() {
				Skip("sqlite-vec not available in this environment")
			}

			sess := seedSession("/project/alpha")
			o := seedObservation(sess.ID, nil)
			Expect(store.SetEmbedding(o.ID, []float32{1, 0, 0, 0})).To(Succeed())
			Expect(store.DeleteObservation(o.ID)).To(Succeed())

			results := store.VecSearch([]float32{1, 0, 0, 0}, 5)
			Expect(results).To(BeEmpty())
		})
	})

	Describe("export and import", func() {
		It("round-trips active observations into a fresh database", func() {
			sess := seedSession("/project/alpha")
			o1 := seedObservation(sess.ID, func(o *memory.Observation) { o.Title = "keep me" })

			title := "keep me v2"
			o2, err := store.UpdateObservation(o1.ID, storage.ObservationPatch{Title: &title})
			Expect(err).NotTo(HaveOccurred())

			dump, err := store.Export("/project/alpha", nil, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(dump.Observations).To(HaveLen(1))

			fresh, err := storage.Open(storage.Config{Path: ":memory:"}, zap.NewNop())
			Expect(err).NotTo(HaveOccurred())
			defer fresh.Close()

			n, err := fresh.Import(dump, storage.ImportOverwrite)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			got, err := fresh.GetObservation(o2.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Title).To(Equal("keep me v2"))
			Expect(got.RevisionOf).To(Equal(o1.ID))
			Expect(got.CreatedAt.UnixNano()).To(Equal(o2.CreatedAt.UnixNano()))
		})

		It("skips existing ids in merge mode", func() {
			sess := seedSession("/project/alpha")
			seedObservation(sess.ID, nil)

			dump, err := store.Export("/project/alpha", nil, 0)
			Expect(err).NotTo(HaveOccurred())

			n, err := store.Import(dump, storage.ImportMerge)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(0))
		})
	})

	Describe("ProjectStats", func() {
		It("aggregates counts and token economics", func() {
			sess := seedSession("/project/alpha")
			seedObservation(sess.ID, func(o *memory.Observation) {
				o.Type = memory.TypeDecision
				o.RawToolOutput = "a very long raw capture that cost many tokens to read"
			})
			o := seedObservation(sess.ID, nil)
			Expect(store.DeleteObservation(o.ID)).To(Succeed())

			stats, err := store.ProjectStats("/project/alpha")
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.ObservationCount).To(Equal(1))
			Expect(stats.ByType["decision"]).To(Equal(1))
			Expect(stats.ByState["deleted"]).To(Equal(1))
			Expect(stats.DiscoveryTokens).To(BeNumerically(">", 0))
		})
	})
})
