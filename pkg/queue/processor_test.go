package queue_test

import (
	"context"
	"fmt"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/openmem/pkg/ai"
	"github.com/papercomputeco/openmem/pkg/eventstream"
	"github.com/papercomputeco/openmem/pkg/memory"
	"github.com/papercomputeco/openmem/pkg/modes"
	"github.com/papercomputeco/openmem/pkg/queue"
	"github.com/papercomputeco/openmem/pkg/storage"
)

func TestQueue(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Queue Suite")
}

// scriptedCompressor returns canned drafts, or errors.
type scriptedCompressor struct {
	draft *ai.ObservationDraft
	err   error
	calls int
}

func (s *scriptedCompressor) Compress(context.Context, ai.Capture, *modes.Mode) (*ai.ObservationDraft, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.draft, nil
}

// fixedEmbedder returns one vector for every input.
type fixedEmbedder struct {
	vector []float32
}

func (f *fixedEmbedder) Embed(context.Context, string) ([]float32, error) {
	return f.vector, nil
}

func (f *fixedEmbedder) Close() error { return nil }

// scriptedJudge returns a fixed conflict decision.
type scriptedJudge struct {
	decision *ai.ConflictDecision
	calls    int
}

func (s *scriptedJudge) Evaluate(context.Context, *ai.ObservationDraft, []*memory.Observation) (*ai.ConflictDecision, error) {
	s.calls++
	return s.decision, nil
}

// scriptedSummarizer returns a fixed summary draft.
type scriptedSummarizer struct {
	calls int
}

func (s *scriptedSummarizer) Summarize(_ context.Context, observations []*memory.Observation) (*ai.SummaryDraft, error) {
	s.calls++
	return &ai.SummaryDraft{
		Summary:      fmt.Sprintf("session with %d observations", len(observations)),
		KeyDecisions: []string{"kept sqlite"},
	}, nil
}

var _ = Describe("Processor", func() {
	var store *storage.Store
	var sess *memory.Session
	var bus *eventstream.Bus

	BeforeEach(func() {
		var err error
		store, err = storage.Open(storage.Config{Path: ":memory:", Dimensions: 4}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		sess, err = store.GetOrCreateSession("", "/project/alpha")
		Expect(err).NotTo(HaveOccurred())

		bus = eventstream.NewBus(zap.NewNop())
	})

	AfterEach(func() {
		Expect(bus.Close()).To(Succeed())
		Expect(store.Close()).To(Succeed())
	})

	newProcessor := func(compressor ai.Compressor, opts ...queue.Option) *queue.Processor {
		opts = append(opts, queue.WithPublisher(bus))
		return queue.NewProcessor(queue.Config{
			BatchSize:        5,
			MaxRetries:       3,
			EntityExtraction: true,
		}, store, compressor, modes.DefaultMode(), zap.NewNop(), opts...)
	}

	draft := func(title string) *ai.ObservationDraft {
		return &ai.ObservationDraft{
			Type:      memory.TypeDiscovery,
			Title:     title,
			Narrative: "narrative for " + title,
			Concepts:  []string{"storage"},
			FilesModified: []string{
				"pkg/storage/store.go",
			},
			Importance: 3,
		}
	}

	It("turns a pending capture into an observation and completes the item", func() {
		_, err := store.Enqueue(sess.ID, "bash", "did a thing", "call-1")
		Expect(err).NotTo(HaveOccurred())

		events, cancel := bus.Subscribe()
		defer cancel()

		p := newProcessor(&scriptedCompressor{draft: draft("observed")})
		p.ProcessNow(context.Background())

		observations, err := store.ListByProject("/project/alpha", memory.ListOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(observations).To(HaveLen(1))
		Expect(observations[0].Title).To(Equal("observed"))
		Expect(observations[0].ToolName).To(Equal("bash"))
		Expect(observations[0].RawToolOutput).To(Equal("did a thing"))

		// Queue is drained.
		status, err := store.QueueStatus()
		Expect(err).NotTo(HaveOccurred())
		Expect(status["pending"]).To(Equal(0))
		Expect(status["processing"]).To(Equal(0))

		event := <-events
		Expect(event.EventType).To(Equal(eventstream.EventTypeObservationCreated))
		Expect(event.Observation.Title).To(Equal("observed"))
	})

	It("extracts entities and relationships from the saved observation", func() {
		_, err := store.Enqueue(sess.ID, "edit", "changed storage", "call-1")
		Expect(err).NotTo(HaveOccurred())

		p := newProcessor(&scriptedCompressor{draft: draft("graph source")})
		p.ProcessNow(context.Background())

		neighbours, err := store.Neighbours("storage", 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(neighbours).NotTo(BeEmpty())
	})

	It("retries failed items and marks them failed after MAX_RETRIES", func() {
		_, err := store.Enqueue(sess.ID, "bash", "poison", "call-1")
		Expect(err).NotTo(HaveOccurred())

		compressor := &scriptedCompressor{err: fmt.Errorf("%w: cannot reach provider", ai.ErrConfig)}
		p := newProcessor(compressor)

		for i := 0; i < 3; i++ {
			p.ProcessNow(context.Background())
		}

		status, err := store.QueueStatus()
		Expect(err).NotTo(HaveOccurred())
		Expect(status["failed"]).To(Equal(1))
		Expect(compressor.calls).To(Equal(3))

		observations, err := store.ListByProject("/project/alpha", memory.ListOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(observations).To(BeEmpty())
	})

	It("drops captures when the conflict judge says so", func() {
		existing, err := store.CreateObservation(&memory.Observation{
			SessionID: sess.ID,
			Type:      memory.TypeDiscovery,
			Title:     "already known",
			Narrative: "n",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(store.SetEmbedding(existing.ID, []float32{1, 0, 0, 0})).To(Succeed())

		_, err = store.Enqueue(sess.ID, "bash", "same thing again", "call-1")
		Expect(err).NotTo(HaveOccurred())

		judge := &scriptedJudge{decision: &ai.ConflictDecision{Action: ai.ActionDrop}}
		p := queue.NewProcessor(queue.Config{
			BatchSize:          5,
			MaxRetries:         3,
			ConflictResolution: true,
		}, store, &scriptedCompressor{draft: draft("duplicate")}, modes.DefaultMode(), zap.NewNop(),
			queue.WithEmbedder(&fixedEmbedder{vector: []float32{1, 0, 0, 0}}),
			queue.WithConflictJudge(judge),
		)
		p.ProcessNow(context.Background())

		Expect(judge.calls).To(Equal(1))

		observations, err := store.ListByProject("/project/alpha", memory.ListOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(observations).To(HaveLen(1)) // only the pre-existing one
		Expect(observations[0].ID).To(Equal(existing.ID))
	})

	It("supersedes the judge's target with a revision", func() {
		existing, err := store.CreateObservation(&memory.Observation{
			SessionID: sess.ID,
			Type:      memory.TypeDiscovery,
			Title:     "outdated",
			Narrative: "old news",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(store.SetEmbedding(existing.ID, []float32{1, 0, 0, 0})).To(Succeed())

		_, err = store.Enqueue(sess.ID, "bash", "newer info", "call-1")
		Expect(err).NotTo(HaveOccurred())

		judge := &scriptedJudge{decision: &ai.ConflictDecision{
			Action:   ai.ActionSupersede,
			TargetID: existing.ID,
		}}
		p := queue.NewProcessor(queue.Config{
			BatchSize:          5,
			MaxRetries:         3,
			ConflictResolution: true,
		}, store, &scriptedCompressor{draft: draft("fresh")}, modes.DefaultMode(), zap.NewNop(),
			queue.WithEmbedder(&fixedEmbedder{vector: []float32{1, 0, 0, 0}}),
			queue.WithConflictJudge(judge),
		)
		p.ProcessNow(context.Background())

		observations, err := store.ListByProject("/project/alpha", memory.ListOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(observations).To(HaveLen(1))
		Expect(observations[0].Title).To(Equal("fresh"))
		Expect(observations[0].RevisionOf).To(Equal(existing.ID))

		chain, err := store.GetLineage(observations[0].ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(chain).To(HaveLen(2))
	})

	It("writes a session summary for queued summarize work", func() {
		_, err := store.CreateObservation(&memory.Observation{
			SessionID: sess.ID,
			Type:      memory.TypeDecision,
			Title:     "decided things",
			Narrative: "n",
		})
		Expect(err).NotTo(HaveOccurred())

		summarizer := &scriptedSummarizer{}
		p := newProcessor(&scriptedCompressor{draft: draft("unused")}, queue.WithSummarizer(summarizer))
		p.EnqueueSummarize(sess.ID)
		p.ProcessNow(context.Background())

		Expect(summarizer.calls).To(Equal(1))

		sum, err := store.GetSummaryForSession(sess.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(sum.Summary).To(ContainSubstring("1 observations"))
		Expect(sum.KeyDecisions).To(ConsistOf("kept sqlite"))

		got, err := store.GetSession(sess.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.SummaryID).To(Equal(sum.ID))
	})
})
