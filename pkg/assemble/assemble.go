// Package assemble builds the progressive-disclosure context fragment
// injected into each new agent session: a compact index of what exists in
// memory, full details for the freshest observations, the last session
// summary, and a memory-economics footer, all under a hard token budget.
package assemble

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/papercomputeco/openmem/pkg/memory"
	"github.com/papercomputeco/openmem/pkg/storage"
)

// Config bounds the assembled fragment.
type Config struct {
	// MaxIndexEntries caps index lines. Defaults to 50.
	MaxIndexEntries int

	// FullObservationCount caps full-detail expansions. Defaults to 3.
	FullObservationCount int

	// MaxContextTokens is the hard budget. Defaults to 2000.
	MaxContextTokens int

	// Types filters which observation types appear. Empty means all.
	Types []string
}

// Assembler renders context fragments from the store.
type Assembler struct {
	config Config
	store  *storage.Store
	logger *zap.Logger
}

// New creates an assembler.
func New(config Config, store *storage.Store, logger *zap.Logger) *Assembler {
	if config.MaxIndexEntries <= 0 {
		config.MaxIndexEntries = 50
	}
	if config.FullObservationCount <= 0 {
		config.FullObservationCount = 3
	}
	if config.MaxContextTokens <= 0 {
		config.MaxContextTokens = 2000
	}

	return &Assembler{config: config, store: store, logger: logger}
}

var typeIcons = map[memory.ObservationType]string{
	memory.TypeDecision:  "⚖",
	memory.TypeBugfix:    "🐛",
	memory.TypeFeature:   "✨",
	memory.TypeRefactor:  "♻",
	memory.TypeDiscovery: "🔍",
	memory.TypeChange:    "✏",
}

// Build produces the session-start prompt fragment for a project. The
// budget fills in priority order: index lines, then full details, then the
// last summary. A block that would sever the budget is omitted entirely,
// so the fragment is always well-formed.
func (a *Assembler) Build(projectPath string) (string, error) {
	observations, err := a.recent(projectPath, a.config.MaxIndexEntries)
	if err != nil {
		return "", err
	}
	if len(observations) == 0 {
		return "", nil
	}

	budget := newBudget(a.config.MaxContextTokens)
	var b strings.Builder

	budget.emit(&b, "# Memory\n\n")
	budget.emit(&b, "Observations from prior sessions, most recent first. Fetch any of them by id for full detail.\n\n")

	// 1. Index lines.
	indexed := 0
	for _, o := range observations {
		line := indexLine(o)
		if !budget.fits(line) {
			break
		}
		budget.emit(&b, line)
		indexed++
	}
	if indexed == 0 {
		return "", nil
	}

	// 2. Full details for the most recent observations.
	details := observations
	if len(details) > a.config.FullObservationCount {
		details = details[:a.config.FullObservationCount]
	}
	for _, o := range details {
		block := detailBlock(o)
		if !budget.fits(block) {
			continue
		}
		budget.emit(&b, block)
	}

	// 3. Last session summary.
	if summary, err := a.store.LatestSummary(projectPath); err == nil {
		block := summaryBlock(summary)
		if budget.fits(block) {
			budget.emit(&b, block)
		}
	} else if !errors.Is(err, memory.ErrNotFound) {
		a.logger.Warn("loading latest summary failed", zap.Error(err))
	}

	// 4. Memory economics footer.
	footer := a.economicsFooter(projectPath, observations)
	if budget.fits(footer) {
		budget.emit(&b, footer)
	}

	return b.String(), nil
}

func (a *Assembler) recent(projectPath string, limit int) ([]*memory.Observation, error) {
	if len(a.config.Types) == 0 {
		return a.store.ListByProject(projectPath, memory.ListOptions{Limit: limit})
	}

	var out []*memory.Observation
	for _, t := range a.config.Types {
		byType, err := a.store.ListByProject(projectPath, memory.ListOptions{Limit: limit, Type: t})
		if err != nil {
			return nil, err
		}
		out = append(out, byType...)
	}

	// Re-sort merged per-type lists newest first and trim.
	sortByCreatedDesc(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortByCreatedDesc(observations []*memory.Observation) {
	for i := 1; i < len(observations); i++ {
		for j := i; j > 0 && observations[j].CreatedAt.After(observations[j-1].CreatedAt); j-- {
			observations[j], observations[j-1] = observations[j-1], observations[j]
		}
	}
}

// indexLine renders one observation as a single compact line.
func indexLine(o *memory.Observation) string {
	icon := typeIcons[o.Type]
	if icon == "" {
		icon = "•"
	}

	line := fmt.Sprintf("%s [%s] %s (~%dt)", icon, o.Type, o.Title, memory.EstimateTokens(o.Narrative))

	files := memory.DedupeStrings(append(append([]string{}, o.FilesModified...), o.FilesRead...))
	if len(files) > 3 {
		files = files[:3]
	}
	if len(files) > 0 {
		line += " — " + strings.Join(files, ", ")
	}

	return line + "\n"
}

// detailBlock renders title, narrative and facts in full.
func detailBlock(o *memory.Observation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n## %s\n%s\n", o.Title, o.Narrative)
	for _, fact := range o.Facts {
		fmt.Fprintf(&b, "- %s\n", fact)
	}
	return b.String()
}

// summaryBlock renders the key fields of the last session summary.
func summaryBlock(s *memory.SessionSummary) string {
	var b strings.Builder
	b.WriteString("\n## Last session\n")
	b.WriteString(s.Summary + "\n")
	if len(s.KeyDecisions) > 0 {
		b.WriteString("Key decisions:\n")
		for _, d := range s.KeyDecisions {
			fmt.Fprintf(&b, "- %s\n", d)
		}
	}
	if s.NextSteps != "" {
		fmt.Fprintf(&b, "Next steps: %s\n", s.NextSteps)
	}
	return b.String()
}

// economicsFooter reports what raw captures would have cost against what
// the distilled index injects.
func (a *Assembler) economicsFooter(projectPath string, observations []*memory.Observation) string {
	discovery, distilled := 0, 0
	for _, o := range observations {
		discovery += o.DiscoveryTokens
		distilled += o.TokenCount
	}
	if discovery == 0 {
		return ""
	}

	savings := 100 - (distilled*100)/discovery
	return fmt.Sprintf("\nMemory economics: %d discovery tokens distilled to %d (%d%% saved).\n",
		discovery, distilled, savings)
}

// budget tracks approximate token spend against the hard cap.
type budget struct {
	remaining int
}

func newBudget(maxTokens int) *budget {
	return &budget{remaining: maxTokens}
}

func (b *budget) fits(block string) bool {
	return block != "" && memory.EstimateTokens(block) <= b.remaining
}

func (b *budget) emit(w *strings.Builder, block string) {
	w.WriteString(block)
	b.remaining -= memory.EstimateTokens(block)
}
