package ai

import (
	"context"
	"regexp"

	"github.com/papercomputeco/openmem/pkg/memory"
	"github.com/papercomputeco/openmem/pkg/modes"
)

// basicNarrativeCap bounds the narrative extracted without AI help.
const basicNarrativeCap = 500

// pathTokenRegex matches path-like tokens: at least one separator and a
// file-ish final segment.
var pathTokenRegex = regexp.MustCompile(`(?:\.{0,2}/)?(?:[\w.-]+/)+[\w.-]+\.\w{1,8}`)

// BasicExtractor is the deterministic fallback compressor used when no AI
// provider is available. It never fails: tool name becomes the title,
// path-like tokens become files, and the narrative is the head of the raw
// output.
type BasicExtractor struct{}

// NewBasicExtractor creates the fallback compressor.
func NewBasicExtractor() *BasicExtractor {
	return &BasicExtractor{}
}

// Compress produces a best-effort draft without calling any provider.
func (b *BasicExtractor) Compress(_ context.Context, capture Capture, _ *modes.Mode) (*ObservationDraft, error) {
	narrative := capture.ToolOutput
	if len(narrative) > basicNarrativeCap {
		narrative = narrative[:basicNarrativeCap]
	}

	title := capture.ToolName + " output"
	if capture.ToolName == "" {
		title = "captured output"
	}

	files := memory.DedupeStrings(pathTokenRegex.FindAllString(capture.ToolOutput, 20))

	return &ObservationDraft{
		Type:       memory.TypeDiscovery,
		Title:      title,
		Narrative:  narrative,
		FilesRead:  files,
		Importance: memory.ImportanceDefault,
	}, nil
}
