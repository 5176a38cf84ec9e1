package assemble

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/papercomputeco/openmem/pkg/memory"
)

// Compaction budget split: 40% index, 40% observation details, 20%
// decisions.
const (
	compactIndexShare    = 40
	compactDetailShare   = 40
	compactDecisionShare = 20
)

// Compact produces the additional-context blocks returned when the host
// compacts a session: compressed narratives plus key decisions, each part
// under its share of the overall budget.
func (a *Assembler) Compact(projectPath string) ([]string, error) {
	observations, err := a.recent(projectPath, a.config.MaxIndexEntries)
	if err != nil {
		return nil, err
	}
	if len(observations) == 0 {
		return nil, nil
	}

	total := a.config.MaxContextTokens
	var blocks []string

	// Index share.
	indexBudget := newBudget(total * compactIndexShare / 100)
	var index strings.Builder
	for _, o := range observations {
		line := indexLine(o)
		if !indexBudget.fits(line) {
			break
		}
		indexBudget.emit(&index, line)
	}
	if index.Len() > 0 {
		blocks = append(blocks, index.String())
	}

	// Detail share: compressed narratives, newest first.
	detailBudget := newBudget(total * compactDetailShare / 100)
	var details strings.Builder
	for _, o := range observations {
		block := fmt.Sprintf("%s: %s\n", o.Title, o.Narrative)
		if !detailBudget.fits(block) {
			continue
		}
		detailBudget.emit(&details, block)
	}
	if details.Len() > 0 {
		blocks = append(blocks, details.String())
	}

	// Decision share: key decisions from the latest summary, else
	// decision-typed observations.
	decisionBudget := newBudget(total * compactDecisionShare / 100)
	var decisions strings.Builder

	if summary, err := a.store.LatestSummary(projectPath); err == nil {
		for _, d := range summary.KeyDecisions {
			line := "- " + d + "\n"
			if !decisionBudget.fits(line) {
				break
			}
			decisionBudget.emit(&decisions, line)
		}
	} else if !errors.Is(err, memory.ErrNotFound) {
		a.logger.Warn("loading summary for compaction failed", zap.Error(err))
	}

	if decisions.Len() == 0 {
		for _, o := range observations {
			if o.Type != memory.TypeDecision {
				continue
			}
			line := "- " + o.Title + "\n"
			if !decisionBudget.fits(line) {
				break
			}
			decisionBudget.emit(&decisions, line)
		}
	}
	if decisions.Len() > 0 {
		blocks = append(blocks, "Key decisions:\n"+decisions.String())
	}

	return blocks, nil
}
