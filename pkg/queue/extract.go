package queue

import (
	"context"

	"go.uber.org/zap"

	"github.com/papercomputeco/openmem/pkg/memory"
	"github.com/papercomputeco/openmem/pkg/metrics"
)

// Entity types and relationship types emitted by the extractor. These are
// the built-in subset; the mode's entity vocabulary bounds what is kept.
const (
	entityFile    = "file"
	entityConcept = "concept"
	entityTool    = "tool"

	relModifies  = "modifies"
	relUses      = "uses"
	relRelatesTo = "relates-to"
)

// extractEntities projects an observation's structured fields into the
// knowledge graph: files and concepts become entities, and edges record
// which files a tool touched and which concepts a file relates to, with
// the observation id as provenance.
func (p *Processor) extractEntities(_ context.Context, obs *memory.Observation) {
	if !p.modeAllowsEntity(entityFile) && !p.modeAllowsEntity(entityConcept) {
		return
	}

	var toolID int64
	if obs.ToolName != "" && p.modeAllowsEntity(entityTool) {
		tool, err := p.store.UpsertEntity(entityTool, obs.ToolName, "")
		if err != nil {
			p.logger.Warn("upserting tool entity failed", zap.Error(err))
		} else {
			toolID = tool.ID
		}
	}

	var fileIDs []int64
	if p.modeAllowsEntity(entityFile) {
		for _, f := range append(append([]string{}, obs.FilesRead...), obs.FilesModified...) {
			entity, err := p.store.UpsertEntity(entityFile, f, "")
			if err != nil {
				p.logger.Warn("upserting file entity failed", zap.String("file", f), zap.Error(err))
				continue
			}
			fileIDs = append(fileIDs, entity.ID)
			p.metrics.Inc(metrics.EntitiesExtracted)
		}

		if toolID != 0 {
			for _, f := range obs.FilesModified {
				entity, err := p.store.UpsertEntity(entityFile, f, "")
				if err != nil {
					continue
				}
				if err := p.store.AddRelationship(toolID, entity.ID, relModifies, obs.ID); err != nil {
					p.logger.Warn("adding modifies edge failed", zap.Error(err))
				}
			}
		}
	}

	if !p.modeAllowsEntity(entityConcept) {
		return
	}

	var conceptIDs []int64
	for _, c := range obs.Concepts {
		entity, err := p.store.UpsertEntity(entityConcept, c, "")
		if err != nil {
			p.logger.Warn("upserting concept entity failed", zap.String("concept", c), zap.Error(err))
			continue
		}
		conceptIDs = append(conceptIDs, entity.ID)
		p.metrics.Inc(metrics.EntitiesExtracted)
	}

	// Files use the concepts they co-occur with; concepts co-occurring in
	// one observation relate to each other.
	for _, fileID := range fileIDs {
		for _, conceptID := range conceptIDs {
			if err := p.store.AddRelationship(fileID, conceptID, relUses, obs.ID); err != nil {
				p.logger.Warn("adding uses edge failed", zap.Error(err))
			}
		}
	}
	for i := 1; i < len(conceptIDs); i++ {
		if err := p.store.AddRelationship(conceptIDs[0], conceptIDs[i], relRelatesTo, obs.ID); err != nil {
			p.logger.Warn("adding relates-to edge failed", zap.Error(err))
		}
	}
}

func (p *Processor) modeAllowsEntity(entityType string) bool {
	if p.mode == nil || len(p.mode.EntityTypes) == 0 {
		return true
	}
	for _, t := range p.mode.EntityTypes {
		if t == entityType {
			return true
		}
	}
	return false
}
