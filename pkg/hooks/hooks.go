// Package hooks is the host-facing capture runtime: the agent host calls
// into it on tool executions, chat messages and lifecycle events, and asks
// it for the session-start context fragment. Everything inbound passes
// through the redactor before touching the pipeline.
package hooks

import (
	"context"

	"go.uber.org/zap"

	"github.com/papercomputeco/openmem/pkg/assemble"
	"github.com/papercomputeco/openmem/pkg/memory"
	"github.com/papercomputeco/openmem/pkg/metrics"
	"github.com/papercomputeco/openmem/pkg/queue"
	"github.com/papercomputeco/openmem/pkg/redact"
	"github.com/papercomputeco/openmem/pkg/storage"
	"github.com/papercomputeco/openmem/pkg/utils"
)

// Lifecycle event types accepted by OnEvent.
const (
	EventSessionIdle = "session-idle"
	EventSessionEnd  = "session-end"
)

// chatNarrativeCap bounds captured user chat messages.
const chatNarrativeCap = 2000

// Runtime binds the capture surface to one project's store and processor.
type Runtime struct {
	projectPath string
	redactor    *redact.Redactor
	store       *storage.Store
	processor   *queue.Processor
	assembler   *assemble.Assembler
	registry    *metrics.Registry
	logger      *zap.Logger
}

// Config holds the runtime's collaborators.
type Config struct {
	ProjectPath string
	Redactor    *redact.Redactor
	Store       *storage.Store
	Processor   *queue.Processor
	Assembler   *assemble.Assembler
	Metrics     *metrics.Registry
}

// NewRuntime creates a capture runtime.
func NewRuntime(c Config, logger *zap.Logger) *Runtime {
	registry := c.Metrics
	if registry == nil {
		registry = metrics.NewRegistry()
	}

	return &Runtime{
		projectPath: c.ProjectPath,
		redactor:    c.Redactor,
		store:       c.Store,
		processor:   c.Processor,
		assembler:   c.Assembler,
		registry:    registry,
		logger:      logger,
	}
}

// OnToolExecute captures one tool execution, fire-and-forget: redaction
// failures and storage errors are logged, never surfaced to the host.
func (r *Runtime) OnToolExecute(sessionID, toolName, toolOutput, callID string) {
	redacted := r.redactor.Redact(toolOutput)
	if r.redactor.Suppress(redacted) {
		r.registry.Inc(metrics.CapturesSuppressed)
		return
	}

	if _, err := r.store.GetOrCreateSession(sessionID, r.projectPath); err != nil {
		r.logger.Error("resolving session for capture failed", zap.Error(err))
		return
	}

	inserted, err := r.store.Enqueue(sessionID, toolName, redacted, callID)
	if err != nil {
		r.logger.Error("enqueueing capture failed", zap.Error(err))
		return
	}
	if inserted {
		r.registry.Inc(metrics.CapturesEnqueued)
	}
}

// OnChatMessage captures user messages as discovery observations. Other
// roles are ignored.
func (r *Runtime) OnChatMessage(sessionID, role, text string) {
	if role != "user" {
		return
	}

	redacted := r.redactor.Redact(text)
	if r.redactor.Suppress(redacted) {
		r.registry.Inc(metrics.CapturesSuppressed)
		return
	}
	if len(redacted) > chatNarrativeCap {
		redacted = redacted[:chatNarrativeCap]
	}

	if _, err := r.store.GetOrCreateSession(sessionID, r.projectPath); err != nil {
		r.logger.Error("resolving session for chat capture failed", zap.Error(err))
		return
	}

	title := utils.Truncate(redacted, 80)

	if _, err := r.store.CreateObservation(&memory.Observation{
		SessionID: sessionID,
		Type:      memory.TypeDiscovery,
		Title:     title,
		Narrative: redacted,
		ToolName:  "chat",
	}); err != nil {
		r.logger.Error("persisting chat capture failed", zap.Error(err))
	}
}

// OnEvent handles lifecycle signals from the host: session-idle triggers a
// drain, session-end enqueues a summarize task.
func (r *Runtime) OnEvent(eventType string, properties map[string]any) {
	sessionID, _ := properties["sessionId"].(string)

	switch eventType {
	case EventSessionIdle:
		if sessionID != "" {
			if err := r.store.MarkSessionIdle(sessionID); err != nil {
				r.logger.Debug("marking session idle failed", zap.Error(err))
			}
		}
		r.processor.Signal()

	case EventSessionEnd:
		if sessionID == "" {
			return
		}
		if err := r.store.CompleteSession(sessionID); err != nil {
			r.logger.Debug("completing session failed", zap.Error(err))
			return
		}
		r.processor.EnqueueSummarize(sessionID)

	default:
		r.logger.Debug("ignoring unknown host event", zap.String("event_type", eventType))
	}
}

// OnSessionStartTransform returns the system-prompt appendix for a new
// session: the progressive-disclosure memory index.
func (r *Runtime) OnSessionStartTransform(sessionID string) string {
	if _, err := r.store.GetOrCreateSession(sessionID, r.projectPath); err != nil {
		r.logger.Error("resolving session for context failed", zap.Error(err))
	}

	fragment, err := r.assembler.Build(r.projectPath)
	if err != nil {
		r.logger.Error("assembling context failed", zap.Error(err))
		return ""
	}
	return fragment
}

// OnSessionCompacting returns additional context blocks for the host's
// compaction flow.
func (r *Runtime) OnSessionCompacting(_ string) []string {
	blocks, err := r.assembler.Compact(r.projectPath)
	if err != nil {
		r.logger.Error("assembling compaction context failed", zap.Error(err))
		return nil
	}
	return blocks
}

// ProcessNow drains the queue synchronously. Exposed for the API trigger.
func (r *Runtime) ProcessNow(ctx context.Context) {
	r.processor.ProcessNow(ctx)
}
