package worker

import (
	"context"

	"github.com/tunesmith/api/internal/bridge"
	"github.com/tunesmith/api/internal/model"
)

// GenerationProcessor hands generation jobs to the orchestration bridge,
// which owns the submit/poll/export lifecycle against the remote tier.
type GenerationProcessor struct {
	bridge *bridge.Bridge
}

// NewGenerationProcessor creates the generation processor.
func NewGenerationProcessor(b *bridge.Bridge) *GenerationProcessor {
	return &GenerationProcessor{bridge: b}
}

func (p *GenerationProcessor) Process(ctx context.Context, job *model.Job) error {
	return p.bridge.Run(ctx, job)
}
