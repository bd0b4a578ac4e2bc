package output

import (
	"context"
	"fmt"
	"time"

	"github.com/bakkerme/filepoll/internal/config"
	"github.com/bakkerme/filepoll/internal/core"
	"github.com/bakkerme/filepoll/internal/outputs/manifest"
)

// ManifestProcessor writes the blocks admitted by a run to a JSON file.
type ManifestProcessor struct {
	name   string
	config config.ManifestOutput
	now    func() time.Time
}

func NewManifestProcessor(cfg *config.ManifestOutput) (*ManifestProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("manifest config is required")
	}
	return &ManifestProcessor{
		name:   "manifest",
		config: *cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (p *ManifestProcessor) Name() string {
	return p.name
}

func (p *ManifestProcessor) Validate() error {
	if p.config.Path == "" {
		return fmt.Errorf("manifest path is required")
	}
	return nil
}

func (p *ManifestProcessor) Deliver(ctx context.Context, blocks []*core.ItemBlock, run *core.Run) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m := manifest.Manifest{
		FlowID:      core.FlowIDFromContext(ctx),
		RunID:       core.RunIDFromContext(ctx),
		GeneratedAt: p.now(),
		Blocks:      blocks,
	}
	if run != nil {
		m.FlowID = run.FlowID
		m.RunID = run.ID
	}
	if m.Blocks == nil {
		m.Blocks = []*core.ItemBlock{}
	}
	path := manifest.ResolvePath(p.config.Path, m.RunID)
	if err := manifest.Save(path, m); err != nil {
		return err
	}
	core.LoggerFromContext(ctx).Info("manifest written", "path", path, "blocks", len(blocks))
	return nil
}
