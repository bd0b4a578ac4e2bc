package factory

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/bakkerme/filepoll/internal/config"
	"github.com/bakkerme/filepoll/internal/core"
	"github.com/bakkerme/filepoll/internal/dedupe"
	"github.com/bakkerme/filepoll/internal/outputs/email"
	"github.com/bakkerme/filepoll/internal/outputs/email/smtp"
	"github.com/bakkerme/filepoll/internal/processors/filter"
	"github.com/bakkerme/filepoll/internal/processors/output"
	"github.com/bakkerme/filepoll/internal/processors/source"
	"github.com/bakkerme/filepoll/internal/processors/transform"
	"github.com/bakkerme/filepoll/internal/processors/trigger"
	"github.com/bakkerme/filepoll/internal/sources/dir"
	dirimpl "github.com/bakkerme/filepoll/internal/sources/dir/impl"
	"github.com/bakkerme/filepoll/internal/sources/rss"
	rssimpl "github.com/bakkerme/filepoll/internal/sources/rss/impl"
)

// Factory builds the processors of a poller document. Its collaborators are
// exported so tests can swap in mocks.
type Factory struct {
	Logger          *slog.Logger
	DefaultCapacity *int
	SMTPDefaults    config.SMTPEnvConfig
	Scanner         dir.Scanner
	RSSFetcher      rss.Fetcher
	EmailSender     email.Sender

	mu      sync.Mutex
	closers []func() error
}

func NewFromEnvConfig(logger *slog.Logger, env config.EnvConfig) (*Factory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	capacity, err := env.Dedupe.ParsedCapacity()
	if err != nil {
		return nil, err
	}
	return &Factory{
		Logger:          logger,
		DefaultCapacity: capacity,
		SMTPDefaults:    env.SMTP,
		Scanner:         dirimpl.NewScanner(),
		RSSFetcher:      rssimpl.NewFetcher(env.RSS.HTTPTimeout, env.RSS.UserAgent),
		// Nil so each email output builds a sender from its merged config.
		EmailSender: nil,
	}, nil
}

func (f *Factory) NewCronTrigger(cfg *config.CronTrigger) (core.TriggerProcessor, error) {
	p := trigger.NewCronProcessor(cfg.Schedule, cfg.Timezone)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (f *Factory) NewIntervalTrigger(cfg *config.IntervalTrigger) (core.TriggerProcessor, error) {
	p := trigger.NewIntervalProcessor(cfg.Period.Std(), cfg.InitialDelay.Std(), cfg.FixedRate)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (f *Factory) NewWatchTrigger(cfg *config.WatchTrigger) (core.TriggerProcessor, error) {
	p := trigger.NewWatchProcessor(cfg.Path, cfg.Recursive, cfg.Debounce.Std(), f.Logger)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (f *Factory) NewDirectorySource(cfg *config.DirectorySource) (core.SourceProcessor, error) {
	var store dedupe.SeenStore
	if cfg.Store != nil && cfg.Store.SQLite != nil {
		sqliteCfg := cfg.Store.SQLite
		s, err := dedupe.NewSQLiteStore(sqliteCfg.DSN, sqliteCfg.Table, sqliteCfg.TTL.Std())
		if err != nil {
			return nil, fmt.Errorf("open seen store: %w", err)
		}
		store = s
	}
	p, err := source.NewDirectoryProcessor(cfg, f.Scanner, f.DefaultCapacity, store, f.Logger)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}
	f.trackCloser(p.Close)
	return p, nil
}

func (f *Factory) NewRSSSource(cfg *config.RSSSource) (core.SourceProcessor, error) {
	p, err := source.NewRSSProcessor(cfg, f.RSSFetcher, f.DefaultCapacity)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (f *Factory) NewRuleFilter(cfg *config.RuleFilter) (core.FilterProcessor, error) {
	return filter.NewRuleProcessor(cfg)
}

func (f *Factory) NewMarkdownTransform(cfg *config.MarkdownTransform) (core.TransformProcessor, error) {
	return transform.NewMarkdownProcessor(cfg)
}

func (f *Factory) NewEmailOutput(cfg *config.EmailOutput) (core.OutputProcessor, error) {
	merged := f.mergeEmailConfig(cfg)
	sender := f.EmailSender
	if sender == nil {
		insecure := merged.InsecureSkipVerify != nil && *merged.InsecureSkipVerify
		s, err := smtp.NewSender(smtp.Config{
			Host:               merged.SMTPHost,
			Port:               merged.SMTPPort,
			Username:           merged.SMTPUser,
			Password:           merged.SMTPPassword,
			TLSMode:            merged.TLSMode,
			InsecureSkipVerify: insecure,
		})
		if err != nil {
			return nil, err
		}
		sender = s
	}
	p, err := output.NewEmailProcessor(merged, sender)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (f *Factory) NewManifestOutput(cfg *config.ManifestOutput) (core.OutputProcessor, error) {
	return output.NewManifestProcessor(cfg)
}

func (f *Factory) NewLogOutput(cfg *config.LogOutput) (core.OutputProcessor, error) {
	return output.NewLogProcessor(cfg)
}

// Close releases resources opened while building processors, such as
// durable seen stores.
func (f *Factory) Close() error {
	f.mu.Lock()
	closers := f.closers
	f.closers = nil
	f.mu.Unlock()

	var firstErr error
	for _, closeFn := range closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f *Factory) trackCloser(fn func() error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closers = append(f.closers, fn)
}

func (f *Factory) mergeEmailConfig(cfg *config.EmailOutput) *config.EmailOutput {
	if cfg == nil {
		return &config.EmailOutput{}
	}
	merged := *cfg
	if merged.SMTPHost == "" {
		merged.SMTPHost = f.SMTPDefaults.Host
	}
	if merged.SMTPPort == 0 {
		merged.SMTPPort = f.SMTPDefaults.Port
	}
	if merged.SMTPUser == "" {
		merged.SMTPUser = f.SMTPDefaults.User
	}
	if merged.SMTPPassword == "" {
		merged.SMTPPassword = f.SMTPDefaults.Password
	}
	if merged.TLSMode == "" {
		merged.TLSMode = f.SMTPDefaults.TLSMode
	}
	if merged.InsecureSkipVerify == nil {
		insecure := f.SMTPDefaults.InsecureSkipVerify
		merged.InsecureSkipVerify = &insecure
	}
	return &merged
}

var _ config.ProcessorFactory = (*Factory)(nil)
