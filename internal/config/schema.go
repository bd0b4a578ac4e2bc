package config

import (
	"fmt"
	"net/mail"
	"path/filepath"
	"strings"

	"github.com/bakkerme/filepoll/internal/core"
	"github.com/bakkerme/filepoll/internal/dedupe"
	"github.com/bakkerme/filepoll/internal/sources/rss"
)

// PollerDocument represents the top-level structure of a filepoll.yaml file
type PollerDocument struct {
	Workflow  Workflow             `yaml:"workflow"`
	Templates []TemplateDefinition `yaml:"templates,omitempty"`
}

// TemplateDefinition stores a named template that outputs can reference by ID.
// Templates use html/template syntax.
type TemplateDefinition struct {
	ID       string `yaml:"id"`
	Template string `yaml:"template"`
}

// Workflow contains the complete workflow configuration
type Workflow struct {
	Name           string            `yaml:"name"`
	Version        string            `yaml:"version,omitempty"`
	MaxConcurrency int               `yaml:"max_concurrency,omitempty"`
	Trigger        []TriggerConfig   `yaml:"trigger"`
	Sources        []SourceConfig    `yaml:"sources"`
	Filter         []FilterConfig    `yaml:"filter,omitempty"`
	Transform      []TransformConfig `yaml:"transform,omitempty"`
	Output         []OutputConfig    `yaml:"output,omitempty"`
}

// TriggerConfig wraps different trigger types
type TriggerConfig struct {
	Cron     *CronTrigger     `yaml:"cron,omitempty"`
	Interval *IntervalTrigger `yaml:"interval,omitempty"`
	Watch    *WatchTrigger    `yaml:"watch,omitempty"`
}

// CronTrigger defines a scheduled trigger
type CronTrigger struct {
	Schedule string `yaml:"schedule"`
	Timezone string `yaml:"timezone,omitempty"`
}

// IntervalTrigger polls every Period. With FixedRate the cadence ignores how
// long a run takes; otherwise the next poll is scheduled Period after the
// previous run finished.
type IntervalTrigger struct {
	Period       Duration `yaml:"period"`
	InitialDelay Duration `yaml:"initial_delay,omitempty"`
	FixedRate    bool     `yaml:"fixed_rate,omitempty"`
}

// WatchTrigger polls when the filesystem reports a change under Path.
type WatchTrigger struct {
	Path      string   `yaml:"path"`
	Recursive bool     `yaml:"recursive,omitempty"`
	Debounce  Duration `yaml:"debounce,omitempty"`
}

// SourceConfig wraps different source types
type SourceConfig struct {
	Directory *DirectorySource `yaml:"directory,omitempty"`
	RSS       *RSSSource       `yaml:"rss,omitempty"`
}

// Identifier modes for directory sources.
const (
	KeyPath    = "path"
	KeyContent = "content"
)

// DirectorySource scans a directory on each poll and admits each file once.
type DirectorySource struct {
	Name            string           `yaml:"name,omitempty"`
	Path            string           `yaml:"path"`
	Recursive       bool             `yaml:"recursive,omitempty"`
	Pattern         string           `yaml:"pattern,omitempty"`
	IncludeHidden   bool             `yaml:"include_hidden,omitempty"`
	Key             string           `yaml:"key,omitempty"`
	Capacity        *int             `yaml:"capacity,omitempty"`
	ReadContent     bool             `yaml:"read_content,omitempty"`
	MaxContentBytes int64            `yaml:"max_content_bytes,omitempty"`
	Store           *SeenStoreConfig `yaml:"store,omitempty"`
}

// SeenStoreConfig selects a durable seen store.
type SeenStoreConfig struct {
	SQLite *SQLiteStoreConfig `yaml:"sqlite,omitempty"`
}

type SQLiteStoreConfig struct {
	DSN   string   `yaml:"dsn"`
	Table string   `yaml:"table,omitempty"`
	TTL   Duration `yaml:"ttl,omitempty"`
}

// RSSSource defines RSS/Atom feed configuration
type RSSSource struct {
	Name      string   `yaml:"name,omitempty"`
	Feeds     []string `yaml:"feeds"`
	Limit     int      `yaml:"limit,omitempty"`
	UserAgent string   `yaml:"user_agent,omitempty"`
	Key       string   `yaml:"key,omitempty"`
	Capacity  *int     `yaml:"capacity,omitempty"`
}

// FilterConfig wraps different filter types
type FilterConfig struct {
	Rule *RuleFilter `yaml:"rule,omitempty"`
}

// RuleFilter evaluates an expr boolean per block. With Result "drop" matching
// blocks are removed; with "pass" only matching blocks are kept.
type RuleFilter struct {
	Name   string `yaml:"name"`
	Rule   string `yaml:"rule"`
	Result string `yaml:"result"`
}

// TransformConfig wraps different transform types
type TransformConfig struct {
	Markdown *MarkdownTransform `yaml:"markdown,omitempty"`
}

// MarkdownTransform renders block content to HTML for matching extensions.
type MarkdownTransform struct {
	Name       string   `yaml:"name"`
	Extensions []string `yaml:"extensions,omitempty"`
}

// OutputConfig wraps different output types
type OutputConfig struct {
	Email    *EmailOutput    `yaml:"email,omitempty"`
	Manifest *ManifestOutput `yaml:"manifest,omitempty"`
	Log      *LogOutput      `yaml:"log,omitempty"`
}

// EmailOutput defines email delivery configuration
type EmailOutput struct {
	Template           string `yaml:"template"`
	To                 string `yaml:"to"`
	From               string `yaml:"from"`
	Subject            string `yaml:"subject"`
	SMTPHost           string `yaml:"smtp_host,omitempty"`
	SMTPPort           int    `yaml:"smtp_port,omitempty"`
	SMTPUser           string `yaml:"smtp_user,omitempty"`
	SMTPPassword       string `yaml:"smtp_password,omitempty"`
	TLSMode            string `yaml:"tls_mode,omitempty"`
	InsecureSkipVerify *bool  `yaml:"insecure_skip_verify,omitempty"`
}

// ManifestOutput writes the admitted blocks of each run as JSON. The path may
// contain {{run_id}}.
type ManifestOutput struct {
	Path string `yaml:"path"`
}

// LogOutput logs one line per admitted block.
type LogOutput struct {
	Level string `yaml:"level,omitempty"`
}

// ProcessorType identifies the type of processor
type ProcessorType string

const (
	ProcessorTriggerCron       ProcessorType = "trigger_cron"
	ProcessorTriggerInterval   ProcessorType = "trigger_interval"
	ProcessorTriggerWatch      ProcessorType = "trigger_watch"
	ProcessorSourceDirectory   ProcessorType = "source_directory"
	ProcessorSourceRSS         ProcessorType = "source_rss"
	ProcessorFilterRule        ProcessorType = "filter_rule"
	ProcessorTransformMarkdown ProcessorType = "transform_markdown"
	ProcessorOutputEmail       ProcessorType = "output_email"
	ProcessorOutputManifest    ProcessorType = "output_manifest"
	ProcessorOutputLog         ProcessorType = "output_log"
)

// ParsedFlow represents the internal structure after parsing
type ParsedFlow struct {
	Name       string
	Version    string
	Triggers   []ParsedProcessor
	Sources    []ParsedProcessor
	Processors []ParsedProcessor // filters, then transforms, in document order
	Outputs    []ParsedProcessor
}

// ParsedProcessor represents a configured processor instance
type ParsedProcessor struct {
	Type   ProcessorType
	Name   string
	Config interface{} // Points to the specific config struct
}

// ProcessorFactory constructs concrete processor implementations for a parsed document.
type ProcessorFactory interface {
	NewCronTrigger(config *CronTrigger) (core.TriggerProcessor, error)
	NewIntervalTrigger(config *IntervalTrigger) (core.TriggerProcessor, error)
	NewWatchTrigger(config *WatchTrigger) (core.TriggerProcessor, error)
	NewDirectorySource(config *DirectorySource) (core.SourceProcessor, error)
	NewRSSSource(config *RSSSource) (core.SourceProcessor, error)
	NewRuleFilter(config *RuleFilter) (core.FilterProcessor, error)
	NewMarkdownTransform(config *MarkdownTransform) (core.TransformProcessor, error)
	NewEmailOutput(config *EmailOutput) (core.OutputProcessor, error)
	NewManifestOutput(config *ManifestOutput) (core.OutputProcessor, error)
	NewLogOutput(config *LogOutput) (core.OutputProcessor, error)
}

// Validate performs validation on the poller document
func (d *PollerDocument) Validate() error {
	if err := d.resolveTemplateReferences(); err != nil {
		return err
	}

	if d.Workflow.Name == "" {
		return fmt.Errorf("workflow name is required")
	}
	if d.Workflow.MaxConcurrency < 0 {
		return fmt.Errorf("max_concurrency must be >= 0")
	}
	if len(d.Workflow.Trigger) == 0 {
		return fmt.Errorf("at least one trigger is required")
	}
	if len(d.Workflow.Sources) == 0 {
		return fmt.Errorf("at least one source is required")
	}

	for i, trigger := range d.Workflow.Trigger {
		if err := validateTrigger(trigger); err != nil {
			return fmt.Errorf("trigger %d: %w", i, err)
		}
	}

	directories := map[string]int{}
	for i, source := range d.Workflow.Sources {
		if source.Directory == nil && source.RSS == nil {
			return fmt.Errorf("source %d: unsupported source type", i)
		}
		if source.Directory != nil && source.RSS != nil {
			return fmt.Errorf("source %d: only one source type may be set per entry", i)
		}
		if source.Directory != nil {
			if err := validateDirectorySource(source.Directory); err != nil {
				return fmt.Errorf("source %d: %w", i, err)
			}
			path := filepath.Clean(source.Directory.Path)
			if prev, exists := directories[path]; exists {
				return fmt.Errorf("source %d: directory %q is already polled by source %d", i, path, prev)
			}
			directories[path] = i
		}
		if source.RSS != nil {
			if len(source.RSS.Feeds) == 0 {
				return fmt.Errorf("source %d: at least one rss feed is required", i)
			}
			if _, err := rss.ParseKey(source.RSS.Key); err != nil {
				return fmt.Errorf("source %d: %w", i, err)
			}
			if err := validateCapacity(source.RSS.Capacity); err != nil {
				return fmt.Errorf("source %d: %w", i, err)
			}
		}
	}

	for i, filter := range d.Workflow.Filter {
		if filter.Rule == nil {
			return fmt.Errorf("filter %d: unsupported filter type", i)
		}
		if filter.Rule.Name == "" || filter.Rule.Rule == "" {
			return fmt.Errorf("filter %d: rule name and expression are required", i)
		}
		if filter.Rule.Result != "pass" && filter.Rule.Result != "drop" {
			return fmt.Errorf("filter %d: result must be 'pass' or 'drop'", i)
		}
	}

	for i, transform := range d.Workflow.Transform {
		if transform.Markdown == nil {
			return fmt.Errorf("transform %d: unsupported transform type", i)
		}
		if transform.Markdown.Name == "" {
			return fmt.Errorf("transform %d: markdown name is required", i)
		}
	}

	for i, output := range d.Workflow.Output {
		if err := validateOutput(output); err != nil {
			return fmt.Errorf("output %d: %w", i, err)
		}
	}

	return d.validateTemplateTypes()
}

func validateTrigger(trigger TriggerConfig) error {
	set := 0
	if trigger.Cron != nil {
		set++
		if trigger.Cron.Schedule == "" {
			return fmt.Errorf("cron schedule is required")
		}
	}
	if trigger.Interval != nil {
		set++
		if trigger.Interval.Period.Std() <= 0 {
			return fmt.Errorf("interval period must be positive")
		}
		if trigger.Interval.InitialDelay.Std() < 0 {
			return fmt.Errorf("interval initial_delay must be >= 0")
		}
	}
	if trigger.Watch != nil {
		set++
		if trigger.Watch.Path == "" {
			return fmt.Errorf("watch path is required")
		}
		if trigger.Watch.Debounce.Std() < 0 {
			return fmt.Errorf("watch debounce must be >= 0")
		}
	}
	switch set {
	case 0:
		return fmt.Errorf("unsupported trigger type")
	case 1:
		return nil
	default:
		return fmt.Errorf("only one trigger type may be set per entry")
	}
}

func validateDirectorySource(cfg *DirectorySource) error {
	if strings.TrimSpace(cfg.Path) == "" {
		return fmt.Errorf("directory path is required")
	}
	switch cfg.Key {
	case "", KeyPath, KeyContent:
	default:
		return fmt.Errorf("directory key must be %q or %q", KeyPath, KeyContent)
	}
	if cfg.Pattern != "" {
		if _, err := filepath.Match(cfg.Pattern, ""); err != nil {
			return fmt.Errorf("invalid directory pattern %q: %w", cfg.Pattern, err)
		}
	}
	if cfg.MaxContentBytes < 0 {
		return fmt.Errorf("max_content_bytes must be >= 0")
	}
	if err := validateCapacity(cfg.Capacity); err != nil {
		return err
	}
	if cfg.Store != nil {
		if cfg.Store.SQLite == nil {
			return fmt.Errorf("unsupported seen store type")
		}
		if strings.TrimSpace(cfg.Store.SQLite.DSN) == "" {
			return fmt.Errorf("sqlite store dsn is required")
		}
		if cfg.Store.SQLite.TTL.Std() < 0 {
			return fmt.Errorf("sqlite store ttl must be >= 0")
		}
	}
	return nil
}

// validateCapacity rejects explicit non-positive capacities up front so a bad
// document never produces a running poller.
func validateCapacity(capacity *int) error {
	if capacity != nil && *capacity <= 0 {
		return fmt.Errorf("%w, got %d (omit it for unbounded)", dedupe.ErrInvalidCapacity, *capacity)
	}
	return nil
}

func validateOutput(output OutputConfig) error {
	set := 0
	if output.Email != nil {
		set++
		cfg := output.Email
		requiredFields := map[string]string{
			"template": cfg.Template,
			"to":       cfg.To,
			"subject":  cfg.Subject,
		}
		for field, value := range requiredFields {
			if value == "" {
				return fmt.Errorf("email: '%s' field is required", field)
			}
		}
		if _, err := mail.ParseAddress(cfg.To); err != nil {
			return fmt.Errorf("email: invalid to address")
		}
		if cfg.From != "" { // From is optional, but if provided must be valid
			if _, err := mail.ParseAddress(cfg.From); err != nil {
				return fmt.Errorf("email: invalid from address")
			}
		}
	}
	if output.Manifest != nil {
		set++
		if output.Manifest.Path == "" {
			return fmt.Errorf("manifest: path is required")
		}
	}
	if output.Log != nil {
		set++
		switch strings.ToLower(output.Log.Level) {
		case "", "debug", "info", "warn":
		default:
			return fmt.Errorf("log: level must be debug, info or warn")
		}
	}
	switch set {
	case 0:
		return fmt.Errorf("unsupported output type")
	case 1:
		return nil
	default:
		return fmt.Errorf("only one output type may be set per entry")
	}
}

func (d *PollerDocument) resolveTemplateReferences() error {
	if len(d.Templates) == 0 {
		return nil
	}

	byID := make(map[string]TemplateDefinition, len(d.Templates))
	for i, t := range d.Templates {
		if t.ID == "" {
			return fmt.Errorf("templates %d: id is required", i)
		}
		if _, exists := byID[t.ID]; exists {
			return fmt.Errorf("templates: duplicate id %q", t.ID)
		}
		if t.Template == "" {
			return fmt.Errorf("templates %q: template is required", t.ID)
		}
		byID[t.ID] = t
	}

	for i := range d.Workflow.Output {
		o := d.Workflow.Output[i].Email
		if o == nil {
			continue
		}
		if resolved, ok := byID[o.Template]; ok {
			o.Template = resolved.Template
		}
	}
	return nil
}

// Parse converts the document into an internal ParsedFlow structure
func (d *PollerDocument) Parse() (*ParsedFlow, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	flow := &ParsedFlow{
		Name:    d.Workflow.Name,
		Version: d.Workflow.Version,
	}
	if flow.Version == "" {
		flow.Version = "1.0"
	}

	for _, trigger := range d.Workflow.Trigger {
		switch {
		case trigger.Cron != nil:
			flow.Triggers = append(flow.Triggers, ParsedProcessor{Type: ProcessorTriggerCron, Name: "cron", Config: trigger.Cron})
		case trigger.Interval != nil:
			flow.Triggers = append(flow.Triggers, ParsedProcessor{Type: ProcessorTriggerInterval, Name: "interval", Config: trigger.Interval})
		case trigger.Watch != nil:
			flow.Triggers = append(flow.Triggers, ParsedProcessor{Type: ProcessorTriggerWatch, Name: "watch", Config: trigger.Watch})
		}
	}

	for i, source := range d.Workflow.Sources {
		if source.Directory != nil {
			if source.Directory.Name == "" {
				source.Directory.Name = fmt.Sprintf("directory-%d", i)
			}
			flow.Sources = append(flow.Sources, ParsedProcessor{Type: ProcessorSourceDirectory, Name: source.Directory.Name, Config: source.Directory})
		}
		if source.RSS != nil {
			if source.RSS.Name == "" {
				source.RSS.Name = fmt.Sprintf("rss-%d", i)
			}
			flow.Sources = append(flow.Sources, ParsedProcessor{Type: ProcessorSourceRSS, Name: source.RSS.Name, Config: source.RSS})
		}
	}

	for _, filter := range d.Workflow.Filter {
		flow.Processors = append(flow.Processors, ParsedProcessor{Type: ProcessorFilterRule, Name: filter.Rule.Name, Config: filter.Rule})
	}
	for _, transform := range d.Workflow.Transform {
		flow.Processors = append(flow.Processors, ParsedProcessor{Type: ProcessorTransformMarkdown, Name: transform.Markdown.Name, Config: transform.Markdown})
	}

	for _, output := range d.Workflow.Output {
		switch {
		case output.Email != nil:
			flow.Outputs = append(flow.Outputs, ParsedProcessor{Type: ProcessorOutputEmail, Name: "email", Config: output.Email})
		case output.Manifest != nil:
			flow.Outputs = append(flow.Outputs, ParsedProcessor{Type: ProcessorOutputManifest, Name: "manifest", Config: output.Manifest})
		case output.Log != nil:
			flow.Outputs = append(flow.Outputs, ParsedProcessor{Type: ProcessorOutputLog, Name: "log", Config: output.Log})
		}
	}
	// A flow without outputs still reports what it admitted.
	if len(flow.Outputs) == 0 {
		flow.Outputs = append(flow.Outputs, ParsedProcessor{Type: ProcessorOutputLog, Name: "log", Config: &LogOutput{}})
	}

	return flow, nil
}
