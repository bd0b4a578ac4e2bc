package config

import (
	"bytes"
	"fmt"
	htmltmpl "html/template"
	"time"

	"github.com/bakkerme/filepoll/internal/core"
)

// EmailTemplateData is what email output templates are executed against.
type EmailTemplateData struct {
	Flow   string
	Run    *core.Run
	Blocks []*core.ItemBlock
}

// validateTemplateTypes executes every email template against sample data so
// a template referencing a field that does not exist fails at startup.
func (d *PollerDocument) validateTemplateTypes() error {
	data := sampleEmailTemplateData()
	for i := range d.Workflow.Output {
		o := d.Workflow.Output[i].Email
		if o == nil || o.Template == "" {
			continue
		}
		if err := typeCheckHTMLTemplate(fmt.Sprintf("output[%d].template", i), o.Template, data); err != nil {
			return fmt.Errorf("output %d (email): template type check failed: %w", i, err)
		}
	}
	return nil
}

func typeCheckHTMLTemplate(name, text string, data interface{}) error {
	tmpl, err := htmltmpl.New(name).Option("missingkey=error").Funcs(TemplateFuncs()).Parse(text)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	return tmpl.Execute(&buf, data)
}

func sampleEmailTemplateData() EmailTemplateData {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	block := &core.ItemBlock{
		FlowID:       "flow",
		ID:           "/inbox/report.md",
		Source:       "directory-0",
		Path:         "/inbox/report.md",
		Name:         "report.md",
		Ext:          ".md",
		Title:        "report.md",
		Size:         2048,
		ModTime:      now,
		Content:      "# Report",
		HTML:         "<h1>Report</h1>",
		Filter:       &core.FilterResult{ProcessorName: "rule", Result: "pass", ProcessedAt: now},
		DiscoveredAt: now,
	}
	return EmailTemplateData{
		Flow: "flow",
		Run: &core.Run{
			ID:        "run",
			FlowID:    "flow",
			StartedAt: now,
			Status:    core.RunStatusRunning,
			Blocks:    []*core.ItemBlock{block},
		},
		Blocks: []*core.ItemBlock{block},
	}
}
