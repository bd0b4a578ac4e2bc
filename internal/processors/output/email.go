package output

import (
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/bakkerme/filepoll/internal/config"
	"github.com/bakkerme/filepoll/internal/core"
	"github.com/bakkerme/filepoll/internal/outputs/email"
)

type EmailProcessor struct {
	name     string
	config   config.EmailOutput
	sender   email.Sender
	template *template.Template
}

func NewEmailProcessor(cfg *config.EmailOutput, sender email.Sender) (*EmailProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("email config is required")
	}
	tmpl, err := template.New("email").Option("missingkey=error").Funcs(config.TemplateFuncs()).Parse(cfg.Template)
	if err != nil {
		return nil, fmt.Errorf("parse email template: %w", err)
	}
	return &EmailProcessor{
		name:     "email",
		config:   *cfg,
		sender:   sender,
		template: tmpl,
	}, nil
}

func (p *EmailProcessor) Name() string {
	return p.name
}

func (p *EmailProcessor) Validate() error {
	if p.sender == nil {
		return fmt.Errorf("email sender is required")
	}
	if p.config.Template == "" || p.config.To == "" || p.config.Subject == "" {
		return fmt.Errorf("email template, to and subject are required")
	}
	return nil
}

// Deliver sends one message per run. Runs that admitted nothing send nothing.
func (p *EmailProcessor) Deliver(ctx context.Context, blocks []*core.ItemBlock, run *core.Run) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("email processor validation failed: %w", err)
	}
	if len(blocks) == 0 {
		core.LoggerFromContext(ctx).Debug("email skipped, nothing admitted")
		return nil
	}
	data := config.EmailTemplateData{Run: run, Blocks: blocks}
	headers := map[string]string{}
	if run != nil {
		data.Flow = run.FlowID
		headers["X-Filepoll-Run"] = run.ID
	}
	body, err := p.render(data)
	if err != nil {
		return fmt.Errorf("render email template failed: %w", err)
	}
	return p.sender.Send(ctx, email.Message{
		From:    p.config.From,
		To:      p.config.To,
		Subject: p.config.Subject,
		Body:    body,
		Text:    plainTextSummary(blocks),
		Headers: headers,
	})
}

func (p *EmailProcessor) render(data config.EmailTemplateData) (string, error) {
	var builder strings.Builder
	if err := p.template.Execute(&builder, data); err != nil {
		return "", err
	}
	return builder.String(), nil
}

func plainTextSummary(blocks []*core.ItemBlock) string {
	var builder strings.Builder
	for _, block := range blocks {
		label := block.Path
		if label == "" {
			label = block.URL
		}
		if label == "" {
			label = block.ID
		}
		fmt.Fprintf(&builder, "- %s\n", label)
	}
	return builder.String()
}
