package transform

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/bakkerme/filepoll/internal/config"
	"github.com/bakkerme/filepoll/internal/core"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
)

var defaultMarkdownExtensions = []string{".md", ".markdown"}

// MarkdownProcessor renders the content of markdown files to HTML.
type MarkdownProcessor struct {
	name       string
	extensions map[string]struct{}
	converter  goldmark.Markdown
}

func NewMarkdownProcessor(cfg *config.MarkdownTransform) (*MarkdownProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("markdown transform config is required")
	}
	name := cfg.Name
	if name == "" {
		name = "markdown"
	}
	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = defaultMarkdownExtensions
	}
	set := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = struct{}{}
	}
	return &MarkdownProcessor{
		name:       name,
		extensions: set,
		converter:  newMarkdownConverter(),
	}, nil
}

func (p *MarkdownProcessor) Name() string {
	return p.name
}

func (p *MarkdownProcessor) Validate() error {
	if len(p.extensions) == 0 {
		return fmt.Errorf("markdown transform needs at least one extension")
	}
	return nil
}

// Transform renders matching blocks in place. A block that fails to render
// keeps its raw content and records the error.
func (p *MarkdownProcessor) Transform(ctx context.Context, blocks []*core.ItemBlock) ([]*core.ItemBlock, error) {
	_ = ctx
	if err := p.Validate(); err != nil {
		return nil, err
	}
	for _, block := range blocks {
		if _, ok := p.extensions[strings.ToLower(block.Ext)]; !ok {
			continue
		}
		html, err := renderMarkdown(p.converter, block.Content)
		if err != nil {
			block.AddError(p.name, "transform", err)
			continue
		}
		block.HTML = html
	}
	return blocks, nil
}

func renderMarkdown(converter goldmark.Markdown, input string) (string, error) {
	var buf bytes.Buffer
	if err := converter.Convert([]byte(input), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func newMarkdownConverter() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
	)
}
