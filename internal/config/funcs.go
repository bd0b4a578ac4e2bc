package config

import (
	htmltmpl "html/template"
	"time"

	"github.com/dustin/go-humanize"
)

// TemplateFuncs are available to every output template.
func TemplateFuncs() htmltmpl.FuncMap {
	return htmltmpl.FuncMap{
		"humanBytes": func(n int64) string {
			if n < 0 {
				n = 0
			}
			return humanize.Bytes(uint64(n))
		},
		"humanTime": func(t time.Time) string {
			return humanize.Time(t)
		},
		// safeHTML marks HTML rendered by the markdown transform as trusted.
		"safeHTML": func(s string) htmltmpl.HTML {
			return htmltmpl.HTML(s)
		},
	}
}
