// Package htmlconv turns the small HTML subset scripts print (font colours,
// line breaks, entities) into terminal text.
package htmlconv

import (
	"html"
	"io"
	"regexp"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	tagRe   = regexp.MustCompile(`<(/?)([a-zA-Z][a-zA-Z0-9]*)([^>]*)>`)
	colorRe = regexp.MustCompile(`(?i)color\s*=\s*['"]?([#a-zA-Z0-9]+)`)
	anyTag  = regexp.MustCompile(`<[^>]+>`)
)

var namedColors = map[string]lipgloss.Color{
	"black":      "#000000",
	"white":      "#FFFFFF",
	"red":        "#FF0000",
	"green":      "#00FF00",
	"blue":       "#0000FF",
	"yellow":     "#FFFF00",
	"cyan":       "#00FFFF",
	"magenta":    "#FF00FF",
	"orange":     "#FFA500",
	"purple":     "#800080",
	"pink":       "#FFC0CB",
	"brown":      "#A52A2A",
	"gray":       "#808080",
	"grey":       "#808080",
	"lightgray":  "#D3D3D3",
	"lightgrey":  "#D3D3D3",
	"darkgray":   "#A9A9A9",
	"darkgrey":   "#A9A9A9",
	"lightblue":  "#ADD8E6",
	"darkblue":   "#00008B",
	"navy":       "#000080",
	"lightgreen": "#90EE90",
	"darkgreen":  "#006400",
	"lime":       "#00FF00",
	"olive":      "#808000",
	"teal":       "#008080",
	"maroon":     "#800000",
	"gold":       "#FFD700",
	"silver":     "#C0C0C0",
	"violet":     "#EE82EE",
}

// HasHTML reports whether s contains anything that looks like a tag.
func HasHTML(s string) bool {
	return anyTag.MatchString(s)
}

// Converter renders for one output; the colour profile follows that output.
type Converter struct {
	r *lipgloss.Renderer
}

func New(w io.Writer) *Converter {
	return &Converter{r: lipgloss.NewRenderer(w)}
}

// SetColorProfile overrides the detected profile, e.g. termenv.Ascii to
// drop colours entirely.
func (c *Converter) SetColorProfile(p termenv.Profile) {
	c.r.SetColorProfile(p)
}

// ToConsole converts s. Unknown tags are dropped, their text kept.
func (c *Converter) ToConsole(s string) string {
	var (
		b      strings.Builder
		colors []lipgloss.Color
		last   int
	)
	emit := func(text string) {
		if text == "" {
			return
		}
		text = html.UnescapeString(strings.ReplaceAll(text, "&nbsp;", " "))
		if n := len(colors); n > 0 && colors[n-1] != "" {
			text = c.r.NewStyle().Foreground(colors[n-1]).Render(text)
		}
		b.WriteString(text)
	}

	for _, m := range tagRe.FindAllStringSubmatchIndex(s, -1) {
		emit(s[last:m[0]])
		last = m[1]

		closing := m[3] > m[2]
		name := strings.ToLower(s[m[4]:m[5]])
		attrs := s[m[6]:m[7]]
		switch name {
		case "br":
			b.WriteByte('\n')
		case "font", "span":
			if closing {
				if len(colors) > 0 {
					colors = colors[:len(colors)-1]
				}
				continue
			}
			colors = append(colors, parseColor(attrs))
		}
	}
	emit(s[last:])
	return b.String()
}

func parseColor(attrs string) lipgloss.Color {
	m := colorRe.FindStringSubmatch(attrs)
	if m == nil {
		return ""
	}
	v := strings.ToLower(m[1])
	if strings.HasPrefix(v, "#") {
		return lipgloss.Color(v)
	}
	return namedColors[v]
}

var std = &Converter{r: lipgloss.DefaultRenderer()}

// ToConsole converts s using a converter bound to stdout.
func ToConsole(s string) string {
	return std.ToConsole(s)
}
