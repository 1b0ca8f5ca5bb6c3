package htmlconv

import (
	"bytes"
	"strings"
	"testing"

	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
)

func plain() *Converter {
	c := New(&bytes.Buffer{})
	c.SetColorProfile(termenv.Ascii)
	return c
}

func TestToConsolePlain(t *testing.T) {
	c := plain()
	cases := []struct{ in, want string }{
		{"hello", "hello"},
		{"a<br>b<br/>c", "a\nb\nc"},
		{"x&nbsp;y", "x y"},
		{"&lt;tag&gt; &amp; more", "<tag> & more"},
		{"<font color='red'>warn</font> ok", "warn ok"},
		{"<b>bold</b> <i>it</i>", "bold it"},
		{"<font color=\"#00ff00\">a<br>b</font>", "a\nb"},
		{"<font color=red><font color=blue>x</font>y</font>", "xy"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, c.ToConsole(tc.in), tc.in)
	}
}

func TestToConsoleColours(t *testing.T) {
	c := New(&bytes.Buffer{})
	c.SetColorProfile(termenv.TrueColor)

	out := c.ToConsole("<font color='red'>alarm</font> calm")
	assert.Contains(t, out, "\x1b[")
	assert.Contains(t, out, "alarm")
	assert.True(t, strings.HasSuffix(out, " calm"))

	// unknown colour names render uncoloured
	assert.Equal(t, "x", c.ToConsole("<font color='nosuch'>x</font>"))
}

func TestHasHTML(t *testing.T) {
	assert.True(t, HasHTML("<br>"))
	assert.True(t, HasHTML("a <font color=red>b</font>"))
	assert.False(t, HasHTML("1 < 2"))
	assert.False(t, HasHTML("plain"))
}
