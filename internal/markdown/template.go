package markdown

import (
	"errors"
	"strings"

	"github.com/lightforgemedia/go-mdlive/pkg/assets"
)

const bodyMarker = "{{md}}"

// ErrInvalidTemplate is returned when the embedded page template lacks the
// body marker.
var ErrInvalidTemplate = errors.New("embedded index.html is missing the {{md}} marker")

// Template wraps rendered markdown in the embedded HTML page.
type Template struct {
	before   string
	after    string
	notFound string
}

// NewTemplate builds a Template from the embedded index.html.
func NewTemplate() (Template, error) {
	raw, err := assets.IndexHTML()
	if err != nil {
		return Template{}, err
	}
	return parseTemplate(string(raw))
}

func parseTemplate(html string) (Template, error) {
	start := strings.Index(html, bodyMarker)
	if start < 0 {
		return Template{}, ErrInvalidTemplate
	}

	t := Template{
		before: html[:start],
		after:  html[start+len(bodyMarker):],
	}
	t.notFound = t.Page("<h1>Error 404: Page not found</h1>")
	return t, nil
}

// Page returns the full HTML document for the given body fragment.
func (t Template) Page(body string) string {
	var sb strings.Builder
	sb.Grow(len(t.before) + len(body) + len(t.after))
	sb.WriteString(t.before)
	sb.WriteString(body)
	sb.WriteString(t.after)
	return sb.String()
}

// NotFound returns the 404 page.
func (t Template) NotFound() string {
	return t.notFound
}
