// Package pages holds full-page components shared across plugins.
package pages

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"

	"github.com/keyxmakerx/advisor/internal/templates/layouts"
)

// ErrorPage renders a status page with a message and a link home.
func ErrorPage(code int, message string) templ.Component {
	return layouts.Base(fmt.Sprintf("שגיאה %d", code), templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, `<section class="error-page">
<h1>%d</h1>
<p>%s</p>
<a href="/">חזרה לדף הבית</a>
</section>
`, code, templ.EscapeString(message))
		return err
	}))
}
