package auth

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"

	"github.com/keyxmakerx/advisor/internal/templates/layouts"
)

// LoginPage renders the sign-in form. errMsg is shown above the form when
// set; email refills the field after a failed attempt.
func LoginPage(csrfToken, email, errMsg string) templ.Component {
	return layouts.Base("התחברות", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if errMsg != "" {
			if _, err := fmt.Fprintf(w, `<div class="form-error" role="alert">%s</div>`, templ.EscapeString(errMsg)); err != nil {
				return err
			}
		}
		_, err := fmt.Fprintf(w, `<form class="login" method="post" action="/login">
<input type="hidden" name="csrf_token" value="%s">
<label>אימייל <input type="email" name="email" value="%s" required autocomplete="email"></label>
<label>סיסמה <input type="password" name="password" required autocomplete="current-password"></label>
<button type="submit">התחברות</button>
</form>
`, templ.EscapeString(csrfToken), templ.EscapeString(email))
		return err
	}))
}
