package layouts

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"
)

// Base wraps body in the HTML document shell: head, top bar with the
// signed-in account and logout button, and flash messages.
func Base(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="he" dir="rtl">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta name="csrf-token" content="%s">
<title>%s</title>
<link rel="stylesheet" href="/static/css/app.css">
</head>
<body>
`, templ.EscapeString(GetCSRFToken(ctx)), templ.EscapeString(title)); err != nil {
			return err
		}

		if err := topBar(ctx, w); err != nil {
			return err
		}
		if err := flashes(ctx, w); err != nil {
			return err
		}

		if _, err := io.WriteString(w, `<main class="container">`); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, "</main>\n</body>\n</html>\n")
		return err
	})
}

func topBar(ctx context.Context, w io.Writer) error {
	if !IsAuthenticated(ctx) {
		return nil
	}
	active := func(path string) string {
		if GetActivePath(ctx) == path {
			return ` class="active"`
		}
		return ""
	}
	_, err := fmt.Fprintf(w, `<header class="topbar">
<nav><a href="/"%s>שיחות</a> <a href="/timeline"%s>ציר זמן</a> <a href="/account/activity"%s>פעילות</a></nav>
<span class="account">%s</span>
<form method="post" action="/logout"><input type="hidden" name="csrf_token" value="%s"><button type="submit">התנתקות</button></form>
</header>
`, active("/"), active("/timeline"), active("/account/activity"),
		templ.EscapeString(GetUserEmail(ctx)),
		templ.EscapeString(GetCSRFToken(ctx)))
	return err
}

func flashes(ctx context.Context, w io.Writer) error {
	if msg := GetFlashSuccess(ctx); msg != "" {
		if _, err := fmt.Fprintf(w, `<div class="flash flash-success">%s</div>`, templ.EscapeString(msg)); err != nil {
			return err
		}
	}
	if msg := GetFlashError(ctx); msg != "" {
		if _, err := fmt.Fprintf(w, `<div class="flash flash-error" role="alert">%s</div>`, templ.EscapeString(msg)); err != nil {
			return err
		}
	}
	return nil
}
