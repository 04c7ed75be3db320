package audit

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"

	"github.com/keyxmakerx/advisor/internal/plugins/auth"
	"github.com/keyxmakerx/advisor/internal/templates/layouts"
)

// actionLabels are the display names of recorded actions.
var actionLabels = map[string]string{
	auth.ActionSignedIn:      "התחברות",
	auth.ActionSessionSynced: "סנכרון חיבור",
	auth.ActionSignedOut:     "התנתקות",
	auth.ActionSyncFailed:    "סנכרון נכשל",
}

// ActivityView renders one page of account activity.
func ActivityView(p *ActivityPage) templ.Component {
	return layouts.Base("פעילות בחשבון", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<section class="activity"><h1>פעילות בחשבון</h1>`); err != nil {
			return err
		}
		if len(p.Entries) == 0 {
			if _, err := io.WriteString(w, `<p class="empty">אין פעילות להצגה.</p>`); err != nil {
				return err
			}
		} else {
			if _, err := io.WriteString(w, `<table><thead><tr><th>מתי</th><th>פעולה</th><th>כתובת</th><th>דפדפן</th></tr></thead><tbody>`); err != nil {
				return err
			}
			for _, e := range p.Entries {
				label, ok := actionLabels[e.Action]
				if !ok {
					label = e.Action
				}
				if _, err := fmt.Fprintf(w, `<tr><td><time datetime="%s">%s</time></td><td>%s</td><td dir="ltr">%s</td><td dir="ltr">%s</td></tr>`,
					e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
					e.CreatedAt.Format("02/01/2006 15:04"),
					templ.EscapeString(label),
					templ.EscapeString(e.IP),
					templ.EscapeString(e.UserAgent),
				); err != nil {
					return err
				}
			}
			if _, err := io.WriteString(w, `</tbody></table>`); err != nil {
				return err
			}
		}

		if p.Page > 1 {
			if _, err := fmt.Fprintf(w, `<a class="prev" href="/account/activity?page=%d">הקודם</a>`, p.Page-1); err != nil {
				return err
			}
		}
		if p.HasNext() {
			if _, err := fmt.Fprintf(w, `<a class="next" href="/account/activity?page=%d">הבא</a>`, p.Page+1); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, "</section>\n")
		return err
	}))
}
