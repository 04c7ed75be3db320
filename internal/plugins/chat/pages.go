package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/a-h/templ"

	"github.com/keyxmakerx/advisor/internal/gateway"
	"github.com/keyxmakerx/advisor/internal/sanitize"
	"github.com/keyxmakerx/advisor/internal/templates/layouts"
)

// FormState refills the message form after a rejected submission.
type FormState struct {
	Message  string
	ThreadID string
	Error    string
}

// HomePage renders the session list, the selected conversation and the
// message form.
func HomePage(snap Snapshot, form FormState) templ.Component {
	return layouts.Base("יועץ משכנתאות", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<div class="chat">`); err != nil {
			return err
		}
		if err := sessionList(w, snap); err != nil {
			return err
		}
		if _, err := io.WriteString(w, `<section class="conversation">`); err != nil {
			return err
		}
		if snap.LastError != "" {
			if _, err := fmt.Fprintf(w, `<div class="chat-error" role="alert">%s</div>`, templ.EscapeString(snap.LastError)); err != nil {
				return err
			}
		}
		if snap.SelectedDetail != nil {
			if err := messages(w, snap.SelectedDetail); err != nil {
				return err
			}
		} else if snap.SelectedID != "" {
			if _, err := io.WriteString(w, `<p class="empty">טוען שיחה…</p>`); err != nil {
				return err
			}
		} else {
			if _, err := io.WriteString(w, `<p class="empty">אין עדיין שיחות. שלחו הודעה כדי להתחיל.</p>`); err != nil {
				return err
			}
		}
		if err := messageForm(ctx, w, snap, form); err != nil {
			return err
		}
		_, err := io.WriteString(w, "</section></div>\n")
		return err
	}))
}

func sessionList(w io.Writer, snap Snapshot) error {
	if _, err := io.WriteString(w, `<aside class="sessions"><a class="new-session" href="/?new=1">שיחה חדשה</a><ul>`); err != nil {
		return err
	}
	for _, s := range snap.Summaries {
		class := ""
		if s.SessionID == snap.SelectedID {
			class = ` class="active"`
		}
		if _, err := fmt.Fprintf(w, `<li%s><a href="/?session=%s">%s</a> <span class="count">%d</span> <a class="timeline-link" href="/timeline/%s">ציר זמן</a></li>`,
			class,
			templ.EscapeString(url.QueryEscape(s.SessionID)),
			templ.EscapeString(summaryTitle(s)),
			s.MessageCount,
			templ.EscapeString(url.PathEscape(s.SessionID)),
		); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "</ul></aside>")
	return err
}

// summaryTitle is the latest message text, or the update time when the
// session has none.
func summaryTitle(s gateway.SessionSummary) string {
	if len(s.LatestMessage) > 0 {
		var latest gateway.SessionMessage
		if err := json.Unmarshal(s.LatestMessage, &latest); err == nil {
			if text := sanitize.Plain(sanitize.ContentText(latest.Content)); text != "" {
				return truncate(text, 60)
			}
		}
	}
	if s.UpdatedAt != "" {
		return s.UpdatedAt
	}
	return s.SessionID
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func messages(w io.Writer, detail *gateway.SessionDetail) error {
	if _, err := io.WriteString(w, `<ol class="messages">`); err != nil {
		return err
	}
	for _, m := range detail.Messages {
		text := sanitize.ContentText(m.Content)
		var body string
		if m.Role == "assistant" {
			body = sanitize.HTML(text)
		} else {
			body = templ.EscapeString(text)
		}
		if _, err := fmt.Fprintf(w, `<li class="message message-%s" data-id="%d"><div class="body">%s</div><time>%s</time></li>`,
			templ.EscapeString(m.Role), m.ID, body, templ.EscapeString(m.CreatedAt)); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "</ol>")
	return err
}

func messageForm(ctx context.Context, w io.Writer, snap Snapshot, form FormState) error {
	if form.Error != "" {
		if _, err := fmt.Fprintf(w, `<div class="form-error" role="alert">%s</div>`, templ.EscapeString(form.Error)); err != nil {
			return err
		}
	}
	threadID := form.ThreadID
	if threadID == "" {
		threadID = snap.SelectedID
	}
	disabled := ""
	if snap.Loading.Sending {
		disabled = " disabled"
	}
	_, err := fmt.Fprintf(w, `<form class="composer" method="post" action="/" enctype="multipart/form-data">
<input type="hidden" name="csrf_token" value="%s">
<input type="hidden" name="thread_id" value="%s">
<textarea name="message" rows="3" required placeholder="כתבו הודעה…">%s</textarea>
<input type="file" name="files" multiple accept=".pdf,.png,.jpg,.jpeg,application/pdf,image/png,image/jpeg">
<button type="submit"%s>שליחה</button>
</form>
`, templ.EscapeString(layouts.GetCSRFToken(ctx)), templ.EscapeString(threadID), templ.EscapeString(form.Message), disabled)
	return err
}

// TimelinePage renders the timeline and intake payloads of one session.
// detail is nil when no session is selected.
func TimelinePage(snap Snapshot, detail *gateway.SessionDetail) templ.Component {
	return layouts.Base("ציר זמן", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<div class="chat">`); err != nil {
			return err
		}
		if err := sessionList(w, snap); err != nil {
			return err
		}
		if _, err := io.WriteString(w, `<section class="timeline">`); err != nil {
			return err
		}
		if snap.LastError != "" {
			if _, err := fmt.Fprintf(w, `<div class="chat-error" role="alert">%s</div>`, templ.EscapeString(snap.LastError)); err != nil {
				return err
			}
		}
		if detail == nil {
			if _, err := io.WriteString(w, `<p class="empty">לא נבחרה שיחה.</p>`); err != nil {
				return err
			}
		} else {
			sections := []struct {
				title string
				raw   json.RawMessage
			}{
				{"ציר זמן", detail.Timeline},
				{"נתוני פתיחה", detail.Intake},
				{"תכנון", detail.Planning},
				{"אופטימיזציה", detail.Optimization},
			}
			for _, sec := range sections {
				if err := payloadBlock(w, sec.title, sec.raw); err != nil {
					return err
				}
			}
		}
		_, err := io.WriteString(w, "</section></div>\n")
		return err
	}))
}

// payloadBlock writes raw as indented JSON. Empty and null payloads are
// skipped.
func payloadBlock(w io.Writer, title string, raw json.RawMessage) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, trimmed, "", "  "); err != nil {
		buf.Reset()
		buf.Write(trimmed)
	}
	_, err := fmt.Fprintf(w, `<details open><summary>%s</summary><pre dir="ltr">%s</pre></details>`,
		templ.EscapeString(title), templ.EscapeString(buf.String()))
	return err
}
