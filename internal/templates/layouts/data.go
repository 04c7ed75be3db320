// data.go provides typed context helpers for passing layout data from
// handlers/middleware to Templ components. Only simple types are stored so
// the layouts package never imports plugin types.
//
// Data flow: Handler/Middleware → Echo Context → LayoutInjector → Go Context → Templ
package layouts

import "context"

// ctxKey is a private type for context keys to prevent collisions.
type ctxKey string

const (
	keyIsAuthenticated ctxKey = "layout_is_authenticated"
	keyUserID          ctxKey = "layout_user_id"
	keyUserEmail       ctxKey = "layout_user_email"
	keyCSRFToken       ctxKey = "layout_csrf_token"
	keyFlashSuccess    ctxKey = "layout_flash_success"
	keyFlashError      ctxKey = "layout_flash_error"
	keyActivePath      ctxKey = "layout_active_path"
)

// --- Setters (called by the LayoutInjector) ---

func SetIsAuthenticated(ctx context.Context, authed bool) context.Context {
	return context.WithValue(ctx, keyIsAuthenticated, authed)
}

func SetUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyUserID, id)
}

func SetUserEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, keyUserEmail, email)
}

func SetCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, keyCSRFToken, token)
}

func SetFlashSuccess(ctx context.Context, msg string) context.Context {
	return context.WithValue(ctx, keyFlashSuccess, msg)
}

func SetFlashError(ctx context.Context, msg string) context.Context {
	return context.WithValue(ctx, keyFlashError, msg)
}

// SetActivePath stores the current request path for nav highlighting.
func SetActivePath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, keyActivePath, path)
}

// --- Getters (called from components) ---

func IsAuthenticated(ctx context.Context) bool {
	v, _ := ctx.Value(keyIsAuthenticated).(bool)
	return v
}

func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(keyUserID).(string)
	return v
}

func GetUserEmail(ctx context.Context) string {
	v, _ := ctx.Value(keyUserEmail).(string)
	return v
}

func GetCSRFToken(ctx context.Context) string {
	v, _ := ctx.Value(keyCSRFToken).(string)
	return v
}

func GetFlashSuccess(ctx context.Context) string {
	v, _ := ctx.Value(keyFlashSuccess).(string)
	return v
}

func GetFlashError(ctx context.Context) string {
	v, _ := ctx.Value(keyFlashError).(string)
	return v
}

func GetActivePath(ctx context.Context) string {
	v, _ := ctx.Value(keyActivePath).(string)
	return v
}
