package obs

import (
	"context"
	"sync"
)

type tagsKey struct{}

// Tags holds request attributes learned while the handler runs, such as the
// register session it touched. RequestLogger adds them to the access log.
type Tags struct {
	mu      sync.Mutex
	session string
}

// WithTags attaches an empty Tags to ctx.
func WithTags(ctx context.Context) (context.Context, *Tags) {
	if ctx == nil {
		ctx = context.Background()
	}
	t := &Tags{}
	return context.WithValue(ctx, tagsKey{}, t), t
}

// TagsFromContext returns the request tags, or nil outside RequestLogger.
func TagsFromContext(ctx context.Context) *Tags {
	if ctx == nil {
		return nil
	}
	t, _ := ctx.Value(tagsKey{}).(*Tags)
	return t
}

// TagSession records the register session served by the request.
func TagSession(ctx context.Context, id string) {
	t := TagsFromContext(ctx)
	if t == nil {
		return
	}
	t.mu.Lock()
	t.session = id
	t.mu.Unlock()
}

// Session returns the tagged register session id.
func (t *Tags) Session() string {
	if t == nil {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session
}
