package feedsync

import (
	"log/slog"
	"time"

	"circlefeed/internal/feed"
)

// Deep links arrive from outside the feed (push notification, another
// screen): a target message id plus optionally a comment id. Resolution means
// locating the message in the loaded window and emitting a scroll directive,
// then a comment-open directive. The delays give the client list time to
// render the page before it is asked to scroll.
var (
	scrollToDelay     = 300 * time.Millisecond
	openCommentsDelay = 200 * time.Millisecond
)

// DeepLink is an externally supplied feed target.
type DeepLink struct {
	MessageID string
	CommentID string
}

// Resolution is a resolved deep link: the message's position in the
// newest-first list and whether the comment view should open.
type Resolution struct {
	MessageID    string
	Index        int
	OpenComments bool
	CommentID    string
}

// Resolve locates a deep link target in the loaded feed. ok is false when the
// message is not in the current window; the link then stays pending and is
// retried after each later page merge rather than paging backward in search
// of it.
func Resolve(store *feed.Store, link DeepLink) (Resolution, bool) {
	idx := store.IndexOf(link.MessageID)
	if idx < 0 {
		return Resolution{}, false
	}
	return Resolution{
		MessageID:    link.MessageID,
		Index:        idx,
		OpenComments: link.CommentID != "",
		CommentID:    link.CommentID,
	}, true
}

// SetDeepLink records the target to resolve and attempts resolution against
// whatever is already loaded.
func (s *Syncer) SetDeepLink(link DeepLink) {
	if link.MessageID == "" {
		return
	}
	s.mu.Lock()
	s.pendingLink = &link
	s.mu.Unlock()
	s.tryResolve()
}

// PendingDeepLink reports whether an unresolved deep link remains.
func (s *Syncer) PendingDeepLink() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingLink != nil
}

func (s *Syncer) tryResolve() {
	s.mu.Lock()
	link := s.pendingLink
	s.mu.Unlock()
	if link == nil {
		return
	}

	res, ok := Resolve(s.store, *link)
	if !ok {
		return
	}

	s.mu.Lock()
	s.pendingLink = nil
	s.mu.Unlock()
	slog.Debug("[SYNC] Deep link resolved", "circle", s.circleID, "message", res.MessageID, "index", res.Index)

	time.AfterFunc(scrollToDelay, func() {
		s.listener.ScrollTo(s.circleID, res.MessageID, res.Index)
	})
	if res.OpenComments {
		time.AfterFunc(scrollToDelay+openCommentsDelay, func() {
			s.listener.OpenComments(s.circleID, res.MessageID, res.CommentID)
		})
	}
}
