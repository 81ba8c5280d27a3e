package feedsync

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"circlefeed/internal/feed"
	"circlefeed/internal/models"
)

func shortDelays(t *testing.T) {
	t.Helper()
	savedScroll, savedOpen := scrollToDelay, openCommentsDelay
	scrollToDelay, openCommentsDelay = 5*time.Millisecond, 5*time.Millisecond
	t.Cleanup(func() {
		scrollToDelay, openCommentsDelay = savedScroll, savedOpen
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestResolveFindsLoadedMessage(t *testing.T) {
	s := feed.NewStore("c1")
	s.ApplyPage([]models.Message{{ID: "m3"}, {ID: "m2"}, {ID: "m1"}}, 3, 0)

	res, ok := Resolve(s, DeepLink{MessageID: "m2"})
	assert.Equal(t, true, ok)
	assert.Equal(t, 1, res.Index)
	assert.Equal(t, false, res.OpenComments)

	res, ok = Resolve(s, DeepLink{MessageID: "m1", CommentID: "k7"})
	assert.Equal(t, true, ok)
	assert.Equal(t, 2, res.Index)
	assert.Equal(t, true, res.OpenComments)
	assert.Equal(t, "k7", res.CommentID)
}

func TestResolveMissingTarget(t *testing.T) {
	s := feed.NewStore("c1")
	s.ApplyPage([]models.Message{{ID: "m2"}, {ID: "m1"}}, 2, 0)

	_, ok := Resolve(s, DeepLink{MessageID: "m99"})
	assert.Equal(t, false, ok)
}

func TestDeepLinkEmitsScrollAndOpenDirectives(t *testing.T) {
	shortDelays(t)

	backend := &fakeBackend{
		messages: serverMessages(5),
		circle:   models.Circle{ID: "c1", Status: models.CircleStatusActive},
	}
	s, _, l := newTestSyncer(backend)
	assert.Equal(t, nil, s.Start(context.Background()))

	s.SetDeepLink(DeepLink{MessageID: "m2", CommentID: "k1"})
	assert.Equal(t, false, s.PendingDeepLink())

	waitFor(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.scrolls) == 1 && len(l.opened) == 1
	})
	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Equal(t, []int{3}, l.scrolls)
	assert.Equal(t, []string{"m2:k1"}, l.opened)
}

func TestDeepLinkStaysPendingUntilTargetLoads(t *testing.T) {
	shortDelays(t)

	backend := &fakeBackend{
		messages: serverMessages(25),
		circle:   models.Circle{ID: "c1", Status: models.CircleStatusActive},
	}
	s, _, l := newTestSyncer(backend)
	ctx := context.Background()
	assert.Equal(t, nil, s.Start(ctx))

	// m12 is on the second page
	s.SetDeepLink(DeepLink{MessageID: "m12"})
	assert.Equal(t, true, s.PendingDeepLink())

	assert.Equal(t, nil, s.LoadMore(ctx))
	assert.Equal(t, false, s.PendingDeepLink())

	waitFor(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.scrolls) == 1
	})
	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Equal(t, []int{13}, l.scrolls)
	assert.Equal(t, 0, len(l.opened))
}
