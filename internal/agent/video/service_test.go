package video

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/content-engine/internal/config"
	"github.com/content-engine/internal/models"
	"github.com/content-engine/internal/queue"
	"github.com/content-engine/internal/storage/gormrepo"
	"github.com/content-engine/internal/storage/storagetest"
	"github.com/content-engine/pkg/logger"
)

type stubRenderer struct {
	url      string
	err      error
	requests []RenderRequest
}

func (r *stubRenderer) Render(ctx context.Context, req RenderRequest) (string, error) {
	r.requests = append(r.requests, req)
	return r.url, r.err
}

type stubChainer struct{ videos []uint }

func (c *stubChainer) ChainVideoSocial(ctx context.Context, video *models.VideoGeneration) (int, error) {
	c.videos = append(c.videos, video.ID)
	return 1, nil
}

var testNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T, renderer Renderer) (*Service, *gormrepo.Repository, *queue.MemoryQueue) {
	t.Helper()
	repo := storagetest.New(t)
	q := queue.NewMemoryQueue()
	q.SetClock(func() time.Time { return testNow })

	svc := NewService(repo, q, renderer, config.VideoConfig{
		RetryCooldown:    2 * time.Hour,
		RetryBackoffStep: 5 * time.Minute,
		DefaultPriority:  5,
	}, logger.Nop())
	svc.now = func() time.Time { return testNow }
	return svc, repo, q
}

func failedVideo(t *testing.T, repo *gormrepo.Repository, postID uint, retries int, lastRetry *time.Time) *models.VideoGeneration {
	t.Helper()
	v := &models.VideoGeneration{
		PostID:       postID,
		Status:       models.VideoStatusFailed,
		Priority:     3,
		RetryCount:   retries,
		LastRetryAt:  lastRetry,
		ErrorMessage: "renderer timeout",
	}
	if err := repo.CreateVideo(context.Background(), v); err != nil {
		t.Fatalf("create video: %v", err)
	}
	return v
}

func TestRequestQueuesRender(t *testing.T) {
	ctx := context.Background()
	svc, repo, q := setup(t, &stubRenderer{})
	chainer := &stubChainer{}
	svc.SetChainer(chainer)

	post := storagetest.ApprovedDraft(t, repo, "Video me", false)
	v, err := svc.Request(ctx, RequestOptions{PostID: post.ID, AutoPublish: true, Platforms: []string{" LinkedIn "}})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if v.Status != models.VideoStatusQueued || v.Priority != 5 || len(v.Platforms) != 1 || v.Platforms[0] != "linkedin" {
		t.Fatalf("unexpected video: %+v", v)
	}

	pending := q.Pending(queue.LaneVideo)
	if len(pending) != 1 || pending[0].Video.VideoID != v.ID || pending[0].Priority != 5 {
		t.Fatalf("unexpected render jobs: %+v", pending)
	}
	if len(chainer.videos) != 0 {
		t.Fatalf("shares chained before the video rendered: %v", chainer.videos)
	}

	if _, err := svc.Request(ctx, RequestOptions{PostID: 999}); err == nil {
		t.Fatal("unknown post should fail")
	}
}

func TestHandleRendersVideo(t *testing.T) {
	ctx := context.Background()
	renderer := &stubRenderer{url: "https://videos.example.com/1.mp4"}
	svc, repo, q := setup(t, renderer)

	post := storagetest.ApprovedDraft(t, repo, "Video me", false)
	v, _ := svc.Request(ctx, RequestOptions{PostID: post.ID})

	job, _ := q.Dequeue(ctx, queue.LaneVideo)
	if err := svc.Handle(ctx, *job); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, _ := repo.GetVideoByID(ctx, v.ID)
	if got.Status != models.VideoStatusCompleted || got.VideoURL != renderer.url || got.CompletedAt == nil {
		t.Fatalf("video not completed: %+v", got)
	}
	if renderer.requests[0].Title != "Video me" {
		t.Fatalf("unexpected render request: %+v", renderer.requests[0])
	}

	// a duplicate delivery leaves the finished video alone
	if err := svc.Handle(ctx, *job); err != nil || len(renderer.requests) != 1 {
		t.Fatalf("completed video rendered again: %v", err)
	}
}

func TestAutoPublishChainsAfterRetriedRender(t *testing.T) {
	ctx := context.Background()
	renderer := &stubRenderer{err: errors.New("renderer busy")}
	svc, repo, q := setup(t, renderer)
	chainer := &stubChainer{}
	svc.SetChainer(chainer)

	post := storagetest.ApprovedDraft(t, repo, "Video me", false)
	v, err := svc.Request(ctx, RequestOptions{PostID: post.ID, AutoPublish: true})
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	job, _ := q.Dequeue(ctx, queue.LaneVideo)
	if err := svc.Handle(ctx, *job); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(chainer.videos) != 0 {
		t.Fatalf("failed render chained shares: %v", chainer.videos)
	}

	res, err := svc.ProcessFailedVideos(ctx)
	if err != nil || res.Requeued != 1 {
		t.Fatalf("sweep: %+v %v", res, err)
	}

	renderer.err = nil
	renderer.url = "https://videos.example.com/1.mp4"
	q.SetClock(func() time.Time { return testNow.Add(time.Hour) })
	job, _ = q.Dequeue(ctx, queue.LaneVideo)
	if job == nil {
		t.Fatal("expected the retried render job")
	}
	if err := svc.Handle(ctx, *job); err != nil {
		t.Fatalf("handle retry: %v", err)
	}

	got, _ := repo.GetVideoByID(ctx, v.ID)
	if got.Status != models.VideoStatusCompleted || got.RetryCount != 1 {
		t.Fatalf("video not completed on retry: %+v", got)
	}
	if len(chainer.videos) != 1 || chainer.videos[0] != v.ID {
		t.Fatalf("completed video should chain shares once: %v", chainer.videos)
	}
}

func TestRetryToTerminal(t *testing.T) {
	ctx := context.Background()
	renderer := &stubRenderer{err: errors.New("gpu out of memory")}
	svc, repo, q := setup(t, renderer)

	post := storagetest.ApprovedDraft(t, repo, "Video me", false)
	lastRetry := testNow.Add(-3 * time.Hour)
	v := failedVideo(t, repo, post.ID, 2, &lastRetry)

	res, err := svc.ProcessFailedVideos(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Requeued != 1 || len(res.Terminal) != 0 {
		t.Fatalf("expected one requeue: %+v", res)
	}

	got, _ := repo.GetVideoByID(ctx, v.ID)
	if got.Status != models.VideoStatusQueued || got.RetryCount != 3 || got.LastRetryAt == nil {
		t.Fatalf("unexpected requeued video: %+v", got)
	}

	pending := q.Pending(queue.LaneVideo)
	if len(pending) != 1 {
		t.Fatalf("expected one render job, got %d", len(pending))
	}
	if delay := pending[0].RunAt.Sub(testNow); delay != 15*time.Minute {
		t.Fatalf("expected 15m delay, got %v", delay)
	}

	// render fails for the third time
	q.SetClock(func() time.Time { return testNow.Add(time.Hour) })
	job, _ := q.Dequeue(ctx, queue.LaneVideo)
	if err := svc.Handle(ctx, *job); err != nil {
		t.Fatalf("handle: %v", err)
	}

	svc.now = func() time.Time { return testNow.Add(5 * time.Hour) }
	res, err = svc.ProcessFailedVideos(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if res.Requeued != 0 || len(res.Terminal) != 1 || res.Terminal[0] != v.ID {
		t.Fatalf("expected terminal video: %+v", res)
	}

	final, _ := repo.GetVideoByID(ctx, v.ID)
	if final.Status != models.VideoStatusFailed || final.RetryCount != 3 || !final.IsTerminal() {
		t.Fatalf("unexpected final state: %+v", final)
	}
	if len(q.Pending(queue.LaneVideo)) != 0 {
		t.Fatal("terminal video was queued again")
	}
}

func TestRetryRespectsCooldown(t *testing.T) {
	ctx := context.Background()
	svc, repo, q := setup(t, &stubRenderer{})
	post := storagetest.ApprovedDraft(t, repo, "Video me", false)

	recent := testNow.Add(-time.Hour)
	failedVideo(t, repo, post.ID, 1, &recent)
	fresh := failedVideo(t, repo, post.ID, 0, nil)

	res, err := svc.ProcessFailedVideos(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Requeued != 1 || res.Waiting != 1 {
		t.Fatalf("unexpected sweep: %+v", res)
	}

	pending := q.Pending(queue.LaneVideo)
	if len(pending) != 1 || pending[0].Video.VideoID != fresh.ID {
		t.Fatalf("never retried video should go first: %+v", pending)
	}
	if delay := pending[0].RunAt.Sub(testNow); delay != 5*time.Minute {
		t.Fatalf("expected 5m delay, got %v", delay)
	}
}

func TestHTTPRenderer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/render" || r.Header.Get("Authorization") != "Bearer key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var req RenderRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Title == "boom" {
			_, _ = w.Write([]byte(`{"error":"unsupported"}`))
			return
		}
		_, _ = w.Write([]byte(`{"video_url":"https://cdn.example.com/v.mp4"}`))
	}))
	defer server.Close()

	r := NewHTTPRenderer(config.VideoConfig{RendererURL: server.URL + "/", RendererAPIKey: "key"}, nil, logger.Nop())

	url, err := r.Render(context.Background(), RenderRequest{VideoID: 1, Title: "ok"})
	if err != nil || url != "https://cdn.example.com/v.mp4" {
		t.Fatalf("render: %q %v", url, err)
	}

	if _, err := r.Render(context.Background(), RenderRequest{Title: "boom"}); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("expected renderer error, got %v", err)
	}

	unauth := NewHTTPRenderer(config.VideoConfig{RendererURL: server.URL}, nil, logger.Nop())
	if _, err := unauth.Render(context.Background(), RenderRequest{Title: "ok"}); err == nil {
		t.Fatal("expected 401 error")
	}
}

func TestScriptKeepsRunesWhole(t *testing.T) {
	post := &models.Post{Content: strings.Repeat("é", maxScriptLength+10)}
	got := script(post)
	if !utf8.ValidString(got) || utf8.RuneCountInString(got) != maxScriptLength {
		t.Fatalf("unexpected script: %d runes, valid=%v", utf8.RuneCountInString(got), utf8.ValidString(got))
	}
}

func TestScriptTruncatesAtSentence(t *testing.T) {
	post := &models.Post{Content: strings.Repeat("Short sentence here. ", 100)}
	got := script(post)
	if len(got) > maxScriptLength || !strings.HasSuffix(got, ".") {
		t.Fatalf("unexpected script length %d", len(got))
	}
}
