package distributor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/content-engine/internal/config"
	"github.com/content-engine/internal/models"
	"github.com/content-engine/internal/queue"
	"github.com/content-engine/internal/social"
	"github.com/content-engine/internal/storage/gormrepo"
	"github.com/content-engine/internal/storage/storagetest"
	"github.com/content-engine/pkg/logger"
)

// seqRand returns the queued values in order, then zeros
type seqRand struct{ values []int }

func (r *seqRand) Intn(n int) int {
	if len(r.values) == 0 {
		return 0
	}
	v := r.values[0]
	r.values = r.values[1:]
	return v % n
}

type stubPublisher struct {
	platform models.Platform
	err      error
	shares   []social.Share
}

func (p *stubPublisher) Platform() models.Platform { return p.platform }

func (p *stubPublisher) Publish(ctx context.Context, account *models.SocialMediaAccount, share social.Share) (string, error) {
	p.shares = append(p.shares, share)
	if p.err != nil {
		return "", p.err
	}
	return "ext-1", nil
}

var testNow = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

func distConfig() config.DistributionConfig {
	return config.DistributionConfig{
		StaggerMin: 5 * time.Second,
		StaggerMax: 15 * time.Second,
		VideoDelay: 30 * time.Minute,
		SiteURL:    "https://blog.example.com/",
	}
}

func setup(t *testing.T, rnd Rand, publishers ...social.Publisher) (*Agent, *gormrepo.Repository, *queue.MemoryQueue) {
	t.Helper()
	repo := storagetest.New(t)
	q := queue.NewMemoryQueue()
	q.SetClock(func() time.Time { return testNow })

	agent := NewAgent(repo, q, social.NewRegistry(publishers...), distConfig(), rnd, logger.Nop())
	agent.now = func() time.Time { return testNow }
	return agent, repo, q
}

func account(t *testing.T, repo *gormrepo.Repository, creatorID uint, platform models.Platform, active bool) *models.SocialMediaAccount {
	t.Helper()
	acc := &models.SocialMediaAccount{
		CreatorID: creatorID,
		Platform:  platform,
		AuthorURN: "urn:li:person:test",
		Active:    active,
	}
	if err := repo.CreateSocialAccount(context.Background(), acc); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return acc
}

func video(t *testing.T, repo *gormrepo.Repository, postID uint, status models.VideoStatus, retries int) *models.VideoGeneration {
	t.Helper()
	v := &models.VideoGeneration{
		PostID:     postID,
		Status:     status,
		RetryCount: retries,
		Platforms:  []string{"linkedin"},
		VideoURL:   "https://videos.example.com/1.mp4",
	}
	if err := repo.CreateVideo(context.Background(), v); err != nil {
		t.Fatalf("create video: %v", err)
	}
	return v
}

func TestDistributeStaggersActiveAccounts(t *testing.T) {
	ctx := context.Background()
	agent, repo, q := setup(t, &seqRand{values: []int{0, 10}})

	post := storagetest.ApprovedDraft(t, repo, "Shared post", false)
	first := account(t, repo, 1, models.PlatformLinkedIn, true)
	second := account(t, repo, 1, models.PlatformLinkedIn, true)
	account(t, repo, 1, models.PlatformLinkedIn, false)
	account(t, repo, 2, models.PlatformLinkedIn, true)

	n, err := agent.Distribute(ctx, post)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 jobs, got %d", n)
	}

	pending := q.Pending(queue.LaneSocial)
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending social jobs, got %d", len(pending))
	}

	delays := map[uint]time.Duration{}
	for _, job := range pending {
		if job.Kind != queue.KindSocialPublish || job.Social.PostID != post.ID || job.Social.VideoID != nil {
			t.Fatalf("unexpected job: %+v", job)
		}
		delays[job.Social.AccountID] = job.RunAt.Sub(testNow)
	}
	if delays[first.ID] != 5*time.Second || delays[second.ID] != 15*time.Second {
		t.Fatalf("unexpected stagger: %v", delays)
	}
}

func TestStaggerStaysInBounds(t *testing.T) {
	agent, _, _ := setup(t, &seqRand{values: []int{3, 99, 10, 11}})
	for i := 0; i < 5; i++ {
		d := agent.stagger()
		if d < 5*time.Second || d > 15*time.Second {
			t.Fatalf("stagger %v out of bounds", d)
		}
	}
}

func TestChainVideoSocial(t *testing.T) {
	ctx := context.Background()
	agent, repo, q := setup(t, &seqRand{})

	post := storagetest.ApprovedDraft(t, repo, "Video post", false)
	linked := account(t, repo, 1, models.PlatformLinkedIn, true)
	account(t, repo, 1, models.Platform("mastodon"), true)
	v := video(t, repo, post.ID, models.VideoStatusQueued, 0)

	n, err := agent.ChainVideoSocial(ctx, v)
	if err != nil || n != 1 {
		t.Fatalf("chain: %d %v", n, err)
	}

	pending := q.Pending(queue.LaneSocial)
	if len(pending) != 1 {
		t.Fatalf("expected one chained job, got %d", len(pending))
	}
	job := pending[0]
	if job.Social.AccountID != linked.ID || job.Social.VideoID == nil || *job.Social.VideoID != v.ID {
		t.Fatalf("unexpected chained job: %+v", job.Social)
	}
	if got := job.RunAt.Sub(testNow); got != 30*time.Minute {
		t.Fatalf("expected 30m delay, got %v", got)
	}
}

func TestHandleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	pub := &stubPublisher{platform: models.PlatformLinkedIn}
	agent, repo, _ := setup(t, &seqRand{}, pub)

	post := storagetest.ApprovedDraft(t, repo, "Shared post", false)
	acc := account(t, repo, 1, models.PlatformLinkedIn, true)
	job := queue.NewSocialJob(post.ID, acc.ID, nil, time.Time{})

	for i := 0; i < 2; i++ {
		if err := agent.Handle(ctx, job); err != nil {
			t.Fatalf("handle %d: %v", i, err)
		}
	}
	if len(pub.shares) != 1 {
		t.Fatalf("expected one publish, got %d", len(pub.shares))
	}
	if pub.shares[0].Link != "https://blog.example.com/posts/1" {
		t.Fatalf("unexpected link %q", pub.shares[0].Link)
	}

	record, err := repo.FindSocialPost(ctx, post.ID, acc.ID, nil)
	if err != nil {
		t.Fatalf("find share: %v", err)
	}
	if record.Status != models.SocialPostPublished || record.ExternalID != "ext-1" || record.PublishedAt == nil {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestHandleFailureThenRetry(t *testing.T) {
	ctx := context.Background()
	pub := &stubPublisher{platform: models.PlatformLinkedIn, err: errors.New("429 too many requests")}
	agent, repo, _ := setup(t, &seqRand{}, pub)

	post := storagetest.ApprovedDraft(t, repo, "Shared post", false)
	acc := account(t, repo, 1, models.PlatformLinkedIn, true)
	job := queue.NewSocialJob(post.ID, acc.ID, nil, time.Time{})

	if err := agent.Handle(ctx, job); err == nil {
		t.Fatal("expected publish error to surface for retry")
	}
	record, _ := repo.FindSocialPost(ctx, post.ID, acc.ID, nil)
	if record.Status != models.SocialPostFailed || record.ErrorMessage == "" {
		t.Fatalf("failure not recorded: %+v", record)
	}

	pub.err = nil
	if err := agent.Handle(ctx, job); err != nil {
		t.Fatalf("retry: %v", err)
	}
	retried, _ := repo.FindSocialPost(ctx, post.ID, acc.ID, nil)
	if retried.ID != record.ID || retried.Status != models.SocialPostPublished || retried.ErrorMessage != "" {
		t.Fatalf("retry should update the same record: %+v", retried)
	}
}

func TestHandleWaitsForVideo(t *testing.T) {
	ctx := context.Background()
	pub := &stubPublisher{platform: models.PlatformLinkedIn}
	agent, repo, _ := setup(t, &seqRand{}, pub)

	post := storagetest.ApprovedDraft(t, repo, "Video post", false)
	acc := account(t, repo, 1, models.PlatformLinkedIn, true)

	rendering := video(t, repo, post.ID, models.VideoStatusProcessing, 0)
	err := agent.Handle(ctx, queue.NewSocialJob(post.ID, acc.ID, &rendering.ID, time.Time{}))
	if !errors.Is(err, ErrVideoNotReady) {
		t.Fatalf("expected ErrVideoNotReady, got %v", err)
	}

	dead := video(t, repo, post.ID, models.VideoStatusFailed, models.MaxVideoRetries)
	if err := agent.Handle(ctx, queue.NewSocialJob(post.ID, acc.ID, &dead.ID, time.Time{})); err != nil {
		t.Fatalf("terminal video should drop the share: %v", err)
	}

	done := video(t, repo, post.ID, models.VideoStatusCompleted, 0)
	if err := agent.Handle(ctx, queue.NewSocialJob(post.ID, acc.ID, &done.ID, time.Time{})); err != nil {
		t.Fatalf("completed video: %v", err)
	}
	if len(pub.shares) != 1 || pub.shares[0].Video == nil || pub.shares[0].Video.ID != done.ID {
		t.Fatalf("expected one video share, got %+v", pub.shares)
	}
}

func TestHandleWithoutPublisher(t *testing.T) {
	ctx := context.Background()
	agent, repo, _ := setup(t, &seqRand{})

	post := storagetest.ApprovedDraft(t, repo, "Shared post", false)
	acc := account(t, repo, 1, models.Platform("mastodon"), true)

	if err := agent.Handle(ctx, queue.NewSocialJob(post.ID, acc.ID, nil, time.Time{})); err != nil {
		t.Fatalf("missing publisher should not be retried: %v", err)
	}
	record, err := repo.FindSocialPost(ctx, post.ID, acc.ID, nil)
	if err != nil || record.Status != models.SocialPostFailed {
		t.Fatalf("expected failed record: %+v %v", record, err)
	}
}
