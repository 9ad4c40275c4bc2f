// Package storagetest provides an in-memory repository for package tests.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/content-engine/internal/models"
	"github.com/content-engine/internal/storage/gormrepo"
)

// New returns a migrated in-memory SQLite repository closed at test cleanup
func New(t testing.TB) *gormrepo.Repository {
	t.Helper()

	repo, err := gormrepo.New("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	if err := repo.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

// Source creates an active source with the given trust level
func Source(t testing.TB, repo *gormrepo.Repository, name string, trust float64) *models.ContentSource {
	t.Helper()

	src := &models.ContentSource{
		Name:       name,
		Type:       models.SourceTypeRSS,
		URL:        "https://" + name + ".example.com/feed",
		TrustLevel: trust,
		Active:     true,
	}
	if err := repo.CreateSource(context.Background(), src); err != nil {
		t.Fatalf("create source: %v", err)
	}
	return src
}

// Article stores an unprocessed article fetched at the given time
func Article(t testing.TB, repo *gormrepo.Repository, src *models.ContentSource, title, content string, fetchedAt time.Time) *models.SourceArticle {
	t.Helper()

	url := "https://" + src.Name + ".example.com/" + title
	a := &models.SourceArticle{
		ExternalID: src.Name + ":" + title,
		SourceID:   src.ID,
		Title:      title,
		Content:    content,
		URL:        url,
		FetchedAt:  fetchedAt,
	}
	if err := repo.CreateArticle(context.Background(), a); err != nil {
		t.Fatalf("create article: %v", err)
	}
	return a
}

// ApprovedDraft stores a draft that passed moderation
func ApprovedDraft(t testing.TB, repo *gormrepo.Repository, title string, curated bool) *models.Post {
	t.Helper()

	p := &models.Post{
		CreatorID:        1,
		Title:            title,
		Content:          "Body of " + title,
		Status:           models.PostStatusDraft,
		IsCurated:        curated,
		ModerationStatus: models.ModerationApproved,
	}
	if err := repo.CreatePost(context.Background(), p); err != nil {
		t.Fatalf("create post: %v", err)
	}
	return p
}
