// Package queue dispatches background jobs over named lanes with priority and delay.
package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies which handler runs a job
type Kind string

const (
	KindScrape        Kind = "scrape"
	KindParaphrase    Kind = "paraphrase"
	KindVideo         Kind = "video_generation"
	KindSocialPublish Kind = "social_publish"
)

// Lane is a named queue processed by its own worker loop
type Lane string

const (
	LaneDefault Lane = "default"
	LaneContent Lane = "content"
	LaneVideo   Lane = "video"
	LaneSocial  Lane = "social-media"
	LaneHigh    Lane = "high"
)

// Lanes returns every lane in dashboard order
func Lanes() []Lane {
	return []Lane{LaneHigh, LaneDefault, LaneContent, LaneVideo, LaneSocial}
}

// ParseLane validates a lane name
func ParseLane(name string) (Lane, error) {
	for _, l := range Lanes() {
		if string(l) == name {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown lane %q", name)
}

// ScrapePayload asks for one scraper run
type ScrapePayload struct {
	SourceName string `json:"source_name,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// ParaphrasePayload asks for one aggregation to be curated
type ParaphrasePayload struct {
	AggregationID uint `json:"aggregation_id"`
}

// VideoPayload asks for one video to be rendered
type VideoPayload struct {
	VideoID uint `json:"video_id"`
}

// SocialPayload asks for one post to be shared to one account
type SocialPayload struct {
	PostID    uint  `json:"post_id"`
	AccountID uint  `json:"account_id"`
	VideoID   *uint `json:"video_id,omitempty"`
}

// Job is a unit of background work. Exactly one payload is set, matching Kind.
type Job struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Lane      Lane      `json:"lane"`
	Priority  int       `json:"priority"`
	RunAt     time.Time `json:"run_at"`
	Attempt   int       `json:"attempt"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	Scrape     *ScrapePayload     `json:"scrape,omitempty"`
	Paraphrase *ParaphrasePayload `json:"paraphrase,omitempty"`
	Video      *VideoPayload      `json:"video,omitempty"`
	Social     *SocialPayload     `json:"social,omitempty"`
}

// ErrInvalidJob is returned for jobs whose payload does not match their kind
var ErrInvalidJob = errors.New("invalid job")

func newJob(kind Kind, lane Lane, priority int, runAt time.Time) Job {
	now := time.Now()
	if runAt.IsZero() {
		runAt = now
	}
	return Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Lane:      lane,
		Priority:  priority,
		RunAt:     runAt,
		CreatedAt: now,
	}
}

// NewScrapeJob builds a scraper job on the content lane
func NewScrapeJob(sourceName string, limit int) Job {
	job := newJob(KindScrape, LaneContent, 0, time.Time{})
	job.Scrape = &ScrapePayload{SourceName: sourceName, Limit: limit}
	return job
}

// NewParaphraseJob builds a paraphrase job on the content lane
func NewParaphraseJob(aggregationID uint) Job {
	job := newJob(KindParaphrase, LaneContent, 0, time.Time{})
	job.Paraphrase = &ParaphrasePayload{AggregationID: aggregationID}
	return job
}

// NewVideoJob builds a render job on the video lane
func NewVideoJob(videoID uint, priority int, runAt time.Time) Job {
	job := newJob(KindVideo, LaneVideo, priority, runAt)
	job.Video = &VideoPayload{VideoID: videoID}
	return job
}

// NewSocialJob builds a share job on the social-media lane
func NewSocialJob(postID, accountID uint, videoID *uint, runAt time.Time) Job {
	job := newJob(KindSocialPublish, LaneSocial, 0, runAt)
	job.Social = &SocialPayload{PostID: postID, AccountID: accountID, VideoID: videoID}
	return job
}

// Validate checks the job is well-formed
func (j Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidJob)
	}
	if _, err := ParseLane(string(j.Lane)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}

	set := 0
	for _, present := range []bool{j.Scrape != nil, j.Paraphrase != nil, j.Video != nil, j.Social != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: %s carries %d payloads", ErrInvalidJob, j.Kind, set)
	}

	switch j.Kind {
	case KindScrape:
		if j.Scrape == nil {
			return fmt.Errorf("%w: scrape payload missing", ErrInvalidJob)
		}
	case KindParaphrase:
		if j.Paraphrase == nil || j.Paraphrase.AggregationID == 0 {
			return fmt.Errorf("%w: paraphrase needs an aggregation id", ErrInvalidJob)
		}
	case KindVideo:
		if j.Video == nil || j.Video.VideoID == 0 {
			return fmt.Errorf("%w: video needs a video id", ErrInvalidJob)
		}
	case KindSocialPublish:
		if j.Social == nil || j.Social.PostID == 0 || j.Social.AccountID == 0 {
			return fmt.Errorf("%w: social publish needs post and account ids", ErrInvalidJob)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidJob, j.Kind)
	}
	return nil
}
