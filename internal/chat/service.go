// Package chat is the message log and the status log: append-only records
// attributed to users and enriched with the author's current profile on
// every read.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Tyrowin/chatline/internal/common"
	"github.com/rs/zerolog/log"
)

// Publisher receives every appended message for fan-out to live viewers.
type Publisher interface {
	Publish(msg *Message)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(msg *Message)

func (f PublisherFunc) Publish(msg *Message) { f(msg) }

type Service struct {
	repo      Repository
	publisher Publisher

	// postMu spans append and publish so live events leave in id order.
	postMu sync.Mutex
}

// NewService returns a Service appending to repo. publisher may be nil
// until SetPublisher is called.
func NewService(repo Repository, publisher Publisher) *Service {
	return &Service{repo: repo, publisher: publisher}
}

// SetPublisher replaces the fan-out target. It must be called before the
// service handles traffic.
func (s *Service) SetPublisher(p Publisher) {
	s.publisher = p
}

// PostMessage appends a message and publishes the enriched record. Both the
// REST and the push-channel mutation paths go through here. A message must
// carry text or an image.
func (s *Service) PostMessage(ctx context.Context, authorID int64, text string, img string) (*Message, error) {
	img = strings.TrimSpace(img)
	if strings.TrimSpace(text) == "" && img == "" {
		return nil, common.ErrBadRequest
	}

	var imgRef *string
	if img != "" {
		imgRef = &img
	}

	s.postMu.Lock()
	defer s.postMu.Unlock()

	msg, err := s.repo.AppendMessage(ctx, authorID, text, imgRef)
	if err != nil {
		return nil, fmt.Errorf("error appending message: %w", err)
	}

	log.Debug().Int64("message_id", msg.ID).Int64("user_id", authorID).Msg("Message appended")

	// A crash before Publish leaves the message durable; viewers pick it up
	// on their next history snapshot.
	if s.publisher != nil {
		s.publisher.Publish(msg)
	}
	return msg, nil
}

// PostStatus appends an image status.
func (s *Service) PostStatus(ctx context.Context, authorID int64, img string) (*Status, error) {
	if strings.TrimSpace(img) == "" {
		return nil, common.ErrBadRequest
	}
	st, err := s.repo.AppendStatus(ctx, authorID, img)
	if err != nil {
		return nil, fmt.Errorf("error appending status: %w", err)
	}
	return st, nil
}

// Messages returns the full history, oldest first.
func (s *Service) Messages(ctx context.Context) ([]Message, error) {
	return s.repo.ListMessages(ctx)
}

// Statuses returns every status, newest first.
func (s *Service) Statuses(ctx context.Context) ([]Status, error) {
	return s.repo.ListStatuses(ctx)
}
