// Package session binds a chat conversation to one uploaded file and
// maintains its message history. History is keyed strictly by file id;
// the binder stores what it is given and never synthesizes messages.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"saleschat/pkg/domain"
	"saleschat/pkg/store"
)

const unavailableReply = "Sorry, the analyst is unavailable right now. Please try again."

// AnswerClient is the external chat backend capability.
type AnswerClient interface {
	Answer(ctx context.Context, question, fileID string) (string, error)
}

// Binder persists and retrieves per-file chat history.
type Binder struct {
	history store.HistoryStore
	analyst AnswerClient
}

// New constructs a binder over a history store and analyst client.
func New(history store.HistoryStore, analyst AnswerClient) (*Binder, error) {
	if history == nil {
		return nil, errors.New("history store required")
	}
	return &Binder{history: history, analyst: analyst}, nil
}

// History returns the ordered message history for a file, possibly
// empty.
func (b *Binder) History(fileID string) ([]domain.Message, error) {
	return b.history.History(fileID)
}

// Append persists one message, filling in id and creation time when
// absent, and returns the stored message.
func (b *Binder) Append(fileID string, msg domain.Message) (domain.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.FileID = fileID
	if err := b.history.AppendMessage(fileID, msg); err != nil {
		return domain.Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

// Clear removes the history for this file only.
func (b *Binder) Clear(fileID string) error {
	return b.history.ClearHistory(fileID)
}

// Chat records the user's message, asks the analyst, records the reply
// and returns it. When the analyst fails, an error-flagged bot message
// is still recorded so the history reflects the exchange, and the
// analyst error is returned.
func (b *Binder) Chat(ctx context.Context, fileID, text, timestamp string) (domain.Message, error) {
	if b.analyst == nil {
		return domain.Message{}, errors.New("no analyst configured")
	}
	if _, err := b.Append(fileID, domain.Message{
		Text:      text,
		Sender:    domain.SenderUser,
		Timestamp: timestamp,
	}); err != nil {
		return domain.Message{}, err
	}

	answer, err := b.analyst.Answer(ctx, text, fileID)
	if err != nil {
		if _, aerr := b.Append(fileID, domain.Message{
			Text:    unavailableReply,
			Sender:  domain.SenderBot,
			IsError: true,
		}); aerr != nil {
			return domain.Message{}, aerr
		}
		return domain.Message{}, fmt.Errorf("analyst answer: %w", err)
	}

	return b.Append(fileID, domain.Message{
		Text:   answer,
		Sender: domain.SenderBot,
	})
}
