// Package pending queues inbound Telegram messages captured while the bot is
// inactive. The queue is in memory only.
package pending

import (
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrNotFound indicates the message is unknown or was already processed.
var ErrNotFound = errors.New("pending message not found")

var queuedMessages = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "aobridge_pending_messages",
	Help: "Number of Telegram messages waiting to be processed.",
})

type Kind string

const (
	KindDocument Kind = "document"
	KindPhoto    Kind = "photo"
	KindText     Kind = "text"
)

// From identifies the Telegram sender.
type From struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

// Uploader is the username when set, otherwise the numeric id.
func (f From) Uploader() string {
	if f.Username != "" {
		return f.Username
	}
	return strconv.FormatInt(f.ID, 10)
}

// Payload is the captured shape of an inbound message. It carries everything
// needed to resume processing without the original connection.
type Payload interface {
	Kind() Kind
	Sender() From
	Chat() int64
}

type Document struct {
	FileID   string `json:"fileId"`
	FileName string `json:"fileName,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
	From     From   `json:"from"`
	ChatID   int64  `json:"chatId"`
}

func (Document) Kind() Kind { return KindDocument }
func (d Document) Sender() From { return d.From }
func (d Document) Chat() int64 { return d.ChatID }

type Photo struct {
	FileID   string `json:"fileId"`
	Caption  string `json:"caption,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
	From     From   `json:"from"`
	ChatID   int64  `json:"chatId"`
}

func (Photo) Kind() Kind { return KindPhoto }
func (p Photo) Sender() From { return p.From }
func (p Photo) Chat() int64 { return p.ChatID }

type Text struct {
	Text   string `json:"text"`
	From   From   `json:"from"`
	ChatID int64  `json:"chatId"`
}

func (Text) Kind() Kind { return KindText }
func (t Text) Sender() From { return t.From }
func (t Text) Chat() int64 { return t.ChatID }

type Message struct {
	ID         string
	Payload    Payload
	ReceivedAt time.Time
}

// Summary is the API view of a queued message.
type Summary struct {
	ID         string    `json:"id"`
	Type       Kind      `json:"type"`
	From       string    `json:"from"`
	ReceivedAt time.Time `json:"receivedAt"`
	Payload    Payload   `json:"payload"`
}

func (m Message) Summary() Summary {
	return Summary{
		ID:         m.ID,
		Type:       m.Payload.Kind(),
		From:       m.Payload.Sender().Uploader(),
		ReceivedAt: m.ReceivedAt,
		Payload:    m.Payload,
	}
}

type Queue struct {
	mu       sync.Mutex
	messages map[string]Message
	now      func() time.Time
	logger   *slog.Logger
}

func NewQueue(log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	return &Queue{
		messages: make(map[string]Message),
		now:      time.Now,
		logger:   log.With(slog.String("service", "pending")),
	}
}

// Add captures payload under a fresh id.
func (q *Queue) Add(payload Payload) Message {
	msg := Message{
		ID:         uuid.NewString(),
		Payload:    payload,
		ReceivedAt: q.now().UTC(),
	}
	q.mu.Lock()
	q.messages[msg.ID] = msg
	queuedMessages.Set(float64(len(q.messages)))
	q.mu.Unlock()
	q.logger.Info("message queued", slog.String("message_id", msg.ID), slog.String("type", string(payload.Kind())))
	return msg
}

// Take removes and returns the message. A second Take for the same id
// returns ErrNotFound.
func (q *Queue) Take(id string) (Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	msg, ok := q.messages[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	delete(q.messages, id)
	queuedMessages.Set(float64(len(q.messages)))
	return msg, nil
}

// List returns queued messages, oldest first.
func (q *Queue) List() []Message {
	q.mu.Lock()
	out := make([]Message, 0, len(q.messages))
	for _, m := range q.messages {
		out = append(out, m)
	}
	q.mu.Unlock()
	slices.SortStableFunc(out, func(a, b Message) int {
		if c := a.ReceivedAt.Compare(b.ReceivedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}
