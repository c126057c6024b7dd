package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Photo is a binary image payload delivered as an embedded picture.
// The adapter owns the wire encoding (multipart upload for Telegram).
type Photo struct {
	Data    []byte
	Caption string
	Name    string // filename hint, e.g. "limit_up.png"
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendPhoto(ctx context.Context, to ChatTarget, photo Photo, opt *SendOptions) (MessageRef, error)

	// Online reports whether the adapter currently holds a working
	// connection to the chat platform (poll loop running and healthy).
	Online() bool
}
