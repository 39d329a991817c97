package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEncoding is returned when a persisted record cannot be decoded
var ErrEncoding = errors.New("malformed record")

// AnonymousNickname is used when a poster leaves the nickname blank
const AnonymousNickname = "Anonymous"

// ThreadKind discriminates the two thread variants on the wire
type ThreadKind string

const (
	KindParent  ThreadKind = "parent"
	KindComment ThreadKind = "comment"
)

// ThreadPayload is the content shared by opening posts and comments
type ThreadPayload struct {
	ID        uint64 `json:"id"`
	Nickname  string `json:"nickname"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Timestamp uint64 `json:"timestamp"`
	Board     string `json:"board"`
	Image1    string `json:"image_1,omitempty"`
	Image2    string `json:"image_2,omitempty"`
	Image3    string `json:"image_3,omitempty"`
}

// Images returns the non-empty image references in slot order
func (p ThreadPayload) Images() []string {
	var out []string
	for _, img := range []string{p.Image1, p.Image2, p.Image3} {
		if img != "" {
			out = append(out, img)
		}
	}
	return out
}

// SetImages fills the image slots from refs, leaving missing slots empty
func (p *ThreadPayload) SetImages(refs []string) {
	slots := []*string{&p.Image1, &p.Image2, &p.Image3}
	for i, slot := range slots {
		*slot = ""
		if i < len(refs) {
			*slot = refs[i]
		}
	}
}

// Thread is either an opening post (ParentThread == nil) or a comment replying
// to the opening post with id *ParentThread.
type Thread struct {
	ThreadPayload
	ParentThread *uint64
}

// NewParent creates an opening post
func NewParent(payload ThreadPayload) Thread {
	return Thread{ThreadPayload: payload}
}

// NewComment creates a comment on the opening post parent
func NewComment(parent uint64, payload ThreadPayload) Thread {
	return Thread{ThreadPayload: payload, ParentThread: &parent}
}

// IsComment reports whether t replies to another post
func (t Thread) IsComment() bool {
	return t.ParentThread != nil
}

// Kind returns the variant of t
func (t Thread) Kind() ThreadKind {
	if t.IsComment() {
		return KindComment
	}
	return KindParent
}

// Ident returns the storage key of the post
func (t Thread) Ident() string {
	return ThreadKey(t.Board, t.Timestamp, t.ID, t.ParentThread)
}

type threadWire struct {
	Kind ThreadKind `json:"kind,omitempty"`
	ThreadPayload
	ParentThread *uint64 `json:"parent_thread,omitempty"`
}

// MarshalJSON writes the flattened payload together with an explicit kind
func (t Thread) MarshalJSON() ([]byte, error) {
	return json.Marshal(threadWire{
		Kind:          t.Kind(),
		ThreadPayload: t.ThreadPayload,
		ParentThread:  t.ParentThread,
	})
}

// UnmarshalJSON accepts records with or without the kind field. Without it,
// the presence of parent_thread selects the comment variant.
func (t *Thread) UnmarshalJSON(data []byte) error {
	var w threadWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	switch w.Kind {
	case KindParent:
		w.ParentThread = nil
	case KindComment:
		if w.ParentThread == nil {
			return fmt.Errorf("comment %d has no parent_thread", w.ID)
		}
	case "":
	default:
		return fmt.Errorf("unknown thread kind %q", w.Kind)
	}

	*t = Thread{ThreadPayload: w.ThreadPayload, ParentThread: w.ParentThread}
	return nil
}

// DecodeThread parses a persisted thread record
func DecodeThread(data []byte) (Thread, error) {
	var t Thread
	if err := json.Unmarshal(data, &t); err != nil {
		return Thread{}, fmt.Errorf("%w: thread: %v", ErrEncoding, err)
	}
	return t, nil
}
