package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/cornchan/cornchan/internal/images"
	"github.com/cornchan/cornchan/internal/models"
	"github.com/cornchan/cornchan/internal/store"
	"github.com/cornchan/cornchan/pkg/logging"
	"github.com/cornchan/cornchan/pkg/telemetry"
)

// Field limits for submitted posts, in bytes
const (
	MaxNicknameLen = 64
	MaxTitleLen    = 200
	MaxContentLen  = 8000
)

// ErrInvalidInput is returned for submissions that break the field limits
var ErrInvalidInput = errors.New("invalid input")

// ImageStore turns uploads into stored image references
type ImageStore interface {
	Ingest(ctx context.Context, uploads []images.Upload) ([]string, error)
	Remove(id string) error
}

// PostInput is a submitted thread or comment
type PostInput struct {
	Nickname string
	Title    string
	Content  string
	Images   []images.Upload
}

// ThreadView is an opening post with its comments, oldest first
type ThreadView struct {
	Thread   models.Thread   `json:"thread"`
	Comments []models.Thread `json:"comments"`
}

// Service reads and writes boards and posts
type Service struct {
	store  store.Store
	images ImageStore
	now    func() time.Time
	logger *zap.Logger
}

// NewService creates a board service
func NewService(s store.Store, img ImageStore) *Service {
	return &Service{
		store:  s,
		images: img,
		now:    time.Now,
		logger: logging.WithComponent("board"),
	}
}

// SeedBoard writes a board, replacing any board with the same slug
func (s *Service) SeedBoard(ctx context.Context, name, slug, description string) (models.Board, error) {
	b := models.NewBoard(strings.TrimSpace(name), models.Slugify(slug), description)
	if b.Slug == "" {
		return models.Board{}, fmt.Errorf("%w: board needs a name or slug", ErrInvalidInput)
	}

	data, err := json.Marshal(b)
	if err != nil {
		return models.Board{}, fmt.Errorf("%w: %v", models.ErrEncoding, err)
	}
	if err := s.store.Put(ctx, store.TableBoards, b.Ident(), data); err != nil {
		return models.Board{}, err
	}

	s.logger.Info("Board seeded", zap.String("slug", b.Slug), zap.String("name", b.Name))
	return b, nil
}

// GetBoard returns the board with the given slug or store.ErrNotFound
func (s *Service) GetBoard(ctx context.Context, slug string) (models.Board, error) {
	data, err := s.store.Get(ctx, store.TableBoards, models.BoardKey(slug))
	if err != nil {
		return models.Board{}, err
	}
	return models.DecodeBoard(data)
}

// ListBoards returns every board ordered by slug
func (s *Service) ListBoards(ctx context.Context) ([]models.Board, error) {
	entries, err := s.store.Scan(ctx, store.TableBoards, models.BoardKey("*"))
	if err != nil {
		return nil, err
	}

	boards := make([]models.Board, 0, len(entries))
	for _, e := range entries {
		b, err := models.DecodeBoard(e.Value)
		if err != nil {
			return nil, err
		}
		boards = append(boards, b)
	}

	sort.Slice(boards, func(i, j int) bool { return boards[i].Slug < boards[j].Slug })
	return boards, nil
}

// ListThreads returns every post of a board, opening posts and comments,
// newest first
func (s *Service) ListThreads(ctx context.Context, slug string) ([]models.Thread, error) {
	ctx, span := telemetry.StartSpan(ctx, "board.list_threads", trace.WithAttributes(attribute.String("board", slug)))
	defer span.End()

	if _, err := s.GetBoard(ctx, slug); err != nil {
		return nil, err
	}

	threads, err := s.scanThreads(ctx, slug)
	if err != nil {
		return nil, err
	}

	sort.Slice(threads, func(i, j int) bool {
		if threads[i].Timestamp != threads[j].Timestamp {
			return threads[i].Timestamp > threads[j].Timestamp
		}
		return threads[i].ID > threads[j].ID
	})
	return threads, nil
}

// GetThread returns the opening post id of a board with its comments. An id
// that belongs to a comment is reported as store.ErrNotFound.
func (s *Service) GetThread(ctx context.Context, slug string, id uint64) (ThreadView, error) {
	ctx, span := telemetry.StartSpan(ctx, "board.get_thread",
		trace.WithAttributes(attribute.String("board", slug), attribute.Int64("id", int64(id))))
	defer span.End()

	parent, err := s.findParent(ctx, slug, id)
	if err != nil {
		return ThreadView{}, err
	}

	all, err := s.scanThreads(ctx, slug)
	if err != nil {
		return ThreadView{}, err
	}

	comments := make([]models.Thread, 0)
	for _, t := range all {
		if t.ParentThread != nil && *t.ParentThread == id {
			comments = append(comments, t)
		}
	}
	sort.Slice(comments, func(i, j int) bool {
		if comments[i].Timestamp != comments[j].Timestamp {
			return comments[i].Timestamp < comments[j].Timestamp
		}
		return comments[i].ID < comments[j].ID
	})

	return ThreadView{Thread: parent, Comments: comments}, nil
}

// CreateThread stores a new opening post on a board and returns its id
func (s *Service) CreateThread(ctx context.Context, slug string, in PostInput) (uint64, error) {
	ctx, span := telemetry.StartSpan(ctx, "board.create_thread", trace.WithAttributes(attribute.String("board", slug)))
	defer span.End()

	if err := validate(in); err != nil {
		return 0, err
	}
	if _, err := s.GetBoard(ctx, slug); err != nil {
		return 0, err
	}

	return s.create(ctx, slug, nil, in)
}

// CreateComment stores a reply to the opening post parent and returns its id
func (s *Service) CreateComment(ctx context.Context, slug string, parent uint64, in PostInput) (uint64, error) {
	ctx, span := telemetry.StartSpan(ctx, "board.create_comment",
		trace.WithAttributes(attribute.String("board", slug), attribute.Int64("parent", int64(parent))))
	defer span.End()

	if err := validate(in); err != nil {
		return 0, err
	}
	if _, err := s.GetBoard(ctx, slug); err != nil {
		return 0, err
	}
	if _, err := s.findParent(ctx, slug, parent); err != nil {
		return 0, err
	}

	return s.create(ctx, slug, &parent, in)
}

func (s *Service) create(ctx context.Context, slug string, parent *uint64, in PostInput) (uint64, error) {
	refs, err := s.images.Ingest(ctx, in.Images)
	if err != nil {
		return 0, err
	}

	id, err := s.write(ctx, slug, parent, in, refs)
	if err != nil {
		for _, ref := range refs {
			if rmErr := s.images.Remove(ref); rmErr != nil {
				s.logger.Warn("Failed to remove image of failed post", zap.String("image", ref), zap.Error(rmErr))
			}
		}
		return 0, err
	}
	return id, nil
}

func (s *Service) write(ctx context.Context, slug string, parent *uint64, in PostInput, refs []string) (uint64, error) {
	n, err := s.store.Increment(ctx, store.CounterPosts, 1)
	if err != nil {
		return 0, err
	}
	id := uint64(n)

	nickname := in.Nickname
	if strings.TrimSpace(nickname) == "" {
		nickname = models.AnonymousNickname
	}

	payload := models.ThreadPayload{
		ID:        id,
		Nickname:  nickname,
		Title:     in.Title,
		Content:   in.Content,
		Timestamp: uint64(s.now().Unix()),
		Board:     slug,
	}
	payload.SetImages(refs)

	thread := models.NewParent(payload)
	if parent != nil {
		thread = models.NewComment(*parent, payload)
	}

	data, err := json.Marshal(thread)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrEncoding, err)
	}

	key := thread.Ident()
	if err := s.store.Put(ctx, store.TableThreads, key, data); err != nil {
		return 0, err
	}
	if err := s.store.Put(ctx, store.TableThreadIDs, models.ThreadIndexKey(slug, id), []byte(key)); err != nil {
		// the post is readable through the scan fallback
		s.logger.Warn("Failed to index post", zap.String("key", key), zap.Error(err))
	}

	telemetry.RecordPost(ctx, string(thread.Kind()))
	s.logger.Info("Post created",
		zap.String("board", slug),
		zap.Uint64("id", id),
		zap.String("kind", string(thread.Kind())),
		zap.Int("images", len(refs)))

	return id, nil
}

// findParent resolves id through the id index, falling back to a scan of the
// board for posts written without an index entry
func (s *Service) findParent(ctx context.Context, slug string, id uint64) (models.Thread, error) {
	t, err := s.findIndexed(ctx, slug, id)
	if errors.Is(err, store.ErrNotFound) {
		t, err = s.findScanned(ctx, slug, id)
	}
	if err != nil {
		return models.Thread{}, err
	}
	if t.IsComment() {
		return models.Thread{}, store.ErrNotFound
	}
	return t, nil
}

func (s *Service) findIndexed(ctx context.Context, slug string, id uint64) (models.Thread, error) {
	key, err := s.store.Get(ctx, store.TableThreadIDs, models.ThreadIndexKey(slug, id))
	if err != nil {
		return models.Thread{}, err
	}
	data, err := s.store.Get(ctx, store.TableThreads, string(key))
	if err != nil {
		return models.Thread{}, err
	}
	return models.DecodeThread(data)
}

func (s *Service) findScanned(ctx context.Context, slug string, id uint64) (models.Thread, error) {
	entries, err := s.store.Scan(ctx, store.TableThreads, models.ThreadIDPattern(slug, id))
	if err != nil {
		return models.Thread{}, err
	}

	// the pattern also matches comments replying to id
	for _, e := range entries {
		parsed, err := models.ParseThreadKey(slug, e.Key)
		if err != nil || parsed.ID != id {
			continue
		}
		t, err := models.DecodeThread(e.Value)
		if err != nil {
			return models.Thread{}, err
		}
		// keys of board "a:1" also parse as keys of board "a"
		if t.Board != slug {
			continue
		}
		return t, nil
	}
	return models.Thread{}, store.ErrNotFound
}

// scanThreads returns every post of a board. The pattern of board "a" also
// matches keys of board "a:b", those are dropped by their payload.
func (s *Service) scanThreads(ctx context.Context, slug string) ([]models.Thread, error) {
	entries, err := s.store.Scan(ctx, store.TableThreads, models.ThreadPattern(slug))
	if err != nil {
		return nil, err
	}

	threads := make([]models.Thread, 0, len(entries))
	for _, e := range entries {
		t, err := models.DecodeThread(e.Value)
		if err != nil {
			return nil, err
		}
		if t.Board != slug {
			continue
		}
		threads = append(threads, t)
	}
	return threads, nil
}

func validate(in PostInput) error {
	switch {
	case len(in.Nickname) > MaxNicknameLen:
		return fmt.Errorf("%w: nickname longer than %d bytes", ErrInvalidInput, MaxNicknameLen)
	case len(in.Title) > MaxTitleLen:
		return fmt.Errorf("%w: title longer than %d bytes", ErrInvalidInput, MaxTitleLen)
	case len(in.Content) > MaxContentLen:
		return fmt.Errorf("%w: content longer than %d bytes", ErrInvalidInput, MaxContentLen)
	case len(in.Images) > images.MaxImages:
		return fmt.Errorf("%w: at most %d images", ErrInvalidInput, images.MaxImages)
	}
	return nil
}
