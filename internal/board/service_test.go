package board

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cornchan/cornchan/internal/images"
	"github.com/cornchan/cornchan/internal/models"
	"github.com/cornchan/cornchan/internal/store"
	"github.com/cornchan/cornchan/pkg/config"
)

type fakeImages struct {
	mu      sync.Mutex
	refs    []string
	err     error
	onStore func()
	removed []string
}

func (f *fakeImages) Ingest(_ context.Context, uploads []images.Upload) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.onStore != nil {
		f.onStore()
	}
	return f.refs, nil
}

func (f *fakeImages) Remove(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(unix int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = time.Unix(unix, 0)
}

type fixture struct {
	svc    *Service
	store  store.Store
	mr     *miniredis.Miniredis
	clock  *clock
	images *fakeImages
}

func newFixture(t *testing.T) *fixture {
	mr := miniredis.RunT(t)
	s := store.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { s.Close() })

	img := &fakeImages{}
	svc := NewService(s, img)
	c := &clock{now: time.Unix(1700000000, 0)}
	svc.now = c.Now

	return &fixture{svc: svc, store: s, mr: mr, clock: c, images: img}
}

func (f *fixture) seed(t *testing.T, name, slug string) {
	t.Helper()
	_, err := f.svc.SeedBoard(context.Background(), name, slug, "")
	require.NoError(t, err)
}

func TestCreateAndListScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "Random", "r")

	f.clock.Set(1700000000)
	id, err := f.svc.CreateThread(ctx, "r", PostInput{Nickname: "", Title: "t", Content: "c"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	raw, err := f.store.Get(ctx, store.TableThreads, "thread:r:1700000000:1")
	require.NoError(t, err)
	parent, err := models.DecodeThread(raw)
	require.NoError(t, err)
	assert.Equal(t, models.AnonymousNickname, parent.Nickname)
	assert.False(t, parent.IsComment())
	assert.Empty(t, parent.Images())

	f.clock.Set(1700000100)
	cid, err := f.svc.CreateComment(ctx, "r", 1, PostInput{Nickname: "bob", Title: "re", Content: "reply"})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), cid)

	raw, err = f.store.Get(ctx, store.TableThreads, "thread:r:1700000100:2:1")
	require.NoError(t, err)
	comment, err := models.DecodeThread(raw)
	require.NoError(t, err)
	require.True(t, comment.IsComment())
	assert.Equal(t, uint64(1), *comment.ParentThread)
	assert.Equal(t, "bob", comment.Nickname)

	threads, err := f.svc.ListThreads(ctx, "r")
	require.NoError(t, err)
	require.Len(t, threads, 2)
	assert.Equal(t, uint64(2), threads[0].ID, "newest first")
	assert.Equal(t, uint64(1), threads[1].ID)
}

func TestListThreadsOrdering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "Random", "r")

	// 9 sorts after 10 as a string, the listing must compare numerically
	for _, ts := range []int64{9, 10, 10, 100} {
		f.clock.Set(ts)
		_, err := f.svc.CreateThread(ctx, "r", PostInput{Title: "t"})
		require.NoError(t, err)
	}

	threads, err := f.svc.ListThreads(ctx, "r")
	require.NoError(t, err)

	var got []string
	for _, th := range threads {
		got = append(got, strconv.FormatUint(th.Timestamp, 10)+"/"+strconv.FormatUint(th.ID, 10))
	}
	assert.Equal(t, []string{"100/4", "10/3", "10/2", "9/1"}, got)
}

func TestListThreadsSeparatesBoards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "Random", "r")
	f.seed(t, "Random Extra", "r:x")

	_, err := f.svc.CreateThread(ctx, "r", PostInput{Title: "in r"})
	require.NoError(t, err)
	_, err = f.svc.CreateThread(ctx, "r:x", PostInput{Title: "in r:x"})
	require.NoError(t, err)

	threads, err := f.svc.ListThreads(ctx, "r")
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "in r", threads[0].Title)
}

func TestUnknownBoard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetBoard(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.svc.ListThreads(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.svc.CreateThread(ctx, "nope", PostInput{Title: "t"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetThread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "Random", "r")

	f.clock.Set(100)
	parent, err := f.svc.CreateThread(ctx, "r", PostInput{Title: "op"})
	require.NoError(t, err)
	other, err := f.svc.CreateThread(ctx, "r", PostInput{Title: "other"})
	require.NoError(t, err)

	f.clock.Set(300)
	late, err := f.svc.CreateComment(ctx, "r", parent, PostInput{Content: "late"})
	require.NoError(t, err)
	f.clock.Set(200)
	early, err := f.svc.CreateComment(ctx, "r", parent, PostInput{Content: "early"})
	require.NoError(t, err)
	_, err = f.svc.CreateComment(ctx, "r", other, PostInput{Content: "elsewhere"})
	require.NoError(t, err)

	view, err := f.svc.GetThread(ctx, "r", parent)
	require.NoError(t, err)
	assert.Equal(t, "op", view.Thread.Title)
	require.Len(t, view.Comments, 2)
	assert.Equal(t, early, view.Comments[0].ID)
	assert.Equal(t, late, view.Comments[1].ID)

	_, err = f.svc.GetThread(ctx, "r", early)
	assert.ErrorIs(t, err, store.ErrNotFound, "comment ids do not open a thread")

	_, err = f.svc.GetThread(ctx, "r", 999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetThreadWithoutIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "Random", "r")

	// a comment whose key also ends in :7 comes first in no particular order
	comment := models.NewComment(7, models.ThreadPayload{ID: 8, Nickname: "a", Timestamp: 50, Board: "r"})
	parent := models.NewParent(models.ThreadPayload{ID: 7, Nickname: "a", Title: "legacy", Timestamp: 40, Board: "r"})
	for _, th := range []models.Thread{comment, parent} {
		data, err := th.MarshalJSON()
		require.NoError(t, err)
		require.NoError(t, f.store.Put(ctx, store.TableThreads, th.Ident(), data))
	}

	view, err := f.svc.GetThread(ctx, "r", 7)
	require.NoError(t, err)
	assert.Equal(t, "legacy", view.Thread.Title)
	require.Len(t, view.Comments, 1)
	assert.Equal(t, uint64(8), view.Comments[0].ID)
}

func TestGetThreadWithoutIndexIgnoresOtherBoard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "A", "a")
	f.seed(t, "A One", "a:1")

	// "thread:a:1:7:7" parses for board "a" as a post with id 7
	foreign := models.NewParent(models.ThreadPayload{ID: 7, Nickname: "x", Title: "other board", Timestamp: 7, Board: "a:1"})
	data, err := foreign.MarshalJSON()
	require.NoError(t, err)
	require.NoError(t, f.store.Put(ctx, store.TableThreads, foreign.Ident(), data))

	_, err = f.svc.GetThread(ctx, "a", 7)
	assert.ErrorIs(t, err, store.ErrNotFound)

	view, err := f.svc.GetThread(ctx, "a:1", 7)
	require.NoError(t, err)
	assert.Equal(t, "other board", view.Thread.Title)
}

func TestNicknameStoredAsSent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "Random", "r")

	tests := []struct {
		name     string
		nickname string
		want     string
	}{
		{"empty", "", models.AnonymousNickname},
		{"whitespace only", " \t ", models.AnonymousNickname},
		{"padded", " bob ", " bob "},
		{"plain", "alice", "alice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := f.svc.CreateThread(ctx, "r", PostInput{Nickname: tt.nickname, Title: "t"})
			require.NoError(t, err)
			view, err := f.svc.GetThread(ctx, "r", id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, view.Thread.Nickname)
		})
	}
}

func TestCreateCommentMissingParent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "Random", "r")

	_, err := f.svc.CreateComment(ctx, "r", 42, PostInput{Content: "hello?"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	n, err := f.store.Increment(ctx, store.CounterPosts, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "no id is allocated for rejected posts")
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "Random", "r")

	tests := []struct {
		name string
		in   PostInput
	}{
		{"long title", PostInput{Title: strings.Repeat("t", MaxTitleLen+1)}},
		{"long content", PostInput{Content: strings.Repeat("c", MaxContentLen+1)}},
		{"long nickname", PostInput{Nickname: strings.Repeat("n", MaxNicknameLen+1)}},
		{"too many images", PostInput{Images: make([]images.Upload, images.MaxImages+1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateThread(ctx, "r", tt.in)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestCreateImageFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "Random", "r")
	f.images.err = images.ErrInvalidFormat

	_, err := f.svc.CreateThread(ctx, "r", PostInput{Title: "t"})
	assert.ErrorIs(t, err, images.ErrInvalidFormat)

	threads, err := f.svc.ListThreads(ctx, "r")
	require.NoError(t, err)
	assert.Empty(t, threads)
}

func TestCreateStoreFailureRemovesImages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "Random", "r")
	f.images.refs = []string{"img-a", "img-b"}
	f.images.onStore = func() { f.mr.Close() }

	_, err := f.svc.CreateThread(ctx, "r", PostInput{Title: "t"})
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.ElementsMatch(t, []string{"img-a", "img-b"}, f.images.removed)
}

func TestCreateConcurrentIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "Random", "r")

	const n = 25
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[uint64]struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := f.svc.CreateThread(ctx, "r", PostInput{Title: "t"})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ids[id] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, ids, n)
	for i := uint64(1); i <= n; i++ {
		assert.Contains(t, ids, i)
	}

	threads, err := f.svc.ListThreads(ctx, "r")
	require.NoError(t, err)
	assert.Len(t, threads, n)
}

func TestListBoards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "Technology", "")
	f.seed(t, "Random", "b")
	f.seed(t, "Anime", "a")

	boards, err := f.svc.ListBoards(ctx)
	require.NoError(t, err)
	require.Len(t, boards, 3)
	assert.Equal(t, []string{"Technology", "a", "b"}, []string{boards[0].Slug, boards[1].Slug, boards[2].Slug})
}

func TestSeedBoard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.svc.SeedBoard(ctx, "  Video Games ", "", "games")
	require.NoError(t, err)
	assert.Equal(t, "Video_Games", b.Slug)
	assert.Equal(t, "board:Video_Games", b.Ident())

	got, err := f.svc.GetBoard(ctx, "Video_Games")
	require.NoError(t, err)
	assert.Equal(t, b, got)

	_, err = f.svc.SeedBoard(ctx, "  ", "", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreateThreadWithImages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "Random", "r")

	dir := t.TempDir()
	pipeline, err := images.New(&config.ImagesConfig{
		Dir:              filepath.Join(dir, "images"),
		MinSize:          64,
		QualityThreshold: 500 << 10,
		LossyQuality:     50,
	})
	require.NoError(t, err)
	f.svc.images = pipeline

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 7)
	}
	img.Set(0, 0, color.RGBA{255, 0, 0, 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	data := buf.Bytes()

	id, err := f.svc.CreateThread(ctx, "r", PostInput{
		Title: "with images",
		Images: []images.Upload{
			{Reader: bytes.NewReader(data), Size: int64(len(data))},
			{},
			{Reader: bytes.NewReader(make([]byte, 10)), Size: 10},
		},
	})
	require.NoError(t, err)

	view, err := f.svc.GetThread(ctx, "r", id)
	require.NoError(t, err)
	refs := view.Thread.Images()
	require.Len(t, refs, 1)
	assert.Len(t, refs[0], 21)
	assert.NotEmpty(t, view.Thread.Image1)
	assert.Empty(t, view.Thread.Image2)
}
