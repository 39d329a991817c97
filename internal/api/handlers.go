package api

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cornchan/cornchan/internal/board"
	"github.com/cornchan/cornchan/internal/images"
)

// postForm is the multipart body of a new thread or comment
type postForm struct {
	Nickname string                `form:"nickname" binding:"max=64"`
	Title    string                `form:"title" binding:"max=200"`
	Content  string                `form:"content" binding:"max=8000"`
	Image1   *multipart.FileHeader `form:"image_1"`
	Image2   *multipart.FileHeader `form:"image_2"`
	Image3   *multipart.FileHeader `form:"image_3"`
}

// createdResponse is returned by the post creation endpoints
type createdResponse struct {
	ID uint64 `json:"id"`
}

func (r *Router) healthHandler(c *gin.Context) {
	if err := r.store.Health(c.Request.Context()); err != nil {
		requestLogger(c).Warn("Health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "UNAVAILABLE",
			"service": "cornchan",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "OK",
		"service": "cornchan",
	})
}

func (r *Router) listBoards(c *gin.Context) {
	boards, err := r.boards.ListBoards(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, boards)
}

func (r *Router) getBoard(c *gin.Context) {
	slug := c.Param("board")
	b, err := r.boards.GetBoard(c.Request.Context(), slug)
	if err != nil {
		abort(c, err)
		return
	}
	threads, err := r.boards.ListThreads(c.Request.Context(), slug)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"board":   b,
		"threads": threads,
	})
}

func (r *Router) getThread(c *gin.Context) {
	id, ok := threadID(c)
	if !ok {
		return
	}
	view, err := r.boards.GetThread(c.Request.Context(), c.Param("board"), id)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (r *Router) createThread(c *gin.Context) {
	in, cleanup, ok := bindPost(c)
	if !ok {
		return
	}
	defer cleanup()

	id, err := r.boards.CreateThread(c.Request.Context(), c.Param("board"), in)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, createdResponse{ID: id})
}

func (r *Router) createComment(c *gin.Context) {
	parent, ok := threadID(c)
	if !ok {
		return
	}
	in, cleanup, ok := bindPost(c)
	if !ok {
		return
	}
	defer cleanup()

	id, err := r.boards.CreateComment(c.Request.Context(), c.Param("board"), parent, in)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, createdResponse{ID: id})
}

func threadID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("thread_id"), 10, 64)
	if err != nil {
		abort(c, NewError(http.StatusBadRequest, "invalid thread id"))
		return 0, false
	}
	return id, true
}

// bindPost parses the form and opens the attached files. The returned func
// closes them.
func bindPost(c *gin.Context) (board.PostInput, func(), bool) {
	var form postForm
	if err := c.ShouldBind(&form); err != nil {
		abort(c, NewError(http.StatusBadRequest, fmt.Sprintf("invalid form: %v", err)))
		return board.PostInput{}, nil, false
	}

	var files []multipart.File
	cleanup := func() {
		for _, f := range files {
			f.Close()
		}
	}

	in := board.PostInput{
		Nickname: form.Nickname,
		Title:    form.Title,
		Content:  form.Content,
		Images:   make([]images.Upload, 0, images.MaxImages),
	}
	for _, fh := range []*multipart.FileHeader{form.Image1, form.Image2, form.Image3} {
		if fh == nil {
			in.Images = append(in.Images, images.Upload{})
			continue
		}
		f, err := fh.Open()
		if err != nil {
			cleanup()
			abort(c, NewError(http.StatusBadRequest, "unreadable upload"))
			return board.PostInput{}, nil, false
		}
		files = append(files, f)
		in.Images = append(in.Images, images.Upload{Reader: f, Size: fh.Size})
	}

	return in, cleanup, true
}
