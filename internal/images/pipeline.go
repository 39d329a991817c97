package images

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cornchan/cornchan/pkg/config"
	"github.com/cornchan/cornchan/pkg/logging"
	"github.com/cornchan/cornchan/pkg/telemetry"
)

const (
	// MaxImages is the number of image slots on a post
	MaxImages = 3
	// DefaultMaxPixels bounds width*height when the configuration leaves it unset
	DefaultMaxPixels = 40_000_000

	sniffLen = 512
)

// Upload is one image slot of a post. A nil Reader means the slot is empty.
type Upload struct {
	Reader io.ReadSeeker
	Size   int64
}

// Pipeline validates uploads, transcodes them to WebP and stores them under a
// random identifier.
type Pipeline struct {
	dir              string
	thumbDir         string
	minSize          int64
	qualityThreshold int64
	lossyQuality     int
	thumbWidth       int
	maxPixels        int64

	newID  func() (string, error)
	encode func(io.Writer, image.Image, *webp.Options) error
	logger *zap.Logger
}

// New creates the blob directories and returns a pipeline
func New(cfg *config.ImagesConfig) (*Pipeline, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image dir: %w", err)
	}
	if cfg.ThumbWidth > 0 {
		if err := os.MkdirAll(cfg.ThumbDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create thumbnail dir: %w", err)
		}
	}

	maxPixels := cfg.MaxPixels
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	return &Pipeline{
		dir:              cfg.Dir,
		thumbDir:         cfg.ThumbDir,
		minSize:          cfg.MinSize,
		qualityThreshold: cfg.QualityThreshold,
		lossyQuality:     cfg.LossyQuality,
		thumbWidth:       cfg.ThumbWidth,
		maxPixels:        maxPixels,
		newID:            func() (string, error) { return gonanoid.New() },
		encode:           webp.Encode,
		logger:           logging.WithComponent("images"),
	}, nil
}

// Options returns the encoder settings for an upload of size bytes. Large
// uploads get the fixed lossy quality, the rest use the encoder default (nil).
func (p *Pipeline) Options(size int64) *webp.Options {
	if size >= p.qualityThreshold {
		return &webp.Options{Quality: float32(p.lossyQuality)}
	}
	return nil
}

// Ingest stores every non-empty upload and returns their identifiers in slot
// order. Slots that are missing or smaller than the minimum size are skipped.
// If any upload fails, the images already written for this call are removed.
func (p *Pipeline) Ingest(ctx context.Context, uploads []Upload) ([]string, error) {
	ctx, span := telemetry.StartSpan(ctx, "images.ingest")
	defer span.End()

	if len(uploads) > MaxImages {
		uploads = uploads[:MaxImages]
	}

	ids := make([]string, len(uploads))
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range uploads {
		if u.Reader == nil || u.Size < p.minSize {
			continue
		}
		g.Go(func() error {
			id, err := p.store(gctx, u)
			if err != nil {
				return fmt.Errorf("image %d: %w", i+1, err)
			}
			ids[i] = id
			return nil
		})
	}

	err := g.Wait()

	var stored []string
	for _, id := range ids {
		if id != "" {
			stored = append(stored, id)
		}
	}

	if err != nil {
		for _, id := range stored {
			if rmErr := p.Remove(id); rmErr != nil {
				p.logger.Warn("failed to remove partial upload", zap.String("id", id), zap.Error(rmErr))
			}
		}
		span.RecordError(err)
		return nil, err
	}

	telemetry.RecordImages(ctx, len(stored))
	return stored, nil
}

func (p *Pipeline) store(ctx context.Context, u Upload) (string, error) {
	n := int64(sniffLen)
	if u.Size < n {
		n = u.Size
	}
	prefix := make([]byte, n)
	if _, err := io.ReadFull(u.Reader, prefix); err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}

	format, err := Sniff(prefix)
	if err != nil {
		return "", err
	}

	// decoders allocate the whole pixel buffer from the header, so check it first
	if _, err := u.Reader.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind image: %w", err)
	}
	cfg, err := format.DecodeConfig(u.Reader)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrDecode, format.Name, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > p.maxPixels {
		return "", fmt.Errorf("%w: %s: %dx%d exceeds %d pixels", ErrDecode, format.Name, cfg.Width, cfg.Height, p.maxPixels)
	}

	if _, err := u.Reader.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind image: %w", err)
	}
	img, err := format.Decode(u.Reader)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrDecode, format.Name, err)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	id, err := p.newID()
	if err != nil {
		return "", fmt.Errorf("generate image id: %w", err)
	}

	opts := p.Options(u.Size)
	if err := p.write(filepath.Join(p.dir, id), img, opts); err != nil {
		return "", err
	}

	if p.thumbWidth > 0 {
		thumb := img
		if img.Bounds().Dx() > p.thumbWidth {
			thumb = imaging.Resize(img, p.thumbWidth, 0, imaging.Lanczos)
		}
		if err := p.write(filepath.Join(p.thumbDir, id), thumb, nil); err != nil {
			// only the full image is ours, an existing thumbnail is left alone
			if rmErr := os.Remove(filepath.Join(p.dir, id)); rmErr != nil {
				p.logger.Warn("failed to remove image after thumbnail error", zap.String("id", id), zap.Error(rmErr))
			}
			return "", err
		}
	}

	p.logger.Debug("image stored",
		zap.String("id", id),
		zap.String("format", format.Name),
		zap.Int64("size", u.Size),
		zap.Bool("lossy", opts != nil))

	return id, nil
}

// write encodes img into a new file; an existing file is never overwritten
func (p *Pipeline) write(path string, img image.Image, opts *webp.Options) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create image file: %w", err)
	}

	w := bufio.NewWriter(f)
	if err := p.encode(w, img, opts); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to save file: %w", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to save file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to save file: %w", err)
	}
	return nil
}

// Remove deletes the image and its thumbnail. Missing files are ignored.
func (p *Pipeline) Remove(id string) error {
	paths := []string{filepath.Join(p.dir, id)}
	if p.thumbWidth > 0 {
		paths = append(paths, filepath.Join(p.thumbDir, id))
	}
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}
