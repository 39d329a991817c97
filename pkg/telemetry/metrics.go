package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type instruments struct {
	postsCreated metric.Int64Counter
	imagesStored metric.Int64Counter
	banBlocked   metric.Int64Counter
}

var (
	instrumentsOnce sync.Once
	inst            instruments
)

// The global meter delegates to whatever provider Init installs later, so
// instruments can be created before Init runs.
func getInstruments() *instruments {
	instrumentsOnce.Do(func() {
		meter := otel.Meter("github.com/cornchan/cornchan")
		inst.postsCreated, _ = meter.Int64Counter("cornchan.posts.created",
			metric.WithDescription("Posts created, by kind"))
		inst.imagesStored, _ = meter.Int64Counter("cornchan.images.stored",
			metric.WithDescription("Images transcoded and written to the blob area"))
		inst.banBlocked, _ = meter.Int64Counter("cornchan.ban.blocked",
			metric.WithDescription("Post requests rejected by an active ban"))
	})
	return &inst
}

// RecordPost counts a created post of the given kind
func RecordPost(ctx context.Context, kind string) {
	if c := getInstruments().postsCreated; c != nil {
		c.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
}

// RecordImages counts n stored images
func RecordImages(ctx context.Context, n int) {
	if c := getInstruments().imagesStored; c != nil && n > 0 {
		c.Add(ctx, int64(n))
	}
}

// RecordBanBlocked counts a request refused by the ban gate
func RecordBanBlocked(ctx context.Context) {
	if c := getInstruments().banBlocked; c != nil {
		c.Add(ctx, 1)
	}
}
