package matching

import (
	"context"
	"log/slog"

	"github.com/harinnig/heymateBackend/internal/directory"
	"github.com/harinnig/heymateBackend/internal/model"
	"github.com/harinnig/heymateBackend/internal/notify"
	"github.com/harinnig/heymateBackend/internal/store"
)

// DefaultBatchSize caps how many providers one dispatch round notifies.
const DefaultBatchSize = 10

// Engine selects candidate providers for a request and notifies them.
// It runs on creation and again after every provider rejection, so the
// candidate pool shrinks monotonically while the request stays pending.
// Engine failures are never fatal to the operation that triggered them.
type Engine struct {
	dir       directory.Directory
	requests  store.RequestStore
	fanout    *notify.Fanout
	batchSize int
}

func New(dir directory.Directory, requests store.RequestStore, fanout *notify.Fanout, batchSize int) *Engine {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Engine{
		dir:       dir,
		requests:  requests,
		fanout:    fanout,
		batchSize: batchSize,
	}
}

// Dispatch queries the directory for available providers of the
// request's category within its radius, excluding everyone in
// rejectedBy, and notifies the closest batch. On directory failure or
// an empty result it degrades to an unfiltered query (radius ignored)
// rather than failing. Returns the candidates notified this round.
func (e *Engine) Dispatch(ctx context.Context, req *model.Request) []model.Candidate {
	candidates, err := e.dir.Query(ctx, req.Category, req.Location, req.RadiusMeters, req.RejectedBy)
	if err != nil {
		slog.WarnContext(ctx, "directory query failed, falling back to unfiltered",
			"request_id", req.ID, "error", err)
		candidates = nil
	}
	if len(candidates) == 0 {
		candidates, err = e.dir.Query(ctx, req.Category, req.Location, 0, req.RejectedBy)
		if err != nil {
			slog.WarnContext(ctx, "fallback directory query failed",
				"request_id", req.ID, "error", err)
			return nil
		}
	}

	if len(candidates) > e.batchSize {
		candidates = candidates[:e.batchSize]
	}
	if len(candidates) == 0 {
		slog.InfoContext(ctx, "no providers to notify", "request_id", req.ID)
		return nil
	}

	channels := make([]string, 0, len(candidates))
	notified := make([]string, 0, len(candidates))
	for _, c := range candidates {
		channels = append(channels, notify.ProviderChannel(c.ProviderID))
		notified = append(notified, c.ProviderID)
	}

	e.fanout.Emit(ctx, channels, notify.EventNewRequest, map[string]any{
		"request_id":  req.ID,
		"title":       req.Title,
		"category":    req.Category,
		"description": req.Description,
		"budget":      req.Budget,
		"address":     req.Location.Address,
	})

	if err := e.requests.AddNotified(ctx, req.ID, notified); err != nil {
		slog.WarnContext(ctx, "failed to record notified providers",
			"request_id", req.ID, "error", err)
	}

	slog.InfoContext(ctx, "providers_notified",
		"request_id", req.ID,
		"category", req.Category,
		"count", len(candidates),
	)
	return candidates
}
