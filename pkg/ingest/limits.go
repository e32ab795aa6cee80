package ingest

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/nicktill/chunkdebug/pkg/config"
	"github.com/nicktill/chunkdebug/pkg/event"
	"github.com/nicktill/chunkdebug/pkg/httpx"
	"github.com/nicktill/chunkdebug/pkg/storage"
)

var (
	// ErrInvalidLimit is returned for a non-positive or non-numeric limit
	ErrInvalidLimit = errors.New("limit must be a positive integer")

	// ErrTickRange is returned when min_tick is after max_tick
	ErrTickRange = errors.New("min_tick must not be after max_tick")

	// ErrPartialChunk is returned when only one of x and z is given
	ErrPartialChunk = errors.New("x and z must be given together")

	// ErrUnknownType is returned for an unrecognised event type filter
	ErrUnknownType = errors.New("unknown event type")
)

// ParseQuery builds a storage query from GET /v1/events parameters:
// session, dimension, x and z, min_tick, max_tick, type (comma separated) and limit.
// The limit defaults to QueryDefaultLimit and is capped at QueryMaxLimit.
func ParseQuery(r *http.Request) (storage.QueryRequest, error) {
	q := r.URL.Query()
	req := storage.QueryRequest{
		Session: q.Get("session"),
		Limit:   config.QueryDefaultLimit,
	}

	var err error
	if req.Dimension, err = httpx.QueryInt32(r, "dimension"); err != nil {
		return storage.QueryRequest{}, err
	}
	if req.MinTick, err = httpx.QueryInt32(r, "min_tick"); err != nil {
		return storage.QueryRequest{}, err
	}
	if req.MaxTick, err = httpx.QueryInt32(r, "max_tick"); err != nil {
		return storage.QueryRequest{}, err
	}
	if req.MinTick != nil && req.MaxTick != nil && *req.MinTick > *req.MaxTick {
		return storage.QueryRequest{}, fmt.Errorf("%w: %d > %d", ErrTickRange, *req.MinTick, *req.MaxTick)
	}

	x, err := httpx.QueryInt32(r, "x")
	if err != nil {
		return storage.QueryRequest{}, err
	}
	z, err := httpx.QueryInt32(r, "z")
	if err != nil {
		return storage.QueryRequest{}, err
	}
	if (x == nil) != (z == nil) {
		return storage.QueryRequest{}, ErrPartialChunk
	}
	if x != nil {
		dim := int32(0)
		if req.Dimension != nil {
			dim = *req.Dimension
		}
		req.Chunk = &event.Pos{Dimension: dim, X: *x, Z: *z}
		req.Dimension = &dim
	}

	if raw := q.Get("type"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			t, err := event.ParseType(strings.ToUpper(strings.TrimSpace(name)))
			if err != nil {
				return storage.QueryRequest{}, fmt.Errorf("%w: %q", ErrUnknownType, name)
			}
			req.Types = append(req.Types, t)
		}
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return storage.QueryRequest{}, fmt.Errorf("%w: %q", ErrInvalidLimit, raw)
		}
		req.Limit = min(n, config.QueryMaxLimit)
	}

	return req, nil
}
