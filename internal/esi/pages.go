package esi

import (
	"context"
	"evetrade/internal/components/telemetry"
	"fmt"
	"iter"
	"maps"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
)

// Paginate walks a paged endpoint from page 1. The walk ends at the page count
// in X-Pages, at an empty page, or at a 404. Any other failure is yielded as an
// error and ends the walk.
func Paginate[T any](c *Client, path string, query map[string]string) func(ctx context.Context) iter.Seq2[[]T, error] {
	return func(ctx context.Context) iter.Seq2[[]T, error] {
		return func(yield func([]T, error) bool) {
			totalPages := 0
			for page := 1; totalPages == 0 || page <= totalPages; page++ {
				params := maps.Clone(query)
				if params == nil {
					params = map[string]string{}
				}
				params["page"] = strconv.Itoa(page)

				res, err := c.do(ctx, path, params)
				if err != nil {
					yield(nil, err)
					return
				}
				if res.StatusCode() == http.StatusNotFound {
					c.tel.ReportDebug(
						"pagination ended",
						telemetry.KV{Key: "path", Value: path},
						telemetry.KV{Key: "page", Value: page},
					)
					return
				}
				if res.StatusCode() != http.StatusOK {
					yield(nil, &StatusError{Path: path, Status: res.StatusCode(), Body: res.String()})
					return
				}

				var items []T
				err = json.Unmarshal(res.Body(), &items)
				if err != nil {
					yield(nil, fmt.Errorf("esi %s: decode page %d: %w", path, page, err))
					return
				}
				if len(items) == 0 {
					return
				}
				if pages, err := strconv.Atoi(res.Header().Get("X-Pages")); err == nil && pages > 0 {
					totalPages = pages
				}

				if !yield(items, nil) {
					return
				}
			}
		}
	}
}

// Single fetches an endpoint that answers with one unpaged list, like a
// character's open orders, and yields it as the only page.
func Single[T any](c *Client, path string, query map[string]string) func(ctx context.Context) iter.Seq2[[]T, error] {
	return func(ctx context.Context) iter.Seq2[[]T, error] {
		return func(yield func([]T, error) bool) {
			items, err := Get[[]T](ctx, c, path, query)
			if err != nil {
				yield(nil, err)
				return
			}
			if len(items) == 0 {
				return
			}
			yield(items, nil)
		}
	}
}
