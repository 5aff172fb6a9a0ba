package clients

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"

	"github.com/beam-cloud/mailsync/pkg/types"
)

// Page is one OData collection page
type Page[T any] struct {
	Value     []T    `json:"value"`
	NextLink  string `json:"@odata.nextLink,omitempty"`
	DeltaLink string `json:"@odata.deltaLink,omitempty"`
}

func (p *Page[T]) Validate() error {
	if p.Value == nil {
		return errors.New("collection response without value")
	}
	for i := range p.Value {
		if v, ok := any(p.Value[i]).(interface{ Validate() error }); ok {
			if err := v.Validate(); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
		}
	}
	return nil
}

// Pages walks a collection lazily, following nextLink until none is returned.
// Iteration stops at the first error; breaking out early fetches nothing further.
func Pages[T any](ctx context.Context, c *GraphClient, credentialId uint, req Request) iter.Seq2[*Page[T], error] {
	return func(yield func(*Page[T], error) bool) {
		next := req
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			page := &Page[T]{}
			if err := c.Do(ctx, credentialId, next, page); err != nil {
				yield(nil, err)
				return
			}
			if !yield(page, nil) {
				return
			}
			if page.NextLink == "" {
				return
			}
			next = Request{Method: req.Method, Path: page.NextLink, Headers: req.Headers}
		}
	}
}

// AllPages collects every item. The returned link is the final page's deltaLink,
// empty for non-delta collections.
func AllPages[T any](ctx context.Context, c *GraphClient, credentialId uint, req Request) ([]T, string, error) {
	var items []T
	var deltaLink string
	for page, err := range Pages[T](ctx, c, credentialId, req) {
		if err != nil {
			return nil, "", err
		}
		items = append(items, page.Value...)
		if page.DeltaLink != "" {
			deltaLink = page.DeltaLink
		}
	}
	return items, deltaLink, nil
}

type DeltaItem interface {
	ItemID() string
	IsRemoved() bool
}

type DeltaResult[T DeltaItem] struct {
	Items      []T
	DeletedIds []string
	DeltaLink  string
}

// DeltaQuery drains a delta round. Removed entries are reported by id only.
// A round that ends without a deltaLink is malformed.
func DeltaQuery[T DeltaItem](ctx context.Context, c *GraphClient, credentialId uint, req Request) (*DeltaResult[T], error) {
	items, deltaLink, err := AllPages[T](ctx, c, credentialId, req)
	if err != nil {
		return nil, err
	}
	if deltaLink == "" {
		return nil, &types.ProviderError{StatusCode: http.StatusOK, Code: "malformedResponse", Message: "delta round ended without a deltaLink"}
	}

	result := &DeltaResult[T]{DeltaLink: deltaLink}
	for _, item := range items {
		if item.IsRemoved() {
			result.DeletedIds = append(result.DeletedIds, item.ItemID())
			continue
		}
		result.Items = append(result.Items, item)
	}
	return result, nil
}
