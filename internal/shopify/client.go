// Package shopify reads translatable content from the Shopify Admin GraphQL
// API and mirrors it into the local catalog.
package shopify

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// PageSize is the connection page size and the resource-id chunk size.
const PageSize = 250

// Locale is a language enabled on the shop.
type Locale struct {
	Locale    string `json:"locale"`
	Name      string `json:"name"`
	Published bool   `json:"published"`
	Primary   bool   `json:"primary"`
}

// Content is one translatable field in the shop's primary locale.
type Content struct {
	Key    string `json:"key"`
	Value  string `json:"value"`
	Digest string `json:"digest"`
	Locale string `json:"locale"`
}

// Translation is the stored translation of one field.
type Translation struct {
	Key       string    `json:"key"`
	Locale    string    `json:"locale"`
	Value     string    `json:"value"`
	Outdated  bool      `json:"outdated"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Resource is a translatable resource with its content and, when requested
// for a locale, its translations.
type Resource struct {
	ResourceID          string        `json:"resourceId"`
	TranslatableContent []Content     `json:"translatableContent"`
	Translations        []Translation `json:"translations"`
}

// GraphQLError carries the errors array of a GraphQL reply.
type GraphQLError struct {
	Messages []string
}

func (e *GraphQLError) Error() string {
	return "shopify: graphql: " + strings.Join(e.Messages, "; ")
}

// Options configures a Client.
type Options struct {
	Shop        string // "my-shop.myshopify.com"
	AccessToken string
	APIVersion  string
	Endpoint    string        // overrides the URL derived from Shop and APIVersion
	PageDelay   time.Duration // pause between pages; negative disables it
	Timeout     time.Duration
}

// Client queries the Admin GraphQL API.
type Client struct {
	endpoint  string
	http      *resty.Client
	pageDelay time.Duration

	mu      sync.Mutex
	locales []Locale
}

// New creates a Client.
func New(opts Options) *Client {
	endpoint := opts.Endpoint
	if endpoint == "" {
		shop := strings.TrimSuffix(opts.Shop, "/")
		if !strings.HasPrefix(shop, "http://") && !strings.HasPrefix(shop, "https://") {
			shop = "https://" + shop
		}
		endpoint = fmt.Sprintf("%s/admin/api/%s/graphql.json", shop, opts.APIVersion)
	}
	if opts.PageDelay == 0 {
		opts.PageDelay = time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	h := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(2*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Shopify-Access-Token", opts.AccessToken)
	return &Client{endpoint: endpoint, http: h, pageDelay: max(opts.PageDelay, 0)}
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlResponse[T any] struct {
	Data   T `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
	Extensions struct {
		Cost struct {
			RequestedQueryCost int `json:"requestedQueryCost"`
			ThrottleStatus     struct {
				CurrentlyAvailable float64 `json:"currentlyAvailable"`
			} `json:"throttleStatus"`
		} `json:"cost"`
	} `json:"extensions"`
}

func do[T any](ctx context.Context, c *Client, query string, vars map[string]any) (T, error) {
	var out gqlResponse[T]
	r, err := c.http.R().
		SetContext(ctx).
		SetBody(gqlRequest{Query: query, Variables: vars}).
		SetResult(&out).
		Post(c.endpoint)
	if err != nil {
		return out.Data, fmt.Errorf("shopify.query: %w", err)
	}
	if r.IsError() {
		return out.Data, fmt.Errorf("shopify.query: status %d: %s", r.StatusCode(), strings.TrimSpace(string(r.Body())))
	}
	if len(out.Errors) > 0 {
		gerr := &GraphQLError{}
		for _, e := range out.Errors {
			gerr.Messages = append(gerr.Messages, e.Message)
		}
		return out.Data, gerr
	}
	return out.Data, nil
}

const shopLocalesQuery = `query { shopLocales { locale name published primary } }`

// ShopLocales returns the shop's locales. The first successful answer is
// cached; refresh forces a new query.
func (c *Client) ShopLocales(ctx context.Context, refresh bool) ([]Locale, error) {
	c.mu.Lock()
	cached := c.locales
	c.mu.Unlock()
	if len(cached) > 0 && !refresh {
		return cached, nil
	}

	data, err := do[struct {
		ShopLocales []Locale `json:"shopLocales"`
	}](ctx, c, shopLocalesQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("shopify.ShopLocales: %w", err)
	}
	c.mu.Lock()
	c.locales = data.ShopLocales
	c.mu.Unlock()
	log.Printf("shopify: %d shop locale(s) loaded", len(data.ShopLocales))
	return data.ShopLocales, nil
}

// PrimaryLocale returns the shop's default locale.
func (c *Client) PrimaryLocale(ctx context.Context) (string, error) {
	locales, err := c.ShopLocales(ctx, false)
	if err != nil {
		return "", err
	}
	for _, l := range locales {
		if l.Primary {
			return l.Locale, nil
		}
	}
	return "", fmt.Errorf("shopify.PrimaryLocale: shop has no primary locale")
}

const resourcesQuery = `query GetTranslatableResources($resourceType: TranslatableResourceType!, $first: Int!, $after: String) {
  translatableResources(resourceType: $resourceType, first: $first, after: $after) {
    edges { cursor node { resourceId translatableContent { key value digest locale } } }
    pageInfo { hasNextPage endCursor }
  }
}`

const resourcesByIDsQuery = `query GetTranslatableResourcesByIds($resourceIds: [ID!]!, $first: Int!, $after: String, $locale: String!) {
  translatableResourcesByIds(resourceIds: $resourceIds, first: $first, after: $after) {
    edges { cursor node {
      resourceId
      translatableContent { key value digest locale }
      translations(locale: $locale) { key locale value outdated updatedAt }
    } }
    pageInfo { hasNextPage endCursor }
  }
}`

type connection struct {
	Edges []struct {
		Cursor string   `json:"cursor"`
		Node   Resource `json:"node"`
	} `json:"edges"`
	PageInfo struct {
		HasNextPage bool   `json:"hasNextPage"`
		EndCursor   string `json:"endCursor"`
	} `json:"pageInfo"`
}

// TranslatableResources returns every resource of resourceType with its
// primary-locale content.
func (c *Client) TranslatableResources(ctx context.Context, resourceType string) ([]Resource, error) {
	out, err := c.fetchAll(ctx, resourceType, resourcesQuery, map[string]any{"resourceType": resourceType},
		func(d map[string]connection) connection { return d["translatableResources"] })
	if err != nil {
		return nil, fmt.Errorf("shopify.TranslatableResources: %w", err)
	}
	return out, nil
}

// TranslatableResourcesByIDs returns the resources in ids with their
// translations into locale. Ids are queried in chunks of PageSize.
func (c *Client) TranslatableResourcesByIDs(ctx context.Context, ids []string, locale string) ([]Resource, error) {
	var all []Resource
	for start := 0; start < len(ids); start += PageSize {
		chunk := ids[start:min(start+PageSize, len(ids))]
		label := fmt.Sprintf("%s chunk %d", locale, start/PageSize)
		out, err := c.fetchAll(ctx, label, resourcesByIDsQuery, map[string]any{"resourceIds": chunk, "locale": locale},
			func(d map[string]connection) connection { return d["translatableResourcesByIds"] })
		if err != nil {
			return nil, fmt.Errorf("shopify.TranslatableResourcesByIDs: %w", err)
		}
		all = append(all, out...)
	}
	return all, nil
}

// fetchAll follows the cursor of a connection until the last page, pausing
// between pages to stay inside the API's cost budget.
func (c *Client) fetchAll(ctx context.Context, label, query string, vars map[string]any,
	pick func(map[string]connection) connection) ([]Resource, error) {
	v := map[string]any{"first": PageSize}
	for k, val := range vars {
		v[k] = val
	}

	var out []Resource
	for page := 1; ; page++ {
		data, err := do[map[string]connection](ctx, c, query, v)
		if err != nil {
			return nil, err
		}
		conn := pick(data)
		if len(conn.Edges) == 0 {
			break
		}
		for _, e := range conn.Edges {
			out = append(out, e.Node)
		}
		log.Printf("shopify: [%s] page %d done, %d resource(s) so far", label, page, len(out))
		if !conn.PageInfo.HasNextPage || conn.PageInfo.EndCursor == "" {
			break
		}
		v["after"] = conn.PageInfo.EndCursor
		if err := sleep(ctx, c.pageDelay); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
