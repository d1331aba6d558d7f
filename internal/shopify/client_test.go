package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gqlCall struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, call gqlCall)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "shpat_test", r.Header.Get("X-Shopify-Access-Token"))
		var call gqlCall
		require.NoError(t, json.NewDecoder(r.Body).Decode(&call))
		w.Header().Set("Content-Type", "application/json")
		handler(w, call)
	}))
	t.Cleanup(srv.Close)
	return New(Options{Endpoint: srv.URL, AccessToken: "shpat_test", PageDelay: -1})
}

func TestNew_DerivesEndpoint(t *testing.T) {
	c := New(Options{Shop: "demo.myshopify.com", APIVersion: "2025-01"})
	assert.Equal(t, "https://demo.myshopify.com/admin/api/2025-01/graphql.json", c.endpoint)
	assert.Equal(t, time.Second, c.pageDelay)
}

func TestShopLocales_Cached(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ gqlCall) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"data":{"shopLocales":[
			{"locale":"en","name":"English","published":true,"primary":true},
			{"locale":"fr","name":"French","published":true,"primary":false}]}}`))
	})
	ctx := context.Background()

	locales, err := c.ShopLocales(ctx, false)
	require.NoError(t, err)
	require.Len(t, locales, 2)
	assert.True(t, locales[0].Primary)

	_, err = c.ShopLocales(ctx, false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())

	_, err = c.ShopLocales(ctx, true)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())

	primary, err := c.PrimaryLocale(ctx)
	require.NoError(t, err)
	assert.Equal(t, "en", primary)
}

func TestTranslatableResources_FollowsCursor(t *testing.T) {
	var afters []any
	c := newTestClient(t, func(w http.ResponseWriter, call gqlCall) {
		assert.Equal(t, "PRODUCT", call.Variables["resourceType"])
		assert.EqualValues(t, PageSize, call.Variables["first"])
		afters = append(afters, call.Variables["after"])
		if call.Variables["after"] == nil {
			_, _ = w.Write([]byte(`{"data":{"translatableResources":{
				"edges":[{"cursor":"c1","node":{"resourceId":"gid://shopify/Product/1",
					"translatableContent":[{"key":"title","value":"Hat","digest":"d1","locale":"en"}]}}],
				"pageInfo":{"hasNextPage":true,"endCursor":"c1"}}}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{"translatableResources":{
			"edges":[{"cursor":"c2","node":{"resourceId":"gid://shopify/Product/2",
				"translatableContent":[{"key":"title","value":"Scarf","digest":"d2","locale":"en"}]}}],
			"pageInfo":{"hasNextPage":false,"endCursor":"c2"}}}}`))
	})

	res, err := c.TranslatableResources(context.Background(), "PRODUCT")
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "gid://shopify/Product/2", res[1].ResourceID)
	assert.Equal(t, "Scarf", res[1].TranslatableContent[0].Value)
	assert.Equal(t, []any{nil, "c1"}, afters)
}

func TestTranslatableResourcesByIDs_ChunksIDs(t *testing.T) {
	var sizes []int
	c := newTestClient(t, func(w http.ResponseWriter, call gqlCall) {
		ids := call.Variables["resourceIds"].([]any)
		sizes = append(sizes, len(ids))
		assert.Equal(t, "fr", call.Variables["locale"])
		_, _ = w.Write([]byte(`{"data":{"translatableResourcesByIds":{
			"edges":[{"cursor":"c","node":{"resourceId":"` + ids[0].(string) + `",
				"translatableContent":[{"key":"title","value":"Hat","digest":"d","locale":"en"}],
				"translations":[{"key":"title","locale":"fr","value":"Chapeau","outdated":true,"updatedAt":"2026-01-02T03:04:05Z"}]}}],
			"pageInfo":{"hasNextPage":false,"endCursor":"c"}}}}`))
	})

	ids := make([]string, 260)
	for i := range ids {
		ids[i] = "gid://shopify/Product/" + string(rune('a'+i%26))
	}
	res, err := c.TranslatableResourcesByIDs(context.Background(), ids, "fr")
	require.NoError(t, err)
	assert.Equal(t, []int{250, 10}, sizes)
	require.Len(t, res, 2)
	require.Len(t, res[0].Translations, 1)
	assert.True(t, res[0].Translations[0].Outdated)
	assert.Equal(t, 2026, res[0].Translations[0].UpdatedAt.Year())
}

func TestQuery_GraphQLErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ gqlCall) {
		_, _ = w.Write([]byte(`{"errors":[{"message":"Throttled"}]}`))
	})
	_, err := c.ShopLocales(context.Background(), false)
	var gerr *GraphQLError
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, []string{"Throttled"}, gerr.Messages)
}

func TestQuery_HTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ gqlCall) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":"Invalid API key or access token"}`))
	})
	_, err := c.TranslatableResources(context.Background(), "PAGE")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}
