package mockshop

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func do(t *testing.T, srv *httptest.Server, method, path, token, body string) (int, gjson.Result) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, json.Valid(data), "body is JSON: %s", data)
	return resp.StatusCode, gjson.ParseBytes(data)
}

func newServer(t *testing.T, opts Options) (*Shop, *httptest.Server) {
	t.Helper()
	shop := New(opts)
	srv := httptest.NewServer(shop)
	t.Cleanup(srv.Close)
	return shop, srv
}

func TestShop_LoginAndMe(t *testing.T) {
	shop, srv := newServer(t, DefaultOptions())

	status, body := do(t, srv, http.MethodPost, "/users/login", "",
		`{"email":"customer@practicesoftwaretesting.com","password":"welcome01"}`)
	require.Equal(t, http.StatusOK, status)
	token := body.Get("access_token").String()
	require.NotEmpty(t, token)
	assert.Equal(t, int64(300), body.Get("expires_in").Int())

	status, body = do(t, srv, http.MethodGet, "/users/me", token, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "customer@practicesoftwaretesting.com", body.Get("email").String())

	status, _ = do(t, srv, http.MethodGet, "/users/me", "not-a-token", "")
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = do(t, srv, http.MethodGet, "/users/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, status)

	assert.Equal(t, int64(1), shop.Count(RouteLogin))
	assert.Equal(t, int64(3), shop.Count(RouteMe))
}

func TestShop_LoginFailures(t *testing.T) {
	shop, srv := newServer(t, DefaultOptions())

	status, _ := do(t, srv, http.MethodPost, "/users/login", "", `{"email":"x","password":"y"}`)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = do(t, srv, http.MethodPost, "/users/login", "", `not json`)
	assert.Equal(t, http.StatusBadRequest, status)

	shop.SetLoginStatus(http.StatusServiceUnavailable)
	status, _ = do(t, srv, http.MethodPost, "/users/login", "",
		`{"email":"customer@practicesoftwaretesting.com","password":"welcome01"}`)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestShop_NoTTL(t *testing.T) {
	opts := DefaultOptions()
	opts.TokenTTL = 0
	_, srv := newServer(t, opts)

	_, body := do(t, srv, http.MethodPost, "/users/login", "",
		`{"email":"customer@practicesoftwaretesting.com","password":"welcome01"}`)
	assert.False(t, body.Get("expires_in").Exists())
}

func TestShop_CatalogEnvelopes(t *testing.T) {
	tests := []struct {
		envelope string
		path     string
	}{
		{"", "data"},
		{"none", "@this"},
		{"nested", "data.data"},
	}

	for _, tt := range tests {
		t.Run("envelope="+tt.envelope, func(t *testing.T) {
			opts := DefaultOptions()
			opts.Envelope = tt.envelope
			opts.Products = 4
			_, srv := newServer(t, opts)

			status, body := do(t, srv, http.MethodGet, "/products", "", "")
			require.Equal(t, http.StatusOK, status)
			items := body.Get(tt.path).Array()
			require.Len(t, items, 4)
			assert.Equal(t, ProductID(1), items[0].Get("id").String())
		})
	}
}

func TestShop_ProductRoutes(t *testing.T) {
	shop, srv := newServer(t, DefaultOptions())

	status, body := do(t, srv, http.MethodGet, "/products/"+ProductID(2), "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Product 2", body.Get("name").String())

	status, body = do(t, srv, http.MethodGet, "/products/"+ProductID(2)+"/related", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, body.Array(), 3)
	for _, item := range body.Array() {
		assert.NotEqual(t, ProductID(2), item.Get("id").String())
	}

	status, _ = do(t, srv, http.MethodGet, "/products/product-99", "", "")
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = do(t, srv, http.MethodGet, "/products/bogus/related", "", "")
	assert.Equal(t, http.StatusNotFound, status)

	shop.SetProducts(0)
	_, body = do(t, srv, http.MethodGet, "/products", "", "")
	assert.Empty(t, body.Get("data").Array())

	status, body = do(t, srv, http.MethodGet, "/brands", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, body.Array(), 3)
	status, _ = do(t, srv, http.MethodGet, "/categories", "", "")
	assert.Equal(t, http.StatusOK, status)

	counts := shop.Counts()
	assert.Equal(t, int64(2), counts[RouteProduct])
	assert.Equal(t, int64(2), counts[RouteRelated])
	assert.Equal(t, int64(1), counts[RouteBrands])
	assert.Equal(t, int64(1), counts[RouteCategory])
}
