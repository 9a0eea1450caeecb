package load_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/storeload/internal/load"
	"github.com/wesleyorama2/storeload/internal/mockshop"
)

func TestWorkflow_FullIteration(t *testing.T) {
	shop, server := newShop(t, mockshop.DefaultOptions())
	rec := &recorder{}
	wf := newWorkflow(server.URL, rec, load.NewSelector(load.SelectRoundRobin, nil))
	tokens := load.NewTokenCache(wf.Target, demoCreds, 2)
	vu := load.NewVirtualUser(context.Background(), 2, wf, tokens)

	results := runIterations(t, vu, 1)

	assert.Equal(t, mockshop.ProductID(2), results[0].SelectedProductID)
	assert.True(t, results[0].AuthChecked)
	assert.False(t, results[0].Interrupted)

	var names []string
	for _, o := range rec.all() {
		names = append(names, o.Name)
		assert.True(t, o.Success, o.Name)
		assert.Equal(t, http.StatusOK, o.StatusCode, o.Name)
		assert.Equal(t, 2, o.VUID)
		assert.EqualValues(t, 1, o.Iteration)
		assert.Positive(t, o.BytesReceived)
	}
	assert.Equal(t, []string{
		load.CallProducts,
		load.CallBrands,
		load.CallCategories,
		load.CallProductDetail,
		load.CallProductsRelated,
		load.CallLogin,
		load.CallMe,
	}, names)

	assert.EqualValues(t, 1, shop.Count(mockshop.RouteProduct))
	assert.EqualValues(t, 1, shop.Count(mockshop.RouteRelated))
}

func TestWorkflow_TokenRefreshFollowsIteration(t *testing.T) {
	// A lifetime inside the safety margin forces a login every iteration.
	opts := mockshop.DefaultOptions()
	opts.TokenTTL = 2 * time.Second
	shop, server := newShop(t, opts)
	rec := &recorder{}
	wf := newWorkflow(server.URL, rec, load.NewSelector(load.SelectRoundRobin, nil))
	vu := load.NewVirtualUser(context.Background(), 5, wf, load.NewTokenCache(wf.Target, demoCreds, 5))

	runIterations(t, vu, 3)

	var loginIters []int64
	for _, o := range rec.all() {
		if o.Name == load.CallLogin {
			assert.Equal(t, 5, o.VUID)
			loginIters = append(loginIters, int64(o.Iteration))
		}
	}
	assert.Equal(t, []int64{1, 2, 3}, loginIters)
	assert.EqualValues(t, 3, shop.Count(mockshop.RouteLogin))
}

func TestWorkflow_DeterministicSelectionIsStable(t *testing.T) {
	_, server := newShop(t, mockshop.DefaultOptions())
	wf := newWorkflow(server.URL, nil, load.NewSelector(load.SelectRoundRobin, nil))
	wf.AuthEnabled = false

	for _, vuID := range []int{1, 4, 9, 10, 23} {
		vu := load.NewVirtualUser(context.Background(), vuID, wf, nil)
		want := mockshop.ProductID((vuID-1)%9 + 1)
		for _, r := range runIterations(t, vu, 3) {
			assert.Equal(t, want, r.SelectedProductID, "vu %d", vuID)
		}
	}
}

func TestWorkflow_EnvelopeShapes(t *testing.T) {
	for _, envelope := range []string{"none", "data", "nested"} {
		t.Run(envelope, func(t *testing.T) {
			opts := mockshop.DefaultOptions()
			opts.Envelope = envelope
			shop, server := newShop(t, opts)
			wf := newWorkflow(server.URL, nil, load.NewSelector(load.SelectRoundRobin, nil))
			wf.AuthEnabled = false

			r := runIterations(t, load.NewVirtualUser(context.Background(), 1, wf, nil), 1)[0]

			assert.Equal(t, mockshop.ProductID(1), r.SelectedProductID)
			assert.EqualValues(t, 1, shop.Count(mockshop.RouteProduct))
		})
	}
}

func TestWorkflow_EmptyCatalogSkipsProductSteps(t *testing.T) {
	opts := mockshop.DefaultOptions()
	opts.Products = 0
	shop, server := newShop(t, opts)
	rec := &recorder{}
	wf := newWorkflow(server.URL, rec, load.NewSelector(load.SelectRandom, &seqRand{}))
	vu := load.NewVirtualUser(context.Background(), 1, wf, load.NewTokenCache(wf.Target, demoCreds, 1))

	results := runIterations(t, vu, 3)

	for _, r := range results {
		assert.Empty(t, r.SelectedProductID)
		assert.True(t, r.AuthChecked)
	}
	assert.Zero(t, shop.Count(mockshop.RouteProduct))
	assert.Zero(t, shop.Count(mockshop.RouteRelated))
	assert.Zero(t, rec.count(load.CallProductDetail))
	assert.Equal(t, 3, rec.count(load.CallBrands))
	assert.Equal(t, 3, rec.count(load.CallCategories))
	assert.Equal(t, 3, rec.count(load.CallMe))
}

func TestWorkflow_LoginFailureSkipsAuthAndRetries(t *testing.T) {
	shop, server := newShop(t, mockshop.DefaultOptions())
	shop.SetLoginStatus(http.StatusInternalServerError)
	rec := &recorder{}
	wf := newWorkflow(server.URL, rec, load.NewSelector(load.SelectRoundRobin, nil))
	vu := load.NewVirtualUser(context.Background(), 1, wf, load.NewTokenCache(wf.Target, demoCreds, 1))

	first := runIterations(t, vu, 1)[0]
	assert.False(t, first.AuthChecked)
	assert.Zero(t, shop.Count(mockshop.RouteMe))
	assert.EqualValues(t, 1, shop.Count(mockshop.RouteLogin))

	// Product steps are unaffected by the auth failure.
	assert.Equal(t, 1, rec.count(load.CallProductDetail))

	second := runIterations(t, vu, 1)[0]
	assert.False(t, second.AuthChecked)
	assert.EqualValues(t, 2, shop.Count(mockshop.RouteLogin))

	shop.SetLoginStatus(http.StatusOK)
	third := runIterations(t, vu, 1)[0]
	assert.True(t, third.AuthChecked)
	assert.EqualValues(t, 3, shop.Count(mockshop.RouteLogin))
	assert.EqualValues(t, 1, shop.Count(mockshop.RouteMe))

	for _, o := range rec.all() {
		if o.Name == load.CallLogin && o.StatusCode == http.StatusInternalServerError {
			assert.False(t, o.Success)
		}
	}
}

func TestWorkflow_AuthDisabled(t *testing.T) {
	shop, server := newShop(t, mockshop.DefaultOptions())
	wf := newWorkflow(server.URL, nil, load.NewSelector(load.SelectRoundRobin, nil))
	wf.AuthEnabled = false
	vu := load.NewVirtualUser(context.Background(), 1, wf, load.NewTokenCache(wf.Target, demoCreds, 1))

	runIterations(t, vu, 2)

	assert.Zero(t, shop.Count(mockshop.RouteLogin))
	assert.Zero(t, shop.Count(mockshop.RouteMe))
}

func TestWorkflow_SharedTokenEmptySkipsAuth(t *testing.T) {
	shop, server := newShop(t, mockshop.DefaultOptions())
	wf := newWorkflow(server.URL, nil, load.NewSelector(load.SelectRoundRobin, nil))
	vu := load.NewVirtualUser(context.Background(), 1, wf, load.StaticToken(""))

	r := runIterations(t, vu, 1)[0]

	assert.False(t, r.AuthChecked)
	assert.Zero(t, shop.Count(mockshop.RouteMe))
	assert.Zero(t, shop.Count(mockshop.RouteLogin))
}

func TestWorkflow_FailuresDoNotAbortIteration(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/products":
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"data":[{"id":"p1"}]}`))
		case "/brands":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	rec := &recorder{}
	wf := newWorkflow(server.URL, rec, load.NewSelector(load.SelectRoundRobin, nil))
	wf.AuthEnabled = false
	vu := load.NewVirtualUser(context.Background(), 1, wf, nil)

	r := runIterations(t, vu, 1)[0]

	assert.Equal(t, "p1", r.SelectedProductID)
	outcomes := rec.all()
	require.Len(t, outcomes, 5)
	assert.True(t, outcomes[0].Success)
	for _, o := range outcomes[1:] {
		assert.False(t, o.Success, o.Name)
	}
}

func TestWorkflow_TransportErrorIsReported(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	rec := &recorder{}
	wf := newWorkflow(url, rec, load.NewSelector(load.SelectRoundRobin, nil))
	wf.AuthEnabled = false
	vu := load.NewVirtualUser(context.Background(), 1, wf, nil)

	runIterations(t, vu, 1)

	outcomes := rec.all()
	require.Len(t, outcomes, 3)
	for _, o := range outcomes {
		assert.False(t, o.Success)
		assert.Error(t, o.Error)
		assert.Zero(t, o.StatusCode)
	}
}

func TestWorkflow_StopDuringPacingEndsIteration(t *testing.T) {
	shop, server := newShop(t, mockshop.DefaultOptions())
	wf := newWorkflow(server.URL, nil, load.NewSelector(load.SelectRoundRobin, nil))
	wf.Pacing.AfterCatalog = load.Seconds(5, 5)
	vu := load.NewVirtualUser(context.Background(), 1, wf, nil)

	go func() {
		time.Sleep(50 * time.Millisecond)
		vu.RequestStop()
	}()

	start := time.Now()
	err := vu.RunIteration(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	r, ok := vu.LastIteration()
	require.True(t, ok)
	assert.True(t, r.Interrupted)
	assert.EqualValues(t, 1, shop.Count(mockshop.RouteProducts))
	assert.Zero(t, shop.Count(mockshop.RouteBrands))
	assert.Equal(t, load.VUStateStopping, vu.GetState())
}
