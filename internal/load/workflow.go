package load

import (
	"context"
	"net/http"
	"net/url"
)

// Workflow is the fixed storefront iteration every VU repeats.
type Workflow struct {
	Target      *Target
	Pacing      PacingPlan
	Selector    Selector
	Pacer       *Pacer
	AuthEnabled bool
}

// IterationResult describes what one pass through the workflow did.
type IterationResult struct {
	// SelectedProductID is empty when the catalog yielded no id.
	SelectedProductID string
	// AuthChecked is true when GET /users/me was issued.
	AuthChecked bool
	// Interrupted is true when a pause was cut short by a stop request
	// or cancellation and the remaining steps were skipped.
	Interrupted bool
}

// Run executes one iteration for vu. Failed checks never abort the
// iteration; only a retire request or cancellation observed during a pause
// ends it early.
func (w *Workflow) Run(ctx context.Context, vu *VirtualUser) IterationResult {
	var result IterationResult
	origin := callOrigin{vuID: vu.ID, iteration: vu.GetIteration()}
	pause := func(r Range) bool {
		if w.Pacer.Pace(ctx, vu.stopCh, r) {
			return true
		}
		result.Interrupted = true
		return false
	}

	catalog := w.Target.do(ctx, origin, call{
		step:   StepCatalog,
		name:   CallProducts,
		method: http.MethodGet,
		path:   "/products?page=1",
	})
	if catalog.OK() {
		if id, ok := w.Selector.Select(vu.ID, ExtractItemIDs(catalog.Body)); ok {
			result.SelectedProductID = id
		}
	}
	if !pause(w.Pacing.AfterCatalog) {
		return result
	}

	w.Target.do(ctx, origin, call{step: StepLists, name: CallBrands, method: http.MethodGet, path: "/brands"})
	w.Target.do(ctx, origin, call{step: StepLists, name: CallCategories, method: http.MethodGet, path: "/categories"})
	if !pause(w.Pacing.AfterLists) {
		return result
	}

	if id := result.SelectedProductID; id != "" {
		if !pause(w.Pacing.BeforeDetail) {
			return result
		}
		w.Target.do(ctx, origin, call{
			step:   StepProductDetail,
			name:   CallProductDetail,
			method: http.MethodGet,
			path:   "/products/" + url.PathEscape(id),
		})
		if !pause(w.Pacing.BetweenDetailAndRelated) {
			return result
		}
		w.Target.do(ctx, origin, call{
			step:   StepProductRelated,
			name:   CallProductsRelated,
			method: http.MethodGet,
			path:   "/products/" + url.PathEscape(id) + "/related",
		})
	}
	if !pause(w.Pacing.BeforeAuth) {
		return result
	}

	if w.AuthEnabled && vu.Tokens != nil {
		if token := vu.Tokens.EnsureValid(withOrigin(ctx, origin)); token != "" {
			w.Target.do(ctx, origin, call{
				step:   StepAuth,
				name:   CallMe,
				method: http.MethodGet,
				path:   "/users/me",
				bearer: token,
			})
			result.AuthChecked = true
		}
	}

	pause(w.Pacing.Final)
	return result
}
