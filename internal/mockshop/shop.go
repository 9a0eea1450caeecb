// Package mockshop serves a fake storefront API with the routes a load run
// drives. It is used by tests and by the mockshop command for local dry
// runs.
package mockshop

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Route names counted by the shop. They match the logical call names of
// the load engine.
const (
	RouteLogin    = "POST /users/login"
	RouteProducts = "GET /products"
	RouteBrands   = "GET /brands"
	RouteCategory = "GET /categories"
	RouteProduct  = "GET /products/:id"
	RouteRelated  = "GET /products/:id/related"
	RouteMe       = "GET /users/me"
)

// Options configure a Shop.
type Options struct {
	// Products is the catalog size.
	Products int
	// Envelope wraps the catalog: "" or "data" gives {data:[...]}, "none"
	// gives a bare array, "nested" gives {data:{data:[...]}}.
	Envelope string
	// Email and Password are the accepted credentials.
	Email    string
	Password string
	// TokenTTL is the expires_in reported on login. Zero omits the field.
	TokenTTL time.Duration
	// Latency is added to every response.
	Latency time.Duration
}

// DefaultOptions returns a nine-product catalog accepting the demo user.
func DefaultOptions() Options {
	return Options{
		Products: 9,
		Email:    "customer@practicesoftwaretesting.com",
		Password: "welcome01",
		TokenTTL: 5 * time.Minute,
	}
}

// Shop is an http.Handler emulating the storefront.
type Shop struct {
	opts Options
	mux  *http.ServeMux

	loginStatus atomic.Int32
	products    atomic.Int32

	mu     sync.Mutex
	counts map[string]int64
	tokens map[string]time.Time
}

// New creates a Shop.
func New(opts Options) *Shop {
	s := &Shop{
		opts:   opts,
		mux:    http.NewServeMux(),
		counts: make(map[string]int64),
		tokens: make(map[string]time.Time),
	}
	s.loginStatus.Store(http.StatusOK)
	s.products.Store(int32(opts.Products))

	s.mux.HandleFunc("POST /users/login", s.handleLogin)
	s.mux.HandleFunc("GET /users/me", s.handleMe)
	s.mux.HandleFunc("GET /products", s.handleProducts)
	s.mux.HandleFunc("GET /products/{id}", s.handleProduct)
	s.mux.HandleFunc("GET /products/{id}/related", s.handleRelated)
	s.mux.HandleFunc("GET /brands", s.listHandler(RouteBrands, "brand"))
	s.mux.HandleFunc("GET /categories", s.listHandler(RouteCategory, "category"))
	return s
}

// ServeHTTP implements http.Handler.
func (s *Shop) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.opts.Latency > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(s.opts.Latency):
		}
	}
	s.mux.ServeHTTP(w, r)
}

// SetLoginStatus forces the status returned by the login endpoint.
// http.StatusOK restores normal behavior.
func (s *Shop) SetLoginStatus(status int) {
	s.loginStatus.Store(int32(status))
}

// SetProducts changes the catalog size.
func (s *Shop) SetProducts(n int) {
	s.products.Store(int32(n))
}

// Count returns how many requests hit route.
func (s *Shop) Count(route string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[route]
}

// Counts returns a copy of all route counters.
func (s *Shop) Counts() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}

func (s *Shop) hit(route string) {
	s.mu.Lock()
	s.counts[route]++
	s.mu.Unlock()
}

func (s *Shop) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.hit(RouteLogin)

	if status := int(s.loginStatus.Load()); status != http.StatusOK {
		writeJSON(w, status, map[string]string{"error": "login unavailable"})
		return
	}

	var creds struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if creds.Email != s.opts.Email || creds.Password != s.opts.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	token := uuid.NewString()
	ttl := s.opts.TokenTTL
	if ttl <= 0 {
		ttl = 120 * time.Second
	}
	s.mu.Lock()
	s.tokens[token] = time.Now().Add(ttl)
	s.mu.Unlock()

	body := map[string]interface{}{
		"access_token": token,
		"token_type":   "bearer",
	}
	if s.opts.TokenTTL > 0 {
		body["expires_in"] = int(s.opts.TokenTTL / time.Second)
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Shop) handleMe(w http.ResponseWriter, r *http.Request) {
	s.hit(RouteMe)

	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
		return
	}
	s.mu.Lock()
	expiry, known := s.tokens[token]
	s.mu.Unlock()
	if !known || time.Now().After(expiry) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":    1,
		"email": s.opts.Email,
	})
}

func (s *Shop) handleProducts(w http.ResponseWriter, r *http.Request) {
	s.hit(RouteProducts)

	n := int(s.products.Load())
	items := make([]map[string]interface{}, 0, n)
	for i := 1; i <= n; i++ {
		items = append(items, product(i))
	}

	var body interface{}
	switch s.opts.Envelope {
	case "none":
		body = items
	case "nested":
		body = map[string]interface{}{"data": map[string]interface{}{"data": items}}
	default:
		body = map[string]interface{}{
			"current_page": 1,
			"data":         items,
			"total":        n,
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Shop) handleProduct(w http.ResponseWriter, r *http.Request) {
	s.hit(RouteProduct)

	i, ok := s.lookup(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Requested item not found"})
		return
	}
	writeJSON(w, http.StatusOK, product(i))
}

func (s *Shop) handleRelated(w http.ResponseWriter, r *http.Request) {
	s.hit(RouteRelated)

	i, ok := s.lookup(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Requested item not found"})
		return
	}
	n := int(s.products.Load())
	related := make([]map[string]interface{}, 0, 3)
	for j := 1; j <= n && len(related) < 3; j++ {
		if j != i {
			related = append(related, product(j))
		}
	}
	writeJSON(w, http.StatusOK, related)
}

func (s *Shop) listHandler(route, kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.hit(route)
		items := make([]map[string]interface{}, 0, 3)
		for i := 1; i <= 3; i++ {
			items = append(items, map[string]interface{}{
				"id":   fmt.Sprintf("%s-%d", kind, i),
				"name": fmt.Sprintf("%s %d", kind, i),
			})
		}
		writeJSON(w, http.StatusOK, items)
	}
}

func (s *Shop) lookup(id string) (int, bool) {
	var i int
	if _, err := fmt.Sscanf(id, "product-%d", &i); err != nil {
		return 0, false
	}
	return i, i >= 1 && i <= int(s.products.Load())
}

// ProductID returns the id of the i-th catalog item, 1-based.
func ProductID(i int) string {
	return fmt.Sprintf("product-%d", i)
}

func product(i int) map[string]interface{} {
	return map[string]interface{}{
		"id":    ProductID(i),
		"name":  fmt.Sprintf("Product %d", i),
		"price": float64(i) * 9.99,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
