package bigarena

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLoginPage = `<html><head><meta name="csrf-token" content="page-token"></head></html>`

func currentToken(c *Client) string {
	_, token := c.session()
	return token
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{
		BaseURL:  srv.URL,
		Email:    "ops@example.com",
		Password: "secret",
	})
	require.NoError(t, err)
	return client
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{Password: "x"})
	require.EqualError(t, err, "email is required")

	_, err = NewClient(Config{Email: "x"})
	require.EqualError(t, err, "password is required")
}

func TestLoginAdoptsBodyToken(t *testing.T) {
	var sawForm atomic.Bool

	mux := http.NewServeMux()
	mux.HandleFunc("GET /login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, testLoginPage)
	})
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "page-token", r.PostForm.Get("_token"))
		assert.Equal(t, "ops@example.com", r.PostForm.Get("email"))
		assert.Equal(t, "on", r.PostForm.Get("remember"))
		sawForm.Store(true)
		fmt.Fprint(w, `<meta name="csrf-token" content="dashboard-token">`)
	})

	client := newTestClient(t, mux)
	require.NoError(t, client.Login(context.Background()))

	assert.True(t, sawForm.Load())
	assert.True(t, client.Authenticated())
	assert.Equal(t, "dashboard-token", currentToken(client))
}

func TestLoginFallsBackToCookieToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, testLoginPage)
	})
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "XSRF-TOKEN", Value: "cookie%3Dtoken"})
		fmt.Fprint(w, `<html>welcome</html>`)
	})

	client := newTestClient(t, mux)
	require.NoError(t, client.Login(context.Background()))
	assert.Equal(t, "cookie=token", currentToken(client))
}

func TestLoginFailsWithoutAnyToken(t *testing.T) {
	t.Run("missing on login page", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("GET /login", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `<html>no token here</html>`)
		})

		client := newTestClient(t, mux)
		err := client.Login(context.Background())

		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
		require.ErrorIs(t, err, ErrTokenNotFound)
		assert.False(t, client.Authenticated())
	})

	t.Run("missing after credentialed post", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("GET /login", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, testLoginPage)
		})
		mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `<html>ok but tokenless</html>`)
		})

		client := newTestClient(t, mux)
		err := client.Login(context.Background())
		require.ErrorIs(t, err, ErrTokenNotFound)
		assert.False(t, client.Authenticated())
	})

	t.Run("credentials rejected", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("GET /login", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, testLoginPage)
		})
		mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
		})

		client := newTestClient(t, mux)
		err := client.Login(context.Background())

		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
	})
}

func loginHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, testLoginPage)
	})
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<meta name="csrf-token" content="dashboard-token">`)
	})
}

func TestFetchProducts(t *testing.T) {
	mux := http.NewServeMux()
	loginHandlers(mux)
	mux.HandleFunc("POST /orders/get-products", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "dashboard-token", r.Header.Get("X-CSRF-TOKEN"))
		assert.Equal(t, "XMLHttpRequest", r.Header.Get("X-Requested-With"))

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "192", r.PostForm.Get("vendor_id"))
		assert.Equal(t, "2000", r.PostForm.Get("length"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[
			{"id":101,"name":"<span class=\"item-data-title\">Widget</span>","variants":[{"on_hand_quantity":3},{"on_hand_quantity":"4"}]},
			{"id":"102","name":"","variants":[{"on_hand_quantity":"n/a"}]}
		]}`)
	})

	client := newTestClient(t, mux)
	require.NoError(t, client.EnsureSession(context.Background()))

	products, err := client.FetchProducts(context.Background(), 192)
	require.NoError(t, err)
	require.Len(t, products, 2)

	assert.Equal(t, json.Number("101"), products[0].ID)
	assert.Equal(t, Quantity(3), products[0].Variants[0].OnHandQuantity)
	assert.Equal(t, Quantity(4), products[0].Variants[1].OnHandQuantity)
	// Non-numeric quantities count as zero.
	assert.Equal(t, Quantity(0), products[1].Variants[0].OnHandQuantity)
}

func TestFetchProductsSessionExpired(t *testing.T) {
	mux := http.NewServeMux()
	loginHandlers(mux)
	mux.HandleFunc("POST /orders/get-products", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(419)
	})

	client := newTestClient(t, mux)
	require.NoError(t, client.EnsureSession(context.Background()))

	_, err := client.FetchProducts(context.Background(), 192)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestFetchProductsTransportError(t *testing.T) {
	mux := http.NewServeMux()
	loginHandlers(mux)
	mux.HandleFunc("POST /orders/get-products", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	client := newTestClient(t, mux)
	require.NoError(t, client.EnsureSession(context.Background()))

	_, err := client.FetchProducts(context.Background(), 192)

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, http.StatusBadGateway, transportErr.StatusCode)
	assert.False(t, errors.Is(err, ErrSessionExpired))
}

func TestQuantityUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Quantity
	}{
		{"integer", `3`, 3},
		{"quoted integer", `"4"`, 4},
		{"fractional", `3.5`, 3},
		{"quoted fractional", `"3.5"`, 3},
		{"negative", `-2`, -2},
		{"non-numeric", `"n/a"`, 0},
		{"null", `null`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var q Quantity
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &q))
			assert.Equal(t, tt.want, q)
		})
	}
}

func TestRefreshRebuildsSession(t *testing.T) {
	var logins atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("GET /login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, testLoginPage)
	})
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		n := logins.Add(1)
		fmt.Fprintf(w, `<meta name="csrf-token" content="token-%d">`, n)
	})

	client := newTestClient(t, mux)
	require.NoError(t, client.EnsureSession(context.Background()))
	assert.Equal(t, "token-1", currentToken(client))

	require.NoError(t, client.Refresh(context.Background()))
	assert.Equal(t, "token-2", currentToken(client))
	assert.Equal(t, int32(2), logins.Load())

	// EnsureSession is a no-op while a token is held.
	require.NoError(t, client.EnsureSession(context.Background()))
	assert.Equal(t, int32(2), logins.Load())
}

func TestConcurrentFetchesSurviveRefresh(t *testing.T) {
	mux := http.NewServeMux()
	loginHandlers(mux)
	mux.HandleFunc("POST /orders/get-products", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[]}`)
	})

	client := newTestClient(t, mux)
	require.NoError(t, client.EnsureSession(context.Background()))

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				_, err := client.FetchProducts(context.Background(), 192)
				assert.NoError(t, err)
			}
		}()
	}
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, client.Refresh(context.Background()))
		}()
	}
	wg.Wait()

	assert.True(t, client.Authenticated())
}
