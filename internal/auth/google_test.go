package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func stubProvider(t *testing.T, userInfoBody string) *GoogleProvider {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "stub-access-token", "token_type": "Bearer"}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(userInfoBody))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return &GoogleProvider{
		oauth: &oauth2.Config{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			RedirectURL:  "http://localhost/auth/callback",
			Scopes:       []string{"profile", "email"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  ts.URL + "/auth",
				TokenURL: ts.URL + "/token",
			},
		},
		userInfoURL: ts.URL + "/userinfo",
	}
}

func TestAuthCodeURLCarriesState(t *testing.T) {
	p := stubProvider(t, `{}`)
	state := GenerateState()

	u := p.AuthCodeURL(state)
	assert.Contains(t, u, "state="+state)
	assert.Contains(t, u, "client_id=client-id")
}

func TestFetchIdentity(t *testing.T) {
	t.Run("sub field", func(t *testing.T) {
		p := stubProvider(t, `{"sub": "sub-1", "email": "a@gmail.com"}`)

		identity, err := p.FetchIdentity(context.Background(), "some-code")
		require.Nil(t, err)
		assert.Equal(t, "sub-1", identity.Sub)
		assert.Equal(t, "a@gmail.com", identity.Email)
	})

	t.Run("v2 id field", func(t *testing.T) {
		p := stubProvider(t, `{"id": "id-1", "email": "a@gmail.com"}`)

		identity, err := p.FetchIdentity(context.Background(), "some-code")
		require.Nil(t, err)
		assert.Equal(t, "id-1", identity.Sub)
	})

	t.Run("missing subject is an error", func(t *testing.T) {
		p := stubProvider(t, `{"email": "a@gmail.com"}`)

		_, err := p.FetchIdentity(context.Background(), "some-code")
		assert.NotNil(t, err)
	})
}

func TestGenerateState(t *testing.T) {
	assert.NotEqual(t, GenerateState(), GenerateState())
}
