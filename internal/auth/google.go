package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/smartmark-io/smartmark-back/internal/config"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

type (
	// Identity is what the provider tells us about the signed-in account.
	Identity struct {
		Sub   string
		Email string
	}

	GoogleProvider struct {
		oauth       *oauth2.Config
		userInfoURL string
	}

	googleUserInfo struct {
		Sub   string `json:"sub"`
		ID    string `json:"id"`
		Email string `json:"email"`
	}
)

func NewGoogleProvider(cfg *config.Config) *GoogleProvider {
	return &GoogleProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.OAuthRedirectURL,
			Scopes:       []string{"profile", "email"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL: googleUserInfoURL,
	}
}

// GenerateState returns a random value for the OAuth state round-trip.
func GenerateState() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}

func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// FetchIdentity exchanges the callback code and reads the userinfo endpoint.
func (p *GoogleProvider) FetchIdentity(ctx context.Context, code string) (*Identity, error) {
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, errors.Wrap(err, "exchange code")
	}

	client := p.oauth.Client(ctx, token)
	resp, err := client.Get(p.userInfoURL)
	if err != nil {
		return nil, errors.Wrap(err, "fetch userinfo")
	}
	defer resp.Body.Close()

	info := googleUserInfo{}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, errors.Wrap(err, "decode userinfo")
	}

	// The v2 endpoint reports the subject as "id", newer ones as "sub".
	sub := info.Sub
	if sub == "" {
		sub = info.ID
	}
	if sub == "" {
		return nil, errors.New("userinfo response has no subject")
	}

	return &Identity{
		Sub:   sub,
		Email: info.Email,
	}, nil
}
