package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

// OAuthProvider abstracts one external identity provider: build the consent
// URL, exchange the authorization code, fetch the profile.
type OAuthProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	FetchUserInfo(ctx context.Context, token *oauth2.Token) (*OAuthUserInfo, error)
}

type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	EmailVerified  bool
}

type googleProvider struct {
	cfg *oauth2.Config
}

func NewGoogleProvider(clientID, clientSecret, redirectURL string) OAuthProvider {
	return &googleProvider{cfg: &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{"openid", "email", "profile"},
		Endpoint:     google.Endpoint,
	}}
}

func (p *googleProvider) AuthCodeURL(state string) string {
	return p.cfg.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (p *googleProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return p.cfg.Exchange(ctx, code)
}

func (p *googleProvider) FetchUserInfo(ctx context.Context, token *oauth2.Token) (*OAuthUserInfo, error) {
	var payload struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		Name          string `json:"name"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := fetchJSON(ctx, p.cfg.Client(ctx, token), "https://openidconnect.googleapis.com/v1/userinfo", &payload); err != nil {
		return nil, err
	}
	if payload.Sub == "" || payload.Email == "" {
		return nil, fmt.Errorf("missing required userinfo fields")
	}
	return &OAuthUserInfo{
		ProviderUserID: payload.Sub,
		Email:          payload.Email,
		Name:           payload.Name,
		EmailVerified:  payload.EmailVerified,
	}, nil
}

type githubProvider struct {
	cfg *oauth2.Config
}

func NewGitHubProvider(clientID, clientSecret, redirectURL string) OAuthProvider {
	return &githubProvider{cfg: &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{"read:user", "user:email"},
		Endpoint:     github.Endpoint,
	}}
}

func (p *githubProvider) AuthCodeURL(state string) string {
	return p.cfg.AuthCodeURL(state)
}

func (p *githubProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return p.cfg.Exchange(ctx, code)
}

func (p *githubProvider) FetchUserInfo(ctx context.Context, token *oauth2.Token) (*OAuthUserInfo, error) {
	client := p.cfg.Client(ctx, token)

	var user struct {
		ID    int64  `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := fetchJSON(ctx, client, "https://api.github.com/user", &user); err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("missing required userinfo fields")
	}

	email := user.Email
	verified := email != ""
	if email == "" {
		// Profile email can be private; the emails endpoint lists them all.
		var emails []struct {
			Email    string `json:"email"`
			Primary  bool   `json:"primary"`
			Verified bool   `json:"verified"`
		}
		if err := fetchJSON(ctx, client, "https://api.github.com/user/emails", &emails); err != nil {
			return nil, err
		}
		for _, e := range emails {
			if e.Primary {
				email, verified = e.Email, e.Verified
				break
			}
		}
	}
	if email == "" {
		return nil, fmt.Errorf("missing required userinfo fields")
	}
	return &OAuthUserInfo{
		ProviderUserID: strconv.FormatInt(user.ID, 10),
		Email:          email,
		Name:           user.Name,
		EmailVerified:  verified,
	}, nil
}

func fetchJSON(ctx context.Context, client *http.Client, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("userinfo status: %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
