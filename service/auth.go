package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/kishor-kashid/collabcanvas/models"
)

// Session tokens are HMAC-signed JWTs carrying the provider identity the
// user logged in with. REST calls and the websocket handshake present the
// same token.
const (
	tokenIssuer   = "collabcanvas"
	tokenLifetime = 24 * time.Hour
)

type sessionClaims struct {
	Provider   string `json:"provider"`
	ProviderId string `json:"providerId"`
	jwt.RegisteredClaims
}

// oauthProvider is everything needed to turn an authorization code into a
// user record for one identity provider.
type oauthProvider struct {
	authURL     string
	tokenURL    string
	scopes      []string
	userInfoURL string
	headers     map[string]string
	parse       func(body []byte) (models.User, error)
}

var oauthProviders = map[string]oauthProvider{
	"github": {
		authURL:     "https://github.com/login/oauth/authorize",
		tokenURL:    "https://github.com/login/oauth/access_token",
		scopes:      []string{""},
		userInfoURL: "https://api.github.com/user",
		headers: map[string]string{
			"Accept":               "application/vnd.github+json",
			"X-GitHub-Api-Version": "2022-11-28",
		},
		parse: parseGitHubUser,
	},
	"google": {
		authURL:     "https://accounts.google.com/o/oauth2/v2/auth",
		tokenURL:    "https://oauth2.googleapis.com/token",
		scopes:      []string{"openid", "email"},
		userInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
		parse:       parseGoogleUser,
	},
}

func parseGitHubUser(body []byte) (models.User, error) {
	var gh struct {
		Login string `json:"login"`
		ID    int64  `json:"id"`
	}
	if err := json.Unmarshal(body, &gh); err != nil {
		return models.User{}, err
	}
	if gh.ID == 0 {
		return models.User{}, errors.New("github userinfo missing id")
	}
	return models.User{
		Provider:   "github",
		ProviderId: strconv.FormatInt(gh.ID, 10),
		Username:   gh.Login,
	}, nil
}

func parseGoogleUser(body []byte) (models.User, error) {
	var g struct {
		Email string `json:"email"`
		Sub   string `json:"sub"`
	}
	if err := json.Unmarshal(body, &g); err != nil {
		return models.User{}, err
	}
	if g.Sub == "" {
		return models.User{}, errors.New("google userinfo missing sub")
	}
	return models.User{
		Provider:   "google",
		ProviderId: g.Sub,
		Username:   g.Email,
	}, nil
}

// applyProviderDefaults fills the endpoint and scopes of each configured
// provider from the table above; callers only supply client id and secret.
func applyProviderDefaults(oauthConfigs map[string]*oauth2.Config) (map[string]*oauth2.Config, error) {
	for name, conf := range oauthConfigs {
		p, ok := oauthProviders[name]
		if !ok {
			return nil, fmt.Errorf("unsupported provider: %s", name)
		}
		conf.Endpoint = oauth2.Endpoint{AuthURL: p.authURL, TokenURL: p.tokenURL}
		conf.Scopes = p.scopes
	}

	return oauthConfigs, nil
}

func (s *Service) fetchProviderUser(ctx context.Context, provider string, code string) (models.User, error) {
	conf, ok := s.OAuthConfigs[provider]
	if !ok {
		return models.User{}, fmt.Errorf("unsupported provider: %s", provider)
	}
	p := oauthProviders[provider]

	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return models.User{}, fmt.Errorf("code exchange failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return models.User{}, err
	}
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := conf.Client(ctx, tok).Do(req)
	if err != nil {
		return models.User{}, fmt.Errorf("userinfo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.User{}, fmt.Errorf("userinfo request returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.User{}, err
	}

	return p.parse(body)
}

func (s *Service) CreateJWT(id string, provider string, providerId string) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		Provider:   provider,
		ProviderId: providerId,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.JWTSecret)
}

func (s *Service) VerifyJWT(tokenString string) (string, string, string, time.Time, error) {
	var claims sessionClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims,
		func(token *jwt.Token) (any, error) {
			return s.JWTSecret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", "", "", time.Time{}, err
	}
	if !token.Valid {
		return "", "", "", time.Time{}, errors.New("invalid token")
	}
	if claims.Subject == "" || claims.Provider == "" || claims.ProviderId == "" {
		return "", "", "", time.Time{}, errors.New("incomplete token claims")
	}

	return claims.Subject, claims.Provider, claims.ProviderId, claims.ExpiresAt.Time, nil
}

func (s *Service) AuthenticateToken(ctx context.Context, token string) (models.User, error) {
	if len(token) == 0 {
		return models.User{}, errors.New("token not provided")
	}

	_, provider, providerId, _, err := s.VerifyJWT(token)
	if err != nil {
		return models.User{}, err
	}

	user, err := s.Store.GetUser(ctx, provider, providerId)
	if err != nil {
		return models.User{}, err
	}

	return user, nil
}

func (s *Service) Login(ctx context.Context, provider, code string) (models.User, string, error) {
	user, err := s.fetchProviderUser(ctx, provider, code)
	if err != nil {
		return models.User{}, "", fmt.Errorf("oauth failed: %w", err)
	}

	createdUser, err := s.Store.CreateUser(ctx, user)
	if err != nil {
		return models.User{}, "", fmt.Errorf("create user failed: %w", err)
	}

	token, err := s.CreateJWT(createdUser.Id, createdUser.Provider, createdUser.ProviderId)
	if err != nil {
		return models.User{}, "", fmt.Errorf("token generation failed: %w", err)
	}

	return createdUser, token, nil
}
