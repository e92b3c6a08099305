package security

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ErrNotConnected means no OAuth token has been stored for the account yet.
var ErrNotConnected = errors.New("calendar account not connected")

const stateTTL = 10 * time.Minute

// TokenInfo is the stored form of an OAuth token.
type TokenInfo struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry"`
	Account      string    `json:"account"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TokenStore keeps the OAuth user token for calendar access in Redis.
// It is used when no service account is configured.
type TokenStore struct {
	redisClient *redis.Client
	config      *oauth2.Config
}

func NewTokenStore(redisClient *redis.Client) *TokenStore {
	return &TokenStore{redisClient: redisClient}
}

// ConfigureOAuth sets the client the consent flow and refreshes use.
func (ts *TokenStore) ConfigureOAuth(clientID, clientSecret, redirectURL string) {
	ts.config = &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       CalendarScopes,
		Endpoint:     google.Endpoint,
	}
	log.Printf("security: configured OAuth client %s", clientID)
}

func (ts *TokenStore) Configured() bool {
	return ts != nil && ts.config != nil
}

// GetAuthURL returns a consent URL and remembers its state for ten minutes.
func (ts *TokenStore) GetAuthURL(ctx context.Context, account string) (string, string, error) {
	if !ts.Configured() {
		return "", "", errors.New("OAuth client not configured")
	}

	stateBytes := make([]byte, 32)
	if _, err := rand.Read(stateBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate state: %w", err)
	}
	state := base64.URLEncoding.EncodeToString(stateBytes)

	if err := ts.redisClient.Set(ctx, stateKey(state), account, stateTTL).Err(); err != nil {
		return "", "", fmt.Errorf("failed to store OAuth state: %w", err)
	}

	return ts.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), state, nil
}

// ExchangeCodeForToken finishes the consent flow and stores the token under
// the account that started it.
func (ts *TokenStore) ExchangeCodeForToken(ctx context.Context, code, state string) (string, *oauth2.Token, error) {
	if !ts.Configured() {
		return "", nil, errors.New("OAuth client not configured")
	}

	key := stateKey(state)
	defer ts.redisClient.Del(ctx, key)

	account, err := ts.redisClient.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil, errors.New("invalid or expired state parameter")
	} else if err != nil {
		return "", nil, fmt.Errorf("failed to verify state: %w", err)
	}

	token, err := ts.config.Exchange(ctx, code)
	if err != nil {
		return "", nil, fmt.Errorf("failed to exchange code for token: %w", err)
	}
	if err := ts.StoreToken(ctx, account, token); err != nil {
		return "", nil, err
	}
	return account, token, nil
}

// StoreToken persists token. Refresh tokens are kept when a refreshed token
// omits them.
func (ts *TokenStore) StoreToken(ctx context.Context, account string, token *oauth2.Token) error {
	if token == nil {
		return errors.New("token cannot be nil")
	}

	refresh := token.RefreshToken
	if refresh == "" {
		if prev, err := ts.GetToken(ctx, account); err == nil {
			refresh = prev.RefreshToken
		}
	}

	data, err := json.Marshal(TokenInfo{
		AccessToken:  token.AccessToken,
		RefreshToken: refresh,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
		Account:      account,
		UpdatedAt:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal token info: %w", err)
	}

	if err := ts.redisClient.Set(ctx, tokenKey(account), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store token in Redis: %w", err)
	}
	log.Printf("security: stored OAuth token for %s", account)
	return nil
}

func (ts *TokenStore) GetToken(ctx context.Context, account string) (*oauth2.Token, error) {
	data, err := ts.redisClient.Get(ctx, tokenKey(account)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, account)
	} else if err != nil {
		return nil, fmt.Errorf("failed to retrieve token: %w", err)
	}

	var info TokenInfo
	if err := json.Unmarshal([]byte(data), &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token info: %w", err)
	}
	return &oauth2.Token{
		AccessToken:  info.AccessToken,
		RefreshToken: info.RefreshToken,
		TokenType:    info.TokenType,
		Expiry:       info.Expiry,
	}, nil
}

func (ts *TokenStore) DeleteToken(ctx context.Context, account string) error {
	if err := ts.redisClient.Del(ctx, tokenKey(account)).Err(); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	log.Printf("security: deleted OAuth token for %s", account)
	return nil
}

// TokenSource returns a source that loads the stored token lazily,
// refreshes it through the OAuth client and writes refreshed tokens back.
// The service can start before the account is connected.
func (ts *TokenStore) TokenSource(ctx context.Context, account string) oauth2.TokenSource {
	return &storedTokenSource{ctx: ctx, store: ts, account: account}
}

type storedTokenSource struct {
	ctx     context.Context
	store   *TokenStore
	account string

	mu      sync.Mutex
	current *oauth2.Token
}

func (s *storedTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current.Valid() {
		return s.current, nil
	}
	if !s.store.Configured() {
		return nil, errors.New("OAuth client not configured")
	}

	stored, err := s.store.GetToken(s.ctx, s.account)
	if err != nil {
		return nil, err
	}

	fresh, err := s.store.config.TokenSource(s.ctx, stored).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token for %s: %w", s.account, err)
	}
	if fresh.AccessToken != stored.AccessToken {
		if err := s.store.StoreToken(s.ctx, s.account, fresh); err != nil {
			log.Printf("security: persist refreshed token for %s: %v", s.account, err)
		}
	}
	s.current = fresh
	return fresh, nil
}

func stateKey(state string) string {
	return "calsync:oauth_state:" + state
}

func tokenKey(account string) string {
	return "calsync:oauth_token:" + account
}
