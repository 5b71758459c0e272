// Package oauth はOAuth 2.0 認可コードフローの汎用クライアントを提供する。
// Cognito（ログイン）とfreee（人事労務API連携）の両方で共用する。
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// AuthStyle はクライアント認証情報の送り方を表す。
type AuthStyle int

const (
	// AuthStyleInParams はclient_id/client_secretをフォームボディに含める（freee）。
	AuthStyleInParams AuthStyle = iota
	// AuthStyleInHeader はBasic認証ヘッダーで送る（Cognito）。
	AuthStyleInHeader
)

// Config はOAuthプロバイダーの設定。
type Config struct {
	ClientID     string
	ClientSecret string

	AuthorizeURL string
	TokenURL     string
	// RefreshURL が空の場合はTokenURLを使う
	RefreshURL string
	JWKSURL    string

	AuthStyle AuthStyle
	// AuthorizeParams は認可URLに追加するパラメータ（freeeの prompt=select_company など）
	AuthorizeParams url.Values

	HTTPClient *http.Client
}

// Token はトークンエンドポイントのレスポンス。
// freee固有のscope/created_at/company_idも保持する。
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
	CreatedAt    int64  `json:"created_at,omitempty"`
	CompanyID    int64  `json:"company_id,omitempty"`
}

// ExpiresAt はcreated_at + expires_in をUnix秒で返す。
func (t *Token) ExpiresAt() int64 {
	return t.CreatedAt + t.ExpiresIn
}

// HTTPError はプロバイダーが2xx以外を返したことを表す。
// 呼び出し側はステータスコードで判断できるよう、変換せずにそのまま返す。
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("oauth provider returned status %d: %s", e.StatusCode, e.Body)
}

// Client はOAuthプロバイダーとの通信を行う。
type Client struct {
	config Config
	http   *http.Client
	now    func() time.Time
}

// NewClient はClientを生成する。HTTPClientが未指定の場合は10秒タイムアウトのクライアントを使う。
func NewClient(config Config) *Client {
	hc := config.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	if config.RefreshURL == "" {
		config.RefreshURL = config.TokenURL
	}
	return &Client{config: config, http: hc, now: time.Now}
}

// AuthorizationURL は認可エンドポイントのURLを生成する。stateが空の場合は付与しない。
func (c *Client) AuthorizationURL(redirectURI, state string) string {
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {c.config.ClientID},
		"redirect_uri":  {redirectURI},
	}
	if state != "" {
		params.Set("state", state)
	}
	for k, vs := range c.config.AuthorizeParams {
		for _, v := range vs {
			params.Add(k, v)
		}
	}
	return c.config.AuthorizeURL + "?" + params.Encode()
}

// ExchangeCode は認可コードをトークンに交換する。
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (*Token, error) {
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {redirectURI},
	}
	token, err := c.postToken(ctx, c.config.TokenURL, form)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return token, nil
}

// Refresh はリフレッシュトークンで新しいトークンを取得する。
// プロバイダーがrefresh_tokenを返さない場合（Cognito）は元のリフレッシュトークンを引き継ぐ。
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	token, err := c.postToken(ctx, c.config.RefreshURL, form)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	return token, nil
}

func (c *Client) postToken(ctx context.Context, endpoint string, form url.Values) (*Token, error) {
	form.Set("client_id", c.config.ClientID)
	if c.config.AuthStyle == AuthStyleInParams {
		form.Set("client_secret", c.config.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if c.config.AuthStyle == AuthStyleInHeader {
		req.SetBasicAuth(c.config.ClientID, c.config.ClientSecret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var token Token
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}
	if token.CreatedAt == 0 {
		token.CreatedAt = c.now().Unix()
	}

	return &token, nil
}
