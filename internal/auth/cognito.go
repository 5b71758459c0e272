package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/workday/internal/oauth"
)

// ProviderCognito はidentitiesテーブルに記録するプロバイダー名。
const ProviderCognito = "cognito"

// CognitoConfig はCognitoユーザープールとアプリクライアントの設定。
type CognitoConfig struct {
	// Domain はホストされたUIのドメイン（https://xxx.auth.ap-northeast-1.amazoncognito.com）。
	Domain string
	// UserPoolURL はトークンのiss（https://cognito-idp.{region}.amazonaws.com/{poolId}）。
	UserPoolURL  string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// NewCognitoOAuthClient はCognitoのエンドポイントを設定したoauth.Clientを返す。
// トークンエンドポイントへはBasic認証で送る。
func NewCognitoOAuthClient(cfg CognitoConfig, httpClient *http.Client) *oauth.Client {
	domain := strings.TrimSuffix(cfg.Domain, "/")
	return oauth.NewClient(oauth.Config{
		ClientID:        cfg.ClientID,
		ClientSecret:    cfg.ClientSecret,
		AuthorizeURL:    domain + "/oauth2/authorize",
		TokenURL:        domain + "/oauth2/token",
		JWKSURL:         strings.TrimSuffix(cfg.UserPoolURL, "/") + "/.well-known/jwks.json",
		AuthStyle:       oauth.AuthStyleInHeader,
		AuthorizeParams: url.Values{"scope": {"openid email profile"}},
		HTTPClient:      httpClient,
	})
}

// CognitoTokenClient はCognitoProviderが使うOAuthクライアントの操作。
type CognitoTokenClient interface {
	AuthorizationURL(redirectURI, state string) string
	ExchangeCode(ctx context.Context, code, redirectURI string) (*oauth.Token, error)
	SigningKey(ctx context.Context, kid string) ([]byte, error)
}

// CognitoProvider はCognitoのホストされたUIによるログインを提供する。
// IDトークンとアクセストークンはJWKSの公開鍵でRS256署名と有効期限を検証する。
type CognitoProvider struct {
	client      CognitoTokenClient
	redirectURL string
	issuer      string
	clientID    string
	now         func() time.Time

	mu   sync.Mutex
	keys map[string]*rsa.PublicKey
}

// NewCognitoProvider はCognitoProviderを生成する。
func NewCognitoProvider(client CognitoTokenClient, cfg CognitoConfig) *CognitoProvider {
	return &CognitoProvider{
		client:      client,
		redirectURL: cfg.RedirectURL,
		issuer:      strings.TrimSuffix(cfg.UserPoolURL, "/"),
		clientID:    cfg.ClientID,
		now:         time.Now,
		keys:        make(map[string]*rsa.PublicKey),
	}
}

// GetLoginURL はCognitoの認可URLを生成する。
func (p *CognitoProvider) GetLoginURL(state string) string {
	return p.client.AuthorizationURL(p.redirectURL, state)
}

// idTokenClaims はIDトークンのうち利用するクレーム。
type idTokenClaims struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Username string `json:"cognito:username"`
	TokenUse string `json:"token_use"`
	jwt.RegisteredClaims
}

// accessTokenClaims はアクセストークンのうち検証に使うクレーム。
type accessTokenClaims struct {
	ClientID string `json:"client_id"`
	TokenUse string `json:"token_use"`
	jwt.RegisteredClaims
}

// ExchangeCode は認可コードをトークンに交換し、両トークンを検証してユーザー情報を返す。
func (p *CognitoProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	token, err := p.client.ExchangeCode(ctx, code, p.redirectURL)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}
	if token.IDToken == "" {
		return nil, errors.New("id_token is missing in token response")
	}

	var idClaims idTokenClaims
	if err := p.verify(ctx, token.IDToken, &idClaims, jwt.WithAudience(p.clientID)); err != nil {
		return nil, fmt.Errorf("invalid id_token: %w", err)
	}
	if idClaims.TokenUse != "id" {
		return nil, fmt.Errorf("invalid id_token: token_use = %q", idClaims.TokenUse)
	}

	var accessClaims accessTokenClaims
	if err := p.verify(ctx, token.AccessToken, &accessClaims); err != nil {
		return nil, fmt.Errorf("invalid access_token: %w", err)
	}
	if accessClaims.TokenUse != "access" || accessClaims.ClientID != p.clientID {
		return nil, errors.New("invalid access_token: token_use or client_id mismatch")
	}
	if accessClaims.Subject != idClaims.Subject {
		return nil, errors.New("access_token and id_token subjects differ")
	}

	name := idClaims.Name
	if name == "" {
		name = idClaims.Username
	}
	return &OAuthUserInfo{
		ProviderUserID: idClaims.Subject,
		Email:          idClaims.Email,
		Name:           name,
		Provider:       ProviderCognito,
	}, nil
}

// verify はRS256署名・iss・有効期限を検証してclaimsへ展開する。
func (p *CognitoProvider) verify(ctx context.Context, raw string, claims jwt.Claims, opts ...jwt.ParserOption) error {
	opts = append(opts,
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("kid header is missing")
		}
		return p.publicKey(ctx, kid)
	}, opts...)
	return err
}

// publicKey はkidに対応する公開鍵を返す。取得済みの鍵は再利用する。
func (p *CognitoProvider) publicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	p.mu.Lock()
	key, ok := p.keys[kid]
	p.mu.Unlock()
	if ok {
		return key, nil
	}

	pemBytes, err := p.client.SigningKey(ctx, kid)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch signing key: %w", err)
	}
	if pemBytes == nil {
		return nil, fmt.Errorf("signing key not found for kid %s", kid)
	}
	key, err = jwt.ParseRSAPublicKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}

	p.mu.Lock()
	p.keys[kid] = key
	p.mu.Unlock()
	return key, nil
}

// compile-time interface check
var _ OAuthProvider = (*CognitoProvider)(nil)
