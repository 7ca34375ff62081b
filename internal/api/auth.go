package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/nhle/sortify/internal/model"
)

// OAuth providers supported by the backend connect endpoints.
const (
	ProviderGoogle    = "google"
	ProviderMicrosoft = "microsoft"
)

// LoginResponse is returned by POST /auth/login.
type LoginResponse struct {
	Token string      `json:"token"`
	User  *model.User `json:"user,omitempty"`
}

// RegisterResponse is returned by POST /auth/register.
type RegisterResponse struct {
	Message string      `json:"message"`
	User    *model.User `json:"user,omitempty"`
}

// MessageResponse is returned by the password and verification endpoints.
// ResetURL and VerificationURL are only populated by development backends.
type MessageResponse struct {
	Message         string `json:"message"`
	ResetURL        string `json:"resetUrl,omitempty"`
	VerificationURL string `json:"verificationUrl,omitempty"`
}

type meResponse struct {
	User *model.User `json:"user"`
}

type oauthURLResponse struct {
	AuthURL string `json:"authUrl"`
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	var out LoginResponse
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/auth/login",
		body:   map[string]string{"email": email, "password": password},
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Token == "" {
		return nil, &APIError{Status: http.StatusOK, Message: "login response did not include a token"}
	}
	return &out, nil
}

// Register creates an account. It does not authenticate the caller.
func (c *Client) Register(ctx context.Context, name, email, password string) (*RegisterResponse, error) {
	var out RegisterResponse
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/auth/register",
		body:   map[string]string{"name": name, "email": email, "password": password},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Me fetches the profile of the token holder.
func (c *Client) Me(ctx context.Context) (*model.User, error) {
	var out meResponse
	err := c.do(ctx, call{method: http.MethodGet, path: "/auth/me", auth: true}, &out)
	if err != nil {
		return nil, err
	}
	if out.User == nil {
		return nil, errors.New("identity response did not include a user")
	}
	return out.User, nil
}

// ForgotPassword asks the backend to mail a reset link.
func (c *Client) ForgotPassword(ctx context.Context, email string) (*MessageResponse, error) {
	var out MessageResponse
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/auth/forgot-password",
		body:   map[string]string{"email": email},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ResetPassword sets a new password using a mailed reset token.
func (c *Client) ResetPassword(ctx context.Context, resetToken, password string) (*MessageResponse, error) {
	var out MessageResponse
	err := c.do(ctx, call{
		method: http.MethodPut,
		path:   "/auth/reset-password/" + url.PathEscape(resetToken),
		body:   map[string]string{"password": password},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SendVerification asks the backend to mail an email verification link.
func (c *Client) SendVerification(ctx context.Context) (*MessageResponse, error) {
	var out MessageResponse
	err := c.do(ctx, call{method: http.MethodPost, path: "/auth/send-verification", auth: true}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyEmail confirms the account address with a mailed token.
func (c *Client) VerifyEmail(ctx context.Context, verificationToken string) (*MessageResponse, error) {
	var out MessageResponse
	err := c.do(ctx, call{
		method: http.MethodPut,
		path:   "/auth/verify-email/" + url.PathEscape(verificationToken),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// OAuthURL returns the provider authorization URL the user must visit to
// connect a mailbox. redirect is passed through so the backend sends the
// browser back to the local callback listener.
func (c *Client) OAuthURL(ctx context.Context, provider, redirect string) (string, error) {
	switch provider {
	case ProviderGoogle, ProviderMicrosoft:
	default:
		return "", fmt.Errorf("unsupported oauth provider %q", provider)
	}

	path := "/auth/" + provider
	if redirect != "" {
		path += "?redirect=" + url.QueryEscape(redirect)
	}

	var out oauthURLResponse
	if err := c.do(ctx, call{method: http.MethodGet, path: path}, &out); err != nil {
		return "", err
	}
	if out.AuthURL == "" {
		return "", errors.New("oauth response did not include an authorization url")
	}
	return out.AuthURL, nil
}
