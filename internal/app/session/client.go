package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/eventbook/project/internal/app/identity"
	"github.com/eventbook/project/internal/platform/kv"
)

// Keys in the shared key-value persistence. The event collection lives in
// the same store under its own key; these two belong to the session.
const (
	TokenKey = "token"
	UserKey  = "user"
)

var ErrLoggedOut = errors.New("no stored session")

// Client exchanges credentials for a token against the two auth endpoints
// and keeps the result in the injected key-value store. Each call is made
// exactly once: a failure is reported to the caller, nothing is retried or
// queued for later.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	KV         kv.Store
}

func NewClient(baseURL string, store kv.Store) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: http.DefaultClient,
		KV:         store,
	}
}

// Session mirrors the {token, user} envelope of the auth endpoints.
type Session struct {
	Token string        `json:"token"`
	User  identity.User `json:"user"`
}

type SignupForm struct {
	Name     string
	Email    string
	Password string
	// PhotoPath optionally points at a profile photo on local disk.
	PhotoPath string
}

func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return Session{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return Session{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) Signup(ctx context.Context, form SignupForm) (Session, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("name", form.Name)
	_ = w.WriteField("email", form.Email)
	_ = w.WriteField("password", form.Password)
	if form.PhotoPath != "" {
		if err := attachPhoto(w, form.PhotoPath); err != nil {
			return Session{}, err
		}
	}
	if err := w.Close(); err != nil {
		return Session{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/auth/signup", &buf)
	if err != nil {
		return Session{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.do(req)
}

// Token returns the stored access token. Its presence is the "is logged in"
// signal the rest of the app keys off.
func (c *Client) Token(ctx context.Context) (string, bool) {
	raw, err := c.KV.Get(ctx, TokenKey)
	if err != nil || len(raw) == 0 {
		return "", false
	}
	return string(raw), true
}

func (c *Client) User(ctx context.Context) (identity.User, error) {
	raw, err := c.KV.Get(ctx, UserKey)
	if err != nil {
		return identity.User{}, ErrLoggedOut
	}
	var u identity.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return identity.User{}, ErrLoggedOut
	}
	return u, nil
}

func (c *Client) Logout(ctx context.Context) error {
	if err := c.KV.Delete(ctx, TokenKey); err != nil {
		return err
	}
	return c.KV.Delete(ctx, UserKey)
}

func (c *Client) do(req *http.Request) (Session, error) {
	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Session{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Session{}, err
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var envelope struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &envelope) == nil && envelope.Message != "" {
			return Session{}, errors.New(envelope.Message)
		}
		return Session{}, fmt.Errorf("auth request failed: %s", resp.Status)
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return Session{}, err
	}
	if err := c.store(req.Context(), sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (c *Client) store(ctx context.Context, sess Session) error {
	if err := c.KV.Put(ctx, TokenKey, []byte(sess.Token)); err != nil {
		return err
	}
	userRaw, err := json.Marshal(sess.User)
	if err != nil {
		return err
	}
	return c.KV.Put(ctx, UserKey, userRaw)
}

func attachPhoto(w *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	part, err := w.CreateFormFile("profilePhoto", filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}
