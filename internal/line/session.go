// Package line talks to the messaging-platform APIs: identity resolution at
// registration time, push messages, and rich-menu linking. All calls are
// best-effort from the wallet's point of view except VerifyToken.
package line

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/nattapongs/credit-wallet/internal/config"
	"go.uber.org/zap"
)

var ErrSessionClosed = errors.New("line session closed")

// Identity is the platform profile resolved from a user access token.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"pictureUrl"`
}

// Message is one push message. Only text messages are sent today.
type Message struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func TextMessage(text string) Message { return Message{Type: "text", Text: text} }

// Session is an explicit handle on the platform APIs with a real lifecycle:
// construct once, Close when the process shuts down. No package-level state.
type Session struct {
	base       string
	token      string
	richMenuID string
	client     *http.Client
	log        *zap.SugaredLogger
	closed     chan struct{}
}

func NewSession(cfg config.LineConfig, log *zap.SugaredLogger) *Session {
	return &Session{
		base:       cfg.APIBase,
		token:      cfg.ChannelToken,
		richMenuID: cfg.RichMenuID,
		client:     &http.Client{Timeout: 10 * time.Second},
		log:        log,
		closed:     make(chan struct{}),
	}
}

// Close ends the session. Calls made after Close fail with ErrSessionClosed.
func (s *Session) Close() {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	s.client.CloseIdleConnections()
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// VerifyToken resolves the platform identity behind a user access token.
func (s *Session) VerifyToken(ctx context.Context, accessToken string) (Identity, error) {
	if s.isClosed() {
		return Identity{}, ErrSessionClosed
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+"/v2/profile", nil)
	if err != nil {
		return Identity{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := s.client.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("verify token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Identity{}, fmt.Errorf("verify token: %s", apiError(resp))
	}
	var id Identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return Identity{}, fmt.Errorf("verify token: %w", err)
	}
	if id.UserID == "" {
		return Identity{}, errors.New("verify token: empty user id")
	}
	return id, nil
}

// Push sends messages to a user. A fresh retry key is generated per logical
// send so transport-level retries cannot duplicate the notification.
func (s *Session) Push(ctx context.Context, userID string, messages []Message) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if userID == "" || len(messages) == 0 {
		return errors.New("push: user id and messages required")
	}
	body, err := json.Marshal(map[string]interface{}{"to": userID, "messages": messages})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+"/v2/bot/message/push", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Line-Retry-Key", uuid.NewString())
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push: %s", apiError(resp))
	}
	return nil
}

// LinkRichMenu attaches the configured rich menu to a user's chat.
func (s *Session) LinkRichMenu(ctx context.Context, userID string) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if s.richMenuID == "" {
		s.log.Debugw("rich menu id not configured, skipping link", "user_id", userID)
		return nil
	}
	url := fmt.Sprintf("%s/v2/bot/user/%s/richmenu/%s", s.base, userID, s.richMenuID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("link rich menu: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("link rich menu: %s", apiError(resp))
	}
	return nil
}

func apiError(resp *http.Response) string {
	var e struct {
		Message string `json:"message"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(data, &e) == nil && e.Message != "" {
		return fmt.Sprintf("status %d: %s", resp.StatusCode, e.Message)
	}
	return fmt.Sprintf("status %d", resp.StatusCode)
}
