package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"bidwatch/internal/bid"
)

// SlackSender posts to a Slack incoming webhook.
type SlackSender struct {
	webhookURL string
	http       *http.Client
}

func NewSlackSender(webhookURL string, client *http.Client) (*SlackSender, error) {
	webhookURL = strings.TrimSpace(webhookURL)
	if webhookURL == "" {
		return nil, errors.New("slack webhook url is empty")
	}
	if _, err := url.ParseRequestURI(webhookURL); err != nil {
		return nil, fmt.Errorf("slack webhook url: %w", err)
	}
	if client == nil {
		client = &http.Client{}
	}
	return &SlackSender{webhookURL: webhookURL, http: client}, nil
}

func (s *SlackSender) Name() string { return "slack" }

func (s *SlackSender) Send(ctx context.Context, r bid.Record) error {
	body, err := json.Marshal(buildSlackMessage(r))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		// The webhook URL is a secret; drop it from the error.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return fmt.Errorf("slack post: %w", uerr.Err)
		}
		return fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("slack post: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
