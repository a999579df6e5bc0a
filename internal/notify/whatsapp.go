package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// ChannelWhatsApp is the name of the WhatsApp channel.
const ChannelWhatsApp = "whatsapp"

// WhatsApp sends messages through the Twilio Messages REST API.
type WhatsApp struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	httpClient *http.Client
	maxRetries int
}

// twilioError is the error body returned by the Twilio API.
type twilioError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

// twilioMessage is the subset of a created message resource we read.
type twilioMessage struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// NewWhatsApp creates a WhatsApp channel. baseURL is normally
// https://api.twilio.com; from is the sender, with or without the
// whatsapp: prefix.
func NewWhatsApp(baseURL, accountSID, authToken, from string) *WhatsApp {
	return &WhatsApp{
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountSID: accountSID,
		authToken:  authToken,
		from:       whatsappAddress(from),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxRetries: 2,
	}
}

// Name returns the channel name.
func (w *WhatsApp) Name() string { return ChannelWhatsApp }

// Send posts the message text to the recipient's phone number.
func (w *WhatsApp) Send(ctx context.Context, to Recipient, msg Message) Result {
	if to.Phone == "" {
		return Failure(ChannelWhatsApp, ErrNoAddress)
	}
	if _, err := w.send(ctx, to.Phone, msg.ShortText()); err != nil {
		return Failure(ChannelWhatsApp, err)
	}
	return Success(ChannelWhatsApp)
}

// send creates a message resource, retrying on HTTP 429.
func (w *WhatsApp) send(ctx context.Context, phone, body string) (*twilioMessage, error) {
	path := fmt.Sprintf("/2010-04-01/Accounts/%s/Messages.json", url.PathEscape(w.accountSID))
	form := url.Values{
		"From": {w.from},
		"To":   {whatsappAddress(phone)},
		"Body": {body},
	}
	encoded := form.Encode()

	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(
			ctx, http.MethodPost, w.baseURL+path, strings.NewReader(encoded),
		)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.SetBasicAuth(w.accountSID, w.authToken)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")

		resp, err := w.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("executing request POST %s: %w", path, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("reading response body: %w", readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429) on POST %s", path)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryAfterDuration(resp, attempt)):
				continue
			}
		}

		if resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("authentication failed (401): check the Twilio account SID and auth token")
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			var apiErr twilioError
			if sonic.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
				return nil, fmt.Errorf(
					"twilio API error (%d, code %d): %s",
					resp.StatusCode, apiErr.Code, apiErr.Message,
				)
			}
			return nil, fmt.Errorf(
				"unexpected status %d on POST %s: %s",
				resp.StatusCode, path, string(respBody),
			)
		}

		var created twilioMessage
		if err := sonic.Unmarshal(respBody, &created); err != nil {
			return nil, fmt.Errorf("unmarshaling response from POST %s: %w", path, err)
		}
		return &created, nil
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", w.maxRetries, lastErr)
}

// whatsappAddress adds the whatsapp: scheme to a phone number.
func whatsappAddress(phone string) string {
	if strings.HasPrefix(phone, "whatsapp:") {
		return phone
	}
	return "whatsapp:" + phone
}

// retryAfterDuration reads the Retry-After header and computes a wait
// duration. Falls back to exponential backoff if the header is missing.
func retryAfterDuration(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}

	// Exponential backoff: 1s, 2s, 4s, ...
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > 10*time.Second {
		backoff = 10 * time.Second
	}
	return backoff
}
