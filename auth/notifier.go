package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// Errors raised when notifying the identity service of a tier change.
// ErrNoResponse covers transport failures; ErrBadResponse covers a reachable
// service answering with anything but 200.
var (
	ErrNoResponse  = fmt.Errorf("auth service did not respond")
	ErrBadResponse = fmt.Errorf("auth service returned an unexpected response")
)

const apiKeyHeader = "x-api-key"

// NotifierOptions provides initialization parameters for Notifier
type NotifierOptions struct {
	SubscribeURL   string // e.g. http://auth/api/v1/users/subscribe
	UnsubscribeURL string // e.g. http://auth/api/v1/users/unsubscribe
	APIKey         string
	Logger         *zap.Logger
	Timeout        time.Duration
}

// Notifier pushes subscribe/unsubscribe markers to the identity service.
// The billing ledger stays the source of truth: callers treat failures here
// as reportable, not fatal.
type Notifier struct {
	NotifierOptions
	client *http.Client
}

// NewNotifier will return a new instance of Notifier for the identity service
func NewNotifier(option NotifierOptions) (*Notifier, error) {
	if option.SubscribeURL == "" {
		return nil, fmt.Errorf("empty SubscribeURL is invalid")
	}
	if option.UnsubscribeURL == "" {
		return nil, fmt.Errorf("empty UnsubscribeURL is invalid")
	}
	if option.APIKey == "" {
		return nil, fmt.Errorf("empty APIKey is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Timeout == 0 {
		option.Timeout = time.Second * 5
	}
	return &Notifier{
		NotifierOptions: option,
		client: &http.Client{
			Timeout: option.Timeout,
		},
	}, nil
}

// Subscribed will mark the user as subscribed to the given tariff on the identity service
func (n *Notifier) Subscribed(ctx context.Context, userID, tariffID string) error {
	endpoint := fmt.Sprintf("%s/%s?%s", n.SubscribeURL, userID, url.Values{"tariff_id": {tariffID}}.Encode())
	return n.put(ctx, endpoint)
}

// Unsubscribed will remove the user's subscribed marker on the identity service
func (n *Notifier) Unsubscribed(ctx context.Context, userID string) error {
	return n.put(ctx, fmt.Sprintf("%s/%s", n.UnsubscribeURL, userID))
}

func (n *Notifier) put(ctx context.Context, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, nil)
	if err != nil {
		return extErrors.Wrap(err, "Cannot build auth service request")
	}
	req.Header.Set(apiKeyHeader, n.APIKey)

	res, err := n.client.Do(req)
	if err != nil {
		n.Logger.Error("Auth service is unreachable",
			zap.String("Endpoint", endpoint),
			zap.Error(err),
		)
		return extErrors.Wrap(ErrNoResponse, err.Error())
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		n.Logger.Error("Auth service returned non-200",
			zap.String("Endpoint", endpoint),
			zap.Int("StatusCode", res.StatusCode),
		)
		return extErrors.Wrapf(ErrBadResponse, "status %d", res.StatusCode)
	}
	return nil
}
