package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultFiatURL   = "https://open.er-api.com"
	KeyedFiatURL     = "https://v6.exchangerate-api.com"
	DefaultCryptoURL = "https://api.coingecko.com"

	baseCurrency = "USD"
	maxErrorBody = 4096
)

// ErrUnavailable is returned for any failure of the upstream rate providers.
var ErrUnavailable = errors.New("rates: upstream unavailable")

type Service struct {
	fiatURL    string
	cryptoURL  string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	logger     zerolog.Logger
	cache      *Cache
	breaker    *gobreaker.CircuitBreaker
}

func (s *Service) LoggerComponent() string {
	return "Rates.Service"
}

func NewService(opts ...ServiceOption) (*Service, error) {
	s := &Service{
		fiatURL:    DefaultFiatURL,
		cryptoURL:  DefaultCryptoURL,
		timeout:    10 * time.Second,
		httpClient: http.DefaultClient,
		logger:     log.Logger,
	}

	for _, o := range opts {
		o(s)
	}

	// the open endpoint does not accept keys
	if s.apiKey != "" && s.fiatURL == DefaultFiatURL {
		s.fiatURL = KeyedFiatURL
	}
	if s.cache == nil {
		s.cache = NewCache(DefaultTTL)
	}
	s.logger = s.logger.With().Str("component", s.LoggerComponent()).Logger()
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "rates",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			s.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Breaker state changed")
		},
	})

	return s, nil
}

type ServiceOption func(*Service)

func WithLogger(l zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = l
	}
}

func WithFiatURL(u string) ServiceOption {
	return func(s *Service) {
		s.fiatURL = strings.TrimRight(u, "/")
	}
}

func WithCryptoURL(u string) ServiceOption {
	return func(s *Service) {
		s.cryptoURL = strings.TrimRight(u, "/")
	}
}

// WithAPIKey switches the fiat endpoint to the keyed plan. A default fiat
// URL is replaced by KeyedFiatURL.
func WithAPIKey(key string) ServiceOption {
	return func(s *Service) {
		s.apiKey = key
	}
}

func WithTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		s.timeout = d
	}
}

func WithHTTPClient(c *http.Client) ServiceOption {
	return func(s *Service) {
		s.httpClient = c
	}
}

func WithCache(c *Cache) ServiceOption {
	return func(s *Service) {
		s.cache = c
	}
}

// FiatRate returns how many units of to one unit of from buys.
func (s *Service) FiatRate(ctx context.Context, from, to string) (*Quote, error) {
	t, err := s.fiatTable(ctx)
	if err != nil {
		return nil, err
	}

	fromRate, ok := t.rates[from]
	if !ok || fromRate.IsZero() {
		return nil, fmt.Errorf("%w: no rate for %s", ErrUnavailable, from)
	}
	toRate, ok := t.rates[to]
	if !ok {
		return nil, fmt.Errorf("%w: no rate for %s", ErrUnavailable, to)
	}

	return &Quote{
		From:      from,
		To:        to,
		Rate:      toRate.DivRound(fromRate, 6),
		FetchedAt: t.fetchedAt,
	}, nil
}

// CryptoPrice returns the price of asset (e.g. "ethereum") in vs (e.g. "usd").
func (s *Service) CryptoPrice(ctx context.Context, asset, vs string) (decimal.Decimal, time.Time, error) {
	asset, vs = strings.ToLower(asset), strings.ToLower(vs)
	key := "crypto:" + asset + ":" + vs

	if v, ok := s.cache.Get(key); ok {
		p := v.(*cryptoPrice)
		return p.price, p.fetchedAt, nil
	}

	q := url.Values{}
	q.Set("ids", asset)
	q.Set("vs_currencies", vs)

	out := SimplePriceResponse{}
	if err := s.call(ctx, s.cryptoURL+"/api/v3/simple/price?"+q.Encode(), &out); err != nil {
		return decimal.Zero, time.Time{}, err
	}

	price, ok := out[asset][vs]
	if !ok || !price.IsPositive() {
		s.logger.Error().Str("asset", asset).Str("vs", vs).Msg("Price missing in response")
		return decimal.Zero, time.Time{}, fmt.Errorf("%w: no price for %s/%s", ErrUnavailable, asset, vs)
	}

	p := &cryptoPrice{price: price, fetchedAt: s.cache.Now()}
	s.cache.Set(key, p)

	return p.price, p.fetchedAt, nil
}

// FiatToCrypto converts a fiat amount into units of asset, rounded to 8 places.
func (s *Service) FiatToCrypto(ctx context.Context, amount decimal.Decimal, from, asset string) (decimal.Decimal, error) {
	t, err := s.fiatTable(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	fromRate, ok := t.rates[from]
	if !ok || fromRate.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: no rate for %s", ErrUnavailable, from)
	}

	price, _, err := s.CryptoPrice(ctx, asset, baseCurrency)
	if err != nil {
		return decimal.Zero, err
	}

	usd := amount.Div(fromRate)
	return usd.DivRound(price, 8), nil
}

func (s *Service) fiatTable(ctx context.Context) (*fiatTable, error) {
	const key = "fiat:" + baseCurrency
	if v, ok := s.cache.Get(key); ok {
		return v.(*fiatTable), nil
	}

	endpoint := s.fiatURL + "/v6/latest/" + baseCurrency
	if s.apiKey != "" {
		endpoint = s.fiatURL + "/v6/" + url.PathEscape(s.apiKey) + "/latest/" + baseCurrency
	}

	out := &LatestResponse{}
	if err := s.call(ctx, endpoint, out); err != nil {
		return nil, err
	}

	if out.Result != "" && out.Result != "success" {
		s.logger.Error().Str("error_type", out.ErrorType).Msg("Rates provider returned error result")
		return nil, fmt.Errorf("%w: result %s", ErrUnavailable, out.Result)
	}
	rates := out.table()
	if len(rates) == 0 {
		return nil, fmt.Errorf("%w: empty rates table", ErrUnavailable)
	}

	t := &fiatTable{rates: rates, fetchedAt: s.cache.Now()}
	s.cache.Set(key, t)

	return t, nil
}

type RemoteError struct {
	ResponseBody string
	StatusCode   int
}

func NewRemoteError(responseBody string, statusCode int) *RemoteError {
	return &RemoteError{ResponseBody: responseBody, StatusCode: statusCode}
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote status %d: %s", e.StatusCode, e.ResponseBody)
}

// call performs a GET through the breaker. Every failure is logged with
// detail and returned as ErrUnavailable.
func (s *Service) call(ctx context.Context, fullURL string, out interface{}) error {
	l := s.logger.With().Str("http_method", http.MethodGet).Str("url", redact(fullURL, s.apiKey)).Logger()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.get(l.WithContext(ctx), fullURL, out)
	})
	if err != nil {
		l.Error().Err(err).Msg("Rates request failed")
		return fmt.Errorf("%w: %s", ErrUnavailable, errorKind(err))
	}

	return nil
}

func (s *Service) get(ctx context.Context, fullURL string, out interface{}) error {
	l := zerolog.Ctx(ctx)
	l.Debug().Msg("HTTP request")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Add("Accept", "application/json")

	res, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		l.Error().Bytes("http_body", body).Int("http_status", res.StatusCode).Msg("Service responded with error")
		return NewRemoteError(string(body), res.StatusCode)
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("json decode: %w", err)
	}

	return nil
}

func errorKind(err error) string {
	var re *RemoteError
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "circuit open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &re):
		return fmt.Sprintf("status %d", re.StatusCode)
	}
	return "request failed"
}

func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "***")
}
