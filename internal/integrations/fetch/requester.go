package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/html/charset"
)

// SleepFunc czeka d albo do anulowania ctx.
type SleepFunc func(ctx context.Context, d time.Duration) error

func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Policy – co robić z jedną stroną, gdy upstream nie odpowiada 200.
// Strona jest ponawiana do skutku; przerywa tylko status z Fatal albo anulowany ctx.
type Policy struct {
	RateLimitWait      time.Duration // 429
	ServerErrorWait    time.Duration // inne != 200
	TransportErrorWait time.Duration // błąd połączenia / timeout / ucięte body
	Fatal              []int
	// MaxAttempts > 0 ogranicza liczbę prób jednej strony (0 = do skutku).
	MaxAttempts int
}

func DefaultPolicy() Policy {
	return Policy{
		RateLimitWait:      30 * time.Second,
		ServerErrorWait:    10 * time.Second,
		TransportErrorWait: 15 * time.Second,
		Fatal:              []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}
}

// Requester wykonuje GET z polityką retry ze strony.
type Requester struct {
	Client *http.Client
	Header http.Header
	Policy Policy
	Sleep  SleepFunc
	Log    zerolog.Logger

	// OnRetry – hook dla metryk; reason: "rate_limit", "server_error", "transport"
	OnRetry func(reason string)
}

func (r *Requester) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return &http.Client{Timeout: 120 * time.Second}
}

func (r *Requester) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

// ErrRetriesExhausted – wyczerpany limit prób z Policy.MaxAttempts.
var ErrRetriesExhausted = errors.New("fetch: retries exhausted")

func (r *Requester) retry(ctx context.Context, attempt int, reason string, d time.Duration) error {
	if r.Policy.MaxAttempts > 0 && attempt >= r.Policy.MaxAttempts {
		return fmt.Errorf("%w: %s after %d attempts", ErrRetriesExhausted, reason, attempt)
	}
	if r.OnRetry != nil {
		r.OnRetry(reason)
	}
	return r.sleep(ctx, d)
}

// Get blokuje do sukcesu (200 + poprawny JSON), statusu fatalnego albo anulowania ctx.
// Odpowiedź bez listy rekordów daje pustą kopertę, nie błąd.
func (r *Requester) Get(ctx context.Context, rawURL string, q url.Values) (Envelope, error) {
	full := rawURL
	if len(q) > 0 {
		full += "?" + q.Encode()
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return Envelope{}, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
		if err != nil {
			return Envelope{}, fmt.Errorf("error creating request: %w", err)
		}
		for k, vs := range r.Header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := r.client().Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return Envelope{}, ctx.Err()
			}
			r.Log.Warn().Err(err).Dur("wait", r.Policy.TransportErrorWait).Msg("connection failed, retrying same page")
			if err := r.retry(ctx, attempt, "transport", r.Policy.TransportErrorWait); err != nil {
				return Envelope{}, err
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			drain(resp)
			r.Log.Warn().Int("status", resp.StatusCode).Dur("wait", r.Policy.RateLimitWait).Msg("rate limited, waiting")
			if err := r.retry(ctx, attempt, "rate_limit", r.Policy.RateLimitWait); err != nil {
				return Envelope{}, err
			}
			continue

		case slices.Contains(r.Policy.Fatal, resp.StatusCode):
			drain(resp)
			return Envelope{}, &StatusError{Status: resp.StatusCode, URL: rawURL}

		case resp.StatusCode != http.StatusOK:
			drain(resp)
			r.Log.Warn().Int("status", resp.StatusCode).Dur("wait", r.Policy.ServerErrorWait).Msg("upstream error, retrying same page")
			if err := r.retry(ctx, attempt, "server_error", r.Policy.ServerErrorWait); err != nil {
				return Envelope{}, err
			}
			continue
		}

		body, err := readBody(resp)
		if err != nil {
			if ctx.Err() != nil {
				return Envelope{}, ctx.Err()
			}
			r.Log.Warn().Err(err).Msg("body read failed, retrying same page")
			if err := r.retry(ctx, attempt, "transport", r.Policy.TransportErrorWait); err != nil {
				return Envelope{}, err
			}
			continue
		}

		env, err := DecodeEnvelope(body)
		if err != nil && !errors.Is(err, ErrEmptyEnvelope) {
			return Envelope{}, err
		}
		return env, nil
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// readBody czyta body, przekodowując do UTF-8, jeśli Content-Type deklaruje inny charset.
func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	ct := resp.Header.Get("Content-Type")
	_, params, perr := mime.ParseMediaType(ct)
	if perr != nil {
		return b, nil
	}
	cs := strings.ToLower(strings.TrimSpace(params["charset"]))
	if cs == "" || cs == "utf-8" || cs == "utf8" {
		return b, nil
	}
	rd, err := charset.NewReaderLabel(cs, bytes.NewReader(b))
	if err != nil {
		// nieznany charset – zostaw bajty jak są
		return b, nil
	}
	return io.ReadAll(rd)
}
