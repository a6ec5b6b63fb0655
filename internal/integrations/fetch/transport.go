package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// RetryTransport – druga linia obrony pod pętlą stron: ponawia 429/5xx i błędy
// połączenia z wykładniczym backoffem, w ograniczonym budżecie prób.
// Po wyczerpaniu budżetu oddaje ostatnią odpowiedź (np. 429) wyżej, do Requester.
type RetryTransport struct {
	Base            http.RoundTripper
	MaxRetries      uint64        // domyślnie 5
	InitialInterval time.Duration // domyślnie 2s
	// AttemptTimeout – limit jednej próby (połączenie + nagłówki + body); 0 = bez limitu.
	AttemptTimeout time.Duration
	Log            zerolog.Logger
}

// cancelBody zwalnia kontekst próby dopiero po zamknięciu body.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

var retryStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

func (t *RetryTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *RetryTransport) policy() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = t.InitialInterval
	if eb.InitialInterval <= 0 {
		eb.InitialInterval = 2 * time.Second
	}
	eb.Multiplier = 2
	eb.MaxElapsedTime = 0

	retries := t.MaxRetries
	if retries == 0 {
		retries = 5
	}
	return backoff.WithMaxRetries(eb, retries)
}

func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	var last *http.Response

	op := func() error {
		if last != nil {
			_, _ = io.Copy(io.Discard, last.Body)
			last.Body.Close()
			last = nil
		}

		actx, cancel := ctx, context.CancelFunc(func() {})
		if t.AttemptTimeout > 0 {
			actx, cancel = context.WithTimeout(ctx, t.AttemptTimeout)
		}
		attempt, err := cloneRequest(actx, req)
		if err != nil {
			cancel()
			return backoff.Permanent(err)
		}
		resp, err := t.base().RoundTrip(attempt)
		if err != nil {
			cancel()
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		resp.Body = cancelBody{ReadCloser: resp.Body, cancel: cancel}
		last = resp
		if retryStatuses[resp.StatusCode] {
			return fmt.Errorf("http %d", resp.StatusCode)
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		t.Log.Debug().Err(err).Str("url", req.URL.Path).Dur("backoff", wait).Msg("transport retry")
	}

	err := backoff.RetryNotify(op, backoff.WithContext(t.policy(), ctx), notify)
	if last != nil {
		return last, nil
	}
	return nil, err
}

func cloneRequest(ctx context.Context, req *http.Request) (*http.Request, error) {
	r := req.Clone(ctx)
	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		r.Body = body
	}
	return r, nil
}

// NewClient – klient HTTP z timeoutem na pojedyncze wywołanie. Przy retry=true
// timeout dotyczy każdej próby RetryTransport osobno, a nie całego łańcucha.
func NewClient(timeout time.Duration, retry bool, log zerolog.Logger) *http.Client {
	if retry {
		return &http.Client{Transport: &RetryTransport{AttemptTimeout: timeout, Log: log}}
	}
	return &http.Client{Timeout: timeout}
}
