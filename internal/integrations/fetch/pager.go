package fetch

import (
	"context"
	"iter"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Page – jedna strona listingu.
type Page struct {
	Number  int
	Records []Record
	Meta    Meta
	HasMore *bool
}

// Last mówi, czy upstream zgłasza tę stronę jako ostatnią. Numer strony
// bierzemy z meta.current_page, a gdy go brak, z własnego licznika.
func (p Page) Last() bool {
	current := p.Number
	if p.Meta.CurrentPage > 0 {
		current = p.Meta.CurrentPage
	}
	if p.Meta.LastPage > 0 && current >= p.Meta.LastPage {
		return true
	}
	return p.HasMore != nil && !*p.HasMore
}

// Pager przechodzi listing strona po stronie, sekwencyjnie.
type Pager struct {
	Req       *Requester
	URL       string
	Query     url.Values
	PageParam string // domyślnie "page"
	StartPage int    // domyślnie 1

	// Limiter rozkłada strony w czasie (nil = bez pauzy).
	Limiter *rate.Limiter
}

// Pages zwraca leniwą sekwencję niepustych stron. Koniec następuje, gdy strona
// jest pusta albo upstream zgłosi ostatnią stronę. Błąd (status fatalny,
// anulowany ctx, niepoprawny JSON) jest oddawany jako ostatni element.
func (p *Pager) Pages(ctx context.Context) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		param := p.PageParam
		if param == "" {
			param = "page"
		}
		page := p.StartPage
		if page < 1 {
			page = 1
		}

		for {
			if p.Limiter != nil {
				if err := p.Limiter.Wait(ctx); err != nil {
					yield(Page{Number: page}, err)
					return
				}
			}

			q := url.Values{}
			for k, vs := range p.Query {
				q[k] = append([]string(nil), vs...)
			}
			q.Set(param, strconv.Itoa(page))

			log := p.Req.Log.With().Int("page", page).Logger()
			req := *p.Req
			req.Log = log

			env, err := req.Get(ctx, p.URL, q)
			if err != nil {
				yield(Page{Number: page}, err)
				return
			}
			if len(env.Records) == 0 {
				log.Debug().Msg("empty page, end of data")
				return
			}

			pg := Page{Number: page, Records: env.Records, Meta: env.Meta, HasMore: env.HasMore}
			if !yield(pg, nil) {
				return
			}
			if pg.Last() {
				log.Debug().Int("last_page", pg.Meta.LastPage).Msg("last page reached")
				return
			}
			page++
		}
	}
}

// Every buduje limiter "jedna strona co d"; d <= 0 wyłącza pauzę.
func Every(d time.Duration) *rate.Limiter {
	if d <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(d), 1)
}
