package client

import "context"

// Stats accumulates per-run fetch counters. The pager owns them; callers
// receive copies by value.
type Stats struct {
	PagesRequested  int
	SuccessfulPages int
	FailedPages     int
	Retries         int
	RecordsFetched  int

	// CeilingReached marks a run that stopped at the page safety ceiling
	// without an upstream termination signal.
	CeilingReached bool
}

// Pager is a lazy, finite sequence of pages, fetched strictly in index
// order starting at 1. Consumption may stop early; no further requests are
// issued once the caller stops calling Next.
type Pager struct {
	client *Client
	next   int
	done   bool
	stats  Stats
}

// Pages returns a pager over the configured endpoint.
func (c *Client) Pages() *Pager {
	return &Pager{
		client: c,
		next:   1,
	}
}

// Next fetches the next page. It returns (nil, nil) when the sequence is
// finished: the previous page reported no continuation, or the safety
// ceiling was hit. A non-nil error is fatal to the run (credential failure
// or cancellation).
func (p *Pager) Next(ctx context.Context) (*Page, error) {
	if p.done {
		return nil, nil
	}

	if p.next > p.client.config.MaxPages {
		p.done = true
		p.stats.CeilingReached = true
		p.client.logger.Warn().
			Int("max_pages", p.client.config.MaxPages).
			Msg("Page safety ceiling reached without termination signal, stopping early")
		return nil, nil
	}

	page, err := p.client.fetchPage(ctx, p.next)
	if err != nil {
		p.done = true
		return nil, err
	}

	p.stats.PagesRequested++
	p.stats.Retries += page.Retries
	if page.Failed {
		p.stats.FailedPages++
	} else {
		p.stats.SuccessfulPages++
		p.stats.RecordsFetched += len(page.Records)
	}

	if !page.HasMore {
		p.done = true
	}
	p.next++

	return page, nil
}

// Stats returns a copy of the accumulated counters.
func (p *Pager) Stats() Stats {
	return p.stats
}
