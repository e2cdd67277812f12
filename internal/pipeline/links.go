package pipeline

import (
	"context"
	"net/url"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/politecrawl/internal/config"
	"github.com/nao1215/politecrawl/internal/crawler"
	"github.com/nao1215/politecrawl/internal/model"
	"github.com/nao1215/politecrawl/internal/robots"
)

// DefaultLinkWorkers bounds the link policy checks running for one page.
const DefaultLinkWorkers = 4

// linksStep applies the link policy to every discovered link and enqueues
// the survivors one level deeper.
type linksStep struct {
	p       *Processor
	workers int
}

// Name returns the step name.
func (s *linksStep) Name() string {
	return "links"
}

// Do executes the links step.
func (s *linksStep) Do(ctx context.Context, job *Job) error {
	if !job.Result.IsHTML() || job.Item.Depth >= s.p.opts.MaxDepth {
		return nil
	}
	if s.p.deps.State.PageLimitReached() {
		return nil
	}
	links := job.Analysis.Links
	if len(links) == 0 {
		return nil
	}

	var enqueued atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.workers)

	for _, link := range links {
		if !s.p.deps.State.IsActive() || s.p.deps.State.PageLimitReached() {
			break
		}
		g.Go(func() error {
			if s.p.follow(ctx, job.Item, link.URL) {
				enqueued.Add(1)
			}
			return nil
		})
	}

	_ = g.Wait() //nolint:errcheck // workers never fail
	job.Enqueued = int(enqueued.Load())
	return nil
}

// follow runs the link policy for one link and enqueues it when it passes.
func (p *Processor) follow(ctx context.Context, parent model.WorkItem, rawURL string) bool {
	st := p.deps.State

	link, ok := crawler.NormalizeURL(rawURL)
	if !ok || st.IsVisited(link) {
		return false
	}
	if !crawler.ShouldFollow(link, p.deps.Profile.Match(link)) {
		return false
	}

	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	domain := model.HostOf(link)

	var rules *robots.Rules
	if p.opts.RespectRobots && p.deps.Robots != nil &&
		!crawler.SameHost(link, parent.URL) && !crawler.SameHost(link, p.opts.TargetURL) {
		rules = p.deps.Robots.Get(ctx, u.Host)
		if !rules.Allowed(link, config.DefaultRobotsAgent) {
			st.IncSkipped()
			p.logger.Debug("link disallowed by robots.txt", "url", link, "status", rules.Status())
			if p.deps.Store != nil {
				if err := p.deps.Store.SetDomainAllowed(ctx, domain, false); err != nil {
					p.logger.Warn("failed to record domain policy", "domain", domain, "error", err)
				}
			}
			return false
		}
	}

	if rules != nil {
		st.ObserveDomainWithDelay(domain, func() time.Duration {
			return max(p.opts.CrawlDelay, rules.CrawlDelay(config.DefaultRobotsAgent))
		})
	} else {
		st.ObserveDomain(domain)
	}

	return p.deps.Queue.Enqueue(parent.Child(link))
}
