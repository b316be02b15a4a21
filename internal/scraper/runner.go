package scraper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okrama/emailscout/pkg/log"
)

// Hooks deliver progress back to the job registry while a run is in
// flight. Any hook may be nil.
type Hooks struct {
	// Progress receives cumulative counters and a completion fraction in [0,1].
	Progress func(processed, emails int, fraction float64)
	// Discovery receives one company's mined addresses as soon as they are found.
	Discovery func(company, domain string, emails []string)
	// Error receives non-fatal per-company failures.
	Error func(msg string)
}

// Runner executes one email-discovery job over a set of company files.
type Runner struct {
	fetcher *Fetcher
}

func NewRunner(requestTimeout time.Duration) *Runner {
	return &Runner{fetcher: NewFetcher(requestTimeout)}
}

// Run processes every file: loads the company list, crawls each company
// concurrently (bounded by workers), reports progress per batch and
// annotates each input file in place with the discovered addresses.
// A file that cannot be loaded fails the whole job; individual company
// failures are recorded and skipped.
func (r *Runner) Run(ctx context.Context, files []string, workers, batchSize int, verbose bool, hooks Hooks) error {
	if workers <= 0 {
		workers = 1
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	totalCompanies := 0
	companiesByFile := make([][]Company, len(files))
	for i, path := range files {
		companies, err := LoadCompanies(path)
		if err != nil {
			return fmt.Errorf("load companies: %w", err)
		}
		companiesByFile[i] = companies
		totalCompanies += len(companies)
	}
	if totalCompanies == 0 {
		return fmt.Errorf("no companies to process")
	}

	var (
		mu        sync.Mutex
		processed int
		emails    int
	)
	report := func(final bool) {
		if hooks.Progress == nil {
			return
		}
		mu.Lock()
		p, e := processed, emails
		mu.Unlock()
		if final || p%batchSize == 0 {
			hooks.Progress(p, e, float64(p)/float64(totalCompanies))
		}
	}

	for i, path := range files {
		companies := companiesByFile[i]
		results := make([][]string, len(companies))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for idx, company := range companies {
			g.Go(func() error {
				if gctx.Err() != nil {
					return gctx.Err()
				}

				found := r.processCompany(gctx, company, verbose, hooks)
				results[idx] = found

				mu.Lock()
				processed++
				emails += len(found)
				mu.Unlock()
				report(false)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		if err := AnnotateFile(path, results); err != nil {
			return fmt.Errorf("annotate %s: %w", path, err)
		}
	}

	report(true)
	return nil
}

func (r *Runner) processCompany(ctx context.Context, company Company, verbose bool, hooks Hooks) []string {
	if company.Website == "" {
		if hooks.Error != nil {
			hooks.Error(fmt.Sprintf("%s: no website", displayName(company)))
		}
		return nil
	}

	found, err := r.fetcher.DiscoverEmails(ctx, company.Website)
	if err != nil {
		if verbose {
			log.Debug("Discovery failed for %s: %v", company.Website, err)
		}
		if hooks.Error != nil {
			hooks.Error(fmt.Sprintf("%s: %v", displayName(company), err))
		}
		return nil
	}

	if len(found) > 0 && hooks.Discovery != nil {
		hooks.Discovery(displayName(company), DomainOf(company.Website), found)
	}
	return found
}

func displayName(company Company) string {
	if company.Name != "" {
		return company.Name
	}
	return company.Website
}
