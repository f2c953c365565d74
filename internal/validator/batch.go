package validator

import (
	"context"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
)

// ValidateAll validates paths concurrently, at most jobs at a time (0
// means the pool size), and returns the reports in input order. Progress
// is published to the sink set with WithProgress.
func (s *Service) ValidateAll(ctx context.Context, paths []string, jobs int) ([]Report, error) {
	reports := make([]Report, len(paths))
	if len(paths) == 0 {
		return reports, nil
	}
	if jobs <= 0 {
		jobs = s.src.Current().PoolSize
	}
	jobs = max(1, min(jobs, len(paths)))

	for i, p := range paths {
		s.publish(Event{Archive: p, Index: i, Status: StatusQueued})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i, p := range paths {
		g.Go(func() error {
			s.publish(Event{Archive: p, Index: i, Status: StatusValidating})
			start := time.Now()
			rep, err := s.Report(gctx, p)
			evt := Event{Archive: p, Index: i, Elapsed: time.Since(start), Cached: rep.Cached, Err: err}
			switch {
			case err != nil:
				evt.Status = StatusFailed
			case rep.HasProblems():
				evt.Status = StatusFailed
			default:
				evt.Status = StatusDone
			}
			s.publish(evt)
			reports[i] = rep
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return reports, err
	}
	return reports, nil
}

func (s *Service) publish(evt Event) {
	if s.progress != nil {
		s.progress.OnEvent(evt)
	}
}

func itoa(n int) string { return strconv.Itoa(n) }
