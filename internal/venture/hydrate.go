package venture

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ashureev/angel-console/internal/angel"
	"github.com/ashureev/angel-console/internal/domain"
)

type hydration struct {
	reply       *angel.ChatReply
	roadmap     string
	task        *domain.Task
	taskFetched bool
}

// hydrate fetches everything a view needs after a restart. The current
// question is always loaded; the roadmap and current task only when the
// phase hint says they exist.
func hydrate(ctx context.Context, backend Backend, sessionID string, hint domain.Phase) (hydration, error) {
	var h hydration
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		reply, err := backend.CurrentQuestion(gctx, sessionID)
		if err != nil {
			return err
		}
		h.reply = reply
		return nil
	})

	switch hint {
	case domain.PhaseRoadmap, domain.PhaseRoadmapToImplementationTransition:
		g.Go(func() error {
			roadmap, err := backend.RoadmapPlan(gctx, sessionID)
			if err != nil {
				return err
			}
			h.roadmap = roadmap
			return nil
		})
	case domain.PhaseImplementation:
		g.Go(func() error {
			task, err := backend.CurrentTask(gctx, sessionID)
			if err != nil {
				return err
			}
			h.task, h.taskFetched = task, true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return hydration{}, err
	}
	return h, nil
}
