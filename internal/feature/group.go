package feature

import (
	"context"

	"github.com/nerrad567/entrance/internal/connection"
)

// TargetGroup aggregates the target features flocking under its target.
// It can itself belong to a group named by the parent_target field of
// its start_feature request.
type TargetGroup struct {
	*TargetFeature

	// members is guarded by TargetFeature.mu. It is the group's membership,
	// while TargetFeature.children is what currently counts for the aggregate.
	members map[*TargetFeature]struct{}
}

// NewTargetGroup is the constructor of the target_group feature.
func NewTargetGroup(ctx context.Context, in Init, channel, target string, req Message) (Feature, error) {
	g := &TargetGroup{members: make(map[*TargetFeature]struct{})}
	g.TargetFeature = newTarget(in, channel, target, req, g.connectMembers)
	g.parentTarget = req.String("parent_target")

	// Target features started before the group join it now; later ones
	// are added by the session.
	for _, f := range in.Session.TargetFeatures(target) {
		if t := f.TargetBase(); t != g.TargetFeature {
			g.AddMember(ctx, t)
		}
	}
	return g, nil
}

func (g *TargetGroup) isMember(t *TargetFeature) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.members[t]
	return ok
}

// Members returns the member target features.
func (g *TargetGroup) Members() []*TargetFeature {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*TargetFeature, 0, len(g.members))
	for t := range g.members {
		out = append(out, t)
	}
	return out
}

// AddMember adds t to the group and folds t's current state into the
// aggregate. If the client already asked the group to connect, t is
// connected with the same factory.
func (g *TargetGroup) AddMember(ctx context.Context, t *TargetFeature) {
	g.mu.Lock()
	g.members[t] = struct{}{}
	g.track(t)
	g.reaggregateLocked(ctx, t)
	requested, factory := g.connectRequested, g.factory
	g.mu.Unlock()

	if requested && factory != nil {
		go g.connectMember(context.WithoutCancel(ctx), t, factory)
	}
}

// RemoveMember drops t from the group. The group first sees t report
// DISCONNECTED so its aggregate and subscribers reflect the departure.
func (g *TargetGroup) RemoveMember(ctx context.Context, t *TargetFeature) {
	g.childStateChanged(ctx, t, connection.Status{State: connection.Disconnected})

	g.mu.Lock()
	delete(g.members, t)
	g.untrack(t)
	g.mu.Unlock()
}

// memberStateChanged re-tracks a member that was dropped after
// disconnecting, then aggregates its report.
func (g *TargetGroup) memberStateChanged(ctx context.Context, t *TargetFeature, st connection.Status) {
	g.mu.Lock()
	if _, ok := g.members[t]; ok {
		g.track(t)
	}
	g.mu.Unlock()

	g.childStateChanged(ctx, t, st)
}

func (g *TargetGroup) connectMembers(ctx context.Context, factory connection.Factory) error {
	detached := context.WithoutCancel(ctx)
	for _, t := range g.Members() {
		go g.connectMember(detached, t, factory)
	}
	return nil
}

func (g *TargetGroup) connectMember(ctx context.Context, t *TargetFeature, factory connection.Factory) {
	if err := t.Connect(ctx, factory); err != nil {
		g.logger.Warn("member connect failed", "group", g.target, "member", t.name, "error", err)
	}
}
