package feature

import "context"

// Dynamic is the base of features started with start_feature.
type Dynamic struct {
	Base
	channel      string
	target       string
	parentTarget string
	request      Message
}

func newDynamic(in Init, channel, target string, req Message) Dynamic {
	return Dynamic{
		Base:         newBase(in),
		channel:      channel,
		target:       target,
		parentTarget: target,
		request:      req,
	}
}

func (d *Dynamic) Channel() string      { return d.channel }
func (d *Dynamic) Target() string       { return d.target }
func (d *Dynamic) ParentTarget() string { return d.parentTarget }

// Request returns the start_feature request that created the feature.
func (d *Dynamic) Request() Message { return d.request }

// Notify stamps the feature's channel and target on msg and sends it.
func (d *Dynamic) Notify(ctx context.Context, msg Message) error {
	msg[KeyChannel] = d.channel
	msg[KeyTarget] = d.target
	return d.Base.Notify(ctx, msg)
}
