package feature

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/entrance/internal/persist"
)

const persistLoadNfn = "persist_load"

// PersistOptions configures the persist feature.
type PersistOptions struct {
	// Filename selects the SQLite file; empty means database.path.
	Filename string `mapstructure:"filename"`
}

// Persist saves and loads small JSON documents per user and channel.
// Sessions that loaded a document are told when another session saves it.
type Persist struct {
	Base
	store *persist.Store
	bus   *persist.Bus
}

// NewPersist is the constructor of the persist feature.
func NewPersist(ctx context.Context, in Init, options any) (Feature, error) {
	opts, ok := options.(*PersistOptions)
	if !ok {
		return nil, fmt.Errorf("%w: persist: got %T", ErrInvalidOptions, options)
	}
	if in.Env == nil || in.Env.Persist == nil || in.Env.Bus == nil {
		return nil, fmt.Errorf("%w: persist store", ErrUnavailable)
	}
	store, err := in.Env.Persist.Get(ctx, opts.Filename)
	if err != nil {
		return nil, err
	}

	p := &Persist{Base: newBase(in), store: store, bus: in.Env.Bus}
	p.on("persist_save_async", p.saveAsync)
	p.on("persist_save_sync", p.saveSync)
	p.on("persist_load", p.load)
	return p, nil
}

func (p *Persist) save(ctx context.Context, args []any) error {
	userid, err := stringArg(args, 0, KeyUserID)
	if err != nil {
		return err
	}
	channel, err := stringArg(args, 1, KeyChannel)
	if err != nil {
		return err
	}
	data := args[2]

	if err := p.store.Save(ctx, userid, channel, data); err != nil {
		return err
	}
	p.bus.Publish(ctx, userid, channel, data, p)
	return nil
}

func (p *Persist) saveAsync(ctx context.Context, args []any) (Message, error) {
	return nil, p.save(ctx, args)
}

func (p *Persist) saveSync(ctx context.Context, args []any) (Message, error) {
	if err := p.save(ctx, args); err != nil {
		return RPCFailure(err.Error()), nil
	}
	return RPCSuccess(""), nil
}

// load returns the saved document, or the request's default, and
// subscribes the session to later saves.
func (p *Persist) load(ctx context.Context, args []any) (Message, error) {
	userid, err := stringArg(args, 0, KeyUserID)
	if err != nil {
		return nil, err
	}
	channel, err := stringArg(args, 1, KeyChannel)
	if err != nil {
		return nil, err
	}

	p.bus.Subscribe(userid, channel, p)

	data, err := p.store.Load(ctx, userid, channel)
	if errors.Is(err, persist.ErrNotFound) {
		data, err = args[2], nil
	}
	if err != nil {
		return nil, err
	}
	return Result(persistLoadNfn, "data", data), nil
}

// PersistChanged implements persist.Subscriber.
func (p *Persist) PersistChanged(ctx context.Context, channel string, data any) {
	err := p.Notify(ctx, Message{KeyNfnType: persistLoadNfn, KeyChannel: channel, "data": data})
	if err != nil {
		p.logger.Debug("persist change not sent", "channel", channel, "error", err)
	}
}

// Close ends the session's subscriptions.
func (p *Persist) Close() {
	p.bus.Unsubscribe(p)
}
