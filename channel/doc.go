// Package channel implements content-addressed publish/subscribe channels
// over a named-data transport.
//
// A channel is a name such as ndn:/plant/line1/temperature. Publishing stores
// a message in a bounded, expiring retention cache under the next sequence id
// and announces it; subscribers fetch announced messages by name and the
// publisher answers from its cache. Nothing is pushed: a message no longer
// retained simply gets no answer, and the requester's own timeout is the only
// signal.
//
// # Strategies
//
// NotificationChannel allows one publisher per name. It owns <name>, answers
// data requests under <name>/data and announces each id with a response-less
// request on <name>/update/<id>.
//
// SyncChannel allows any number of publishers. Each handle picks a random
// publisher id; a chronosync group under /bcast replicates the latest id of
// every publisher, and subscribers fetch <name>/<id>/<publisher> from the
// originating handle.
//
// # Usage
//
//	loop := worker.NewEventLoop()
//	_ = loop.Start(ctx)
//	provider, err := channel.NewProvider(face, loop, channel.WithLogger(logger))
//
//	ch, err := channel.New[Reading](provider, "ndn:/plant/line1/temperature", channel.JSONCodec[Reading]{})
//	opened, err := ch.Open(ctx)
//	if _, err := opened.Wait(ctx); err != nil {
//	    return err
//	}
//	_ = ch.Subscribe(func(r Reading) { ... })
//	_ = ch.Publish(Reading{Celsius: 21.5})
//
// # Closing
//
// Close on a channel that still retains messages leaves it in
// StateCloseScheduled: it keeps answering until the last retained message
// expires and then deregisters. Subscribers that saw an announcement can still
// fetch the message. A closed handle cannot be reopened; ask the Provider for
// a new one. Provider.Close skips the drain.
//
// # Errors
//
// Lifecycle misuse returns an errors.IsInvalid error synchronously. Transport
// failures (registration, timeouts) reach callers through the returned futures
// as errors.IsTransient errors. Undecodable messages fail direct fetches with
// errors.ErrDecodeFailed and are skipped, with a log line, for subscribers.
package channel
