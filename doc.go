// Package semchannels provides content-addressed publish/subscribe channels
// over a named-data interest/response network carried on NATS.
//
// # Model
//
// A channel is identified by an ndn: URI such as ndn:/plant/temperature.
// Publishers assign every message a sequence number and keep it for a
// bounded retention time. Consumers never receive pushes of the data
// itself; they express interest in a name and the owner of that name
// answers:
//
//	ndn:/plant/temperature/<seq>              one message
//	ndn:/plant/temperature/<seq>/<segment>    one chunk of a large message
//
// Two strategies decide how subscribers learn that new sequence numbers
// exist:
//
//   - notification: a single publisher sends a short notification interest
//     per message; subscribers fetch the data by name.
//   - chronosync: any number of publishers exchange state digests; peers
//     that fall behind fetch the missing (publisher, sequence) pairs.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│          cmd/channeld               │  Daemon: config, metrics,
//	│          cmd/chanctl                │  health, heartbeat channels
//	└─────────────────────────────────────┘
//	           ↓ opens
//	┌─────────────────────────────────────┐
//	│      channel.Provider               │  Lifecycle, retention,
//	│  (NotificationChannel, SyncChannel) │  segmentation, delivery
//	└─────────────────────────────────────┘
//	           ↓ expresses / registers
//	┌─────────────────────────────────────┐
//	│         transport.Face              │  natsface over NATS core,
//	│   (natsface, memory)                │  memory hub in tests
//	└─────────────────────────────────────┘
//
// Every channel on a node shares one worker.EventLoop. Responses, subscriber
// callbacks and scheduled closes all run there, never on the NATS delivery
// goroutine.
//
// # Packages
//
//   - name: ndn: name parsing, typed components and subject mapping
//   - segment: splitting payloads into chunks and reassembling them
//   - chronosync: digest tree, history and the sync protocol
//   - channel: the Channel API, Provider and both strategies
//   - transport/natsface, transport/memory: Face implementations
//   - natsclient: NATS connection management, circuit breaker and KV helpers
//   - config: layered YAML/JSON configuration with environment overrides
//   - metric, health: Prometheus metrics and the health endpoint
//   - pkg/...: worker pool and event loop, caches, buffers, futures,
//     retry, timestamps and TLS loading
//
// # Quick Start
//
//	loop := worker.NewEventLoop()
//	_ = loop.Start(ctx)
//
//	provider, _ := channel.NewProvider(natsface.New(client), loop)
//	ch, _ := channel.New[Reading](provider, "ndn:/plant/temperature", channel.JSONCodec[Reading]{})
//
//	opened, _ := ch.Open(ctx)
//	_, _ = opened.Wait(ctx)
//
//	_ = ch.Subscribe(func(r Reading) { fmt.Println(r) })
//	_ = ch.Publish(Reading{Celsius: 21.5})
//
// Close schedules the channel's teardown after its retention time so that
// late consumers can still fetch what was published.
package semchannels
