// Package config loads a channel node's configuration.
//
// Configuration is read from JSON or YAML layers laid over Default, then
// SEMCHANNELS_* environment variables are applied, then the result is
// validated:
//
//	loader := config.NewLoader()
//	loader.AddLayer("/etc/semchannels/channeld.yaml")
//	cfg, err := loader.Load()
//
// A YAML layer looks like:
//
//	node:
//	  id: plant-gw-1
//	nats:
//	  urls: [nats://nats:4222]
//	  peer_bucket: semchannels_peers
//	defaults:
//	  retention: 2s
//	  chunk_size: 8KB
//	channels:
//	  - name: ndn:/plant/line1/temperature
//	    retention: forever
//	    max_entries: 512
//	  - name: ndn:/plant/alarms
//	    strategy: chronosync
//	    publish_interval: 10s
//
// Durations are Go duration strings, day counts ("14d") or "forever" for
// unbounded retention. Sizes use datasize notation ("8KB", "1MB").
//
// Settings(uri) turns the defaults plus the matching channel entry into
// channel.Settings. Validate reports every problem at once as a fatal
// errors.ErrInvalidConfig.
package config
