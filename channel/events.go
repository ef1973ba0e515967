package channel

import "github.com/c360/semchannels/metric"

// RequestKind tells how a responder resolved a request.
type RequestKind string

// Request kinds.
const (
	RequestExplicit RequestKind = "explicit"
	RequestLatest   RequestKind = "latest"
	RequestEarliest RequestKind = "earliest"
	RequestProduced RequestKind = "produced"
)

// RequestObserver receives responder side-channel events. Implementations
// must be safe for concurrent use and must not block.
type RequestObserver interface {
	MessageRequested(channel string, id uint64, kind RequestKind)
	MessageSent(channel string, id uint64, bytes int)
}

type metricsObserver struct {
	m *metric.Metrics
}

// NewMetricsObserver returns an observer feeding the channel request metrics.
func NewMetricsObserver(m *metric.Metrics) RequestObserver {
	return metricsObserver{m: m}
}

func (o metricsObserver) MessageRequested(channel string, _ uint64, kind RequestKind) {
	o.m.RecordRequest(channel, string(kind))
}

func (o metricsObserver) MessageSent(channel string, _ uint64, bytes int) {
	o.m.RecordResponseBytes(channel, bytes)
}

type observers []RequestObserver

func (os observers) MessageRequested(channel string, id uint64, kind RequestKind) {
	for _, o := range os {
		o.MessageRequested(channel, id, kind)
	}
}

func (os observers) MessageSent(channel string, id uint64, bytes int) {
	for _, o := range os {
		o.MessageSent(channel, id, bytes)
	}
}
