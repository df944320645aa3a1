package hub

import (
	"log"
	"sync"

	apperrors "github.com/covaulthq/covault/internal/platform/errors"
	"github.com/covaulthq/covault/internal/protocol"
)

const defaultQueueSize = 64

// Sink is the transport half of a connection. Implementations serialize an
// envelope onto the wire; they do not need to be concurrency-safe because all
// writes funnel through the peer's writer goroutine.
type Sink interface {
	WriteEnvelope(protocol.Envelope) error
	Close() error
}

// Peer is one live connection with a bounded outbound queue. A dedicated
// writer goroutine drains the queue so a slow consumer never blocks the
// broadcast path; when the queue is full the connection is closed instead.
type Peer struct {
	UserID string

	sink  Sink
	queue chan protocol.Envelope

	closeOnce sync.Once
	done      chan struct{}

	mu     sync.Mutex
	reason error
}

// NewPeer starts the writer goroutine for the sink. queueSize <= 0 picks the
// default bound.
func NewPeer(userID string, sink Sink, queueSize int) *Peer {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	p := &Peer{
		UserID: userID,
		sink:   sink,
		queue:  make(chan protocol.Envelope, queueSize),
		done:   make(chan struct{}),
	}
	go p.writeLoop()
	return p
}

func (p *Peer) writeLoop() {
	for {
		select {
		case <-p.done:
			return
		case env := <-p.queue:
			if err := p.sink.WriteEnvelope(env); err != nil {
				p.close(apperrors.Wrap(apperrors.CodeConnClosed, "write to connection", err))
				return
			}
		}
	}
}

// Send queues an envelope for delivery. A full queue closes the connection
// with CONN_QUEUE_OVERFLOW and reports the overflow to the caller.
func (p *Peer) Send(env protocol.Envelope) error {
	select {
	case <-p.done:
		return p.CloseReason()
	default:
	}
	select {
	case p.queue <- env:
		return nil
	default:
		err := apperrors.New(apperrors.CodeConnQueueOverflow, "outbound queue overflow")
		log.Printf("hub: closing connection for user %s: outbound queue overflow", p.UserID)
		p.close(err)
		return err
	}
}

// Close shuts the connection down. Safe to call more than once.
func (p *Peer) Close() {
	p.close(apperrors.New(apperrors.CodeConnClosed, "connection closed"))
}

func (p *Peer) close(reason error) {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.reason = reason
		p.mu.Unlock()
		close(p.done)
		_ = p.sink.Close()
	})
}

// Done is closed once the peer shuts down for any reason.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// CloseReason reports why the peer shut down, or nil while it is still live.
func (p *Peer) CloseReason() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reason
}
