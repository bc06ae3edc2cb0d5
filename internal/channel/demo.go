package channel

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"parley/internal/event"
)

// Demo mode substitutes the websocket channel with an in-process simulator.
// Every text message gets exactly one reply from the Operator after a
// randomized delay; call invites are accepted so the call flow can be
// exercised offline. Nothing ever leaves the process.

const (
	// DemoOperator is the canned remote identity.
	DemoOperator = "Operator"

	demoReplyMinDelay = 600 * time.Millisecond
	demoReplyMaxDelay = 1800 * time.Millisecond
)

var demoReplies = []string{
	"Copy that.",
	"Interesting. Tell me more.",
	"The uplink looks stable from here.",
	"Noted. Anything else?",
	"That matches what I see on my end.",
	"Acknowledged.",
}

// Demo is an EventChannel that never touches the network.
type Demo struct {
	mu       sync.Mutex
	handlers Handlers
	closed   bool
	replyIdx int

	// delay is swapped out by tests to make replies immediate.
	delay func() time.Duration

	queue   chan event.Envelope
	done    chan struct{}
	stopped chan struct{}
}

// NewDemo creates a connected simulator. OnConnect fires from the dispatch
// goroutine shortly after construction, mirroring a real dial.
func NewDemo(h Handlers) *Demo {
	d := &Demo{
		handlers: h,
		delay:    randomReplyDelay,
		queue:    make(chan event.Envelope, 16),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go d.run()
	return d
}

func randomReplyDelay() time.Duration {
	spread := demoReplyMaxDelay - demoReplyMinDelay
	return demoReplyMinDelay + time.Duration(rand.Int63n(int64(spread)))
}

func (d *Demo) run() {
	defer close(d.stopped)
	d.callConnect()
	for {
		select {
		case <-d.done:
			return
		case env := <-d.queue:
			d.callEvent(env)
		}
	}
}

// Emit accepts the outbound event and, where the simulator has a scripted
// response, schedules it on the dispatch queue after the reply delay.
func (d *Demo) Emit(env event.Envelope) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errChannelClosed
	}
	wait := d.delay()
	d.mu.Unlock()

	payload, err := env.Decode()
	if err != nil {
		return err
	}

	switch p := payload.(type) {
	case *event.Message:
		if strings.TrimSpace(p.Text) == "" {
			return nil
		}
		reply := event.Message{
			ID:          uuid.NewString(),
			User:        DemoOperator,
			DisplayName: DemoOperator,
			Text:        d.nextReply(),
			ChatID:      p.ChatID,
			Timestamp:   time.Now().UnixMilli(),
			MessageType: "text",
		}
		d.schedule(wait, event.New(event.KindMessage, &reply))
	case *event.CallSignal:
		if env.Kind != event.KindCallInvite {
			return nil
		}
		accept := event.CallSignal{CallID: p.CallID, From: DemoOperator, DisplayName: DemoOperator, Mode: p.Mode}
		joined := event.Participant{CallID: p.CallID, UserID: DemoOperator, DisplayName: DemoOperator, StreamID: "demo-stream"}
		d.schedule(wait, event.New(event.KindCallAccept, &accept))
		d.schedule(wait+200*time.Millisecond, event.New(event.KindParticipantJoin, &joined))
	}
	return nil
}

// Close stops the simulator; pending replies are dropped.
func (d *Demo) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.handlers = Handlers{}
	d.mu.Unlock()
	close(d.done)
	<-d.stopped
}

func (d *Demo) nextReply() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	reply := demoReplies[d.replyIdx%len(demoReplies)]
	d.replyIdx++
	return reply
}

func (d *Demo) schedule(wait time.Duration, env event.Envelope) {
	time.AfterFunc(wait, func() {
		select {
		case d.queue <- env:
		case <-d.done:
		}
	})
}

func (d *Demo) callConnect() {
	d.mu.Lock()
	fn := d.handlers.OnConnect
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (d *Demo) callEvent(env event.Envelope) {
	d.mu.Lock()
	fn := d.handlers.OnEvent
	d.mu.Unlock()
	if fn != nil {
		fn(env)
	}
}
