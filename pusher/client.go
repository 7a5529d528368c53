package pusher

import (
	"fmt"
	"sync"

	"evcs/internal"
	"evcs/internal/config"
	"evcs/utility"

	"github.com/pusher/pusher-http-go/v5"
)

const (
	featureName = "Pusher"
	queueSize   = 100
)

type triggerer interface {
	Trigger(channel string, eventName string, data interface{}) error
}

// MessagePusher mirrors charging sessions to a pusher channel; it implements EventHandler
type MessagePusher struct {
	client   triggerer
	log      internal.LogHandler
	queue    chan Message
	done     chan struct{}
	stopOnce sync.Once
}

func NewPusher(conf *config.Config, log internal.LogHandler) (*MessagePusher, error) {
	if !conf.Pusher.Enabled {
		return nil, nil
	}
	if conf.Pusher.AppID == "" {
		return nil, utility.Err("missed AppID parameter in Pusher configuration")
	}
	if conf.Pusher.Key == "" {
		return nil, utility.Err("missed Key parameter in Pusher configuration")
	}
	if conf.Pusher.Secret == "" {
		return nil, utility.Err("missed Secret parameter in Pusher configuration")
	}
	client := &pusher.Client{
		AppID:   conf.Pusher.AppID,
		Key:     conf.Pusher.Key,
		Secret:  conf.Pusher.Secret,
		Cluster: conf.Pusher.Cluster,
		Secure:  true,
	}
	return newMessagePusher(client, log), nil
}

func newMessagePusher(client triggerer, log internal.LogHandler) *MessagePusher {
	return &MessagePusher{
		client: client,
		log:    log,
		queue:  make(chan Message, queueSize),
		done:   make(chan struct{}),
	}
}

func (p *MessagePusher) Start() {
	go p.pump()
}

func (p *MessagePusher) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
	})
}

func (p *MessagePusher) pump() {
	for {
		select {
		case <-p.done:
			return
		case msg := <-p.queue:
			if err := p.client.Trigger(string(msg.Channel), string(msg.Event), msg.Data); err != nil {
				p.log.Error(fmt.Sprintf("%s: trigger %s", featureName, msg.Event), err)
			}
		}
	}
}

func (p *MessagePusher) push(event Event, data *TransactionMessage) {
	select {
	case p.queue <- Message{Channel: ActiveTransactions, Event: event, Data: data}:
	default:
		p.log.Warn(fmt.Sprintf("%s: queue is full, %s for %s dropped", featureName, event, data.Key))
	}
}

func (p *MessagePusher) OnTransactionStart(event *internal.EventMessage) {
	p.push(TransactionStart, newTransactionMessage(event))
}

func (p *MessagePusher) OnSessionProgress(event *internal.EventMessage) {
	p.push(TransactionProgress, newTransactionMessage(event))
}

func (p *MessagePusher) OnTransactionStop(event *internal.EventMessage) {
	data := newTransactionMessage(event)
	data.Amount = event.Consumed * event.Price
	data.Finished = true
	p.push(TransactionStop, data)
}

func (p *MessagePusher) OnStationBooted(_ *internal.EventMessage)        {}
func (p *MessagePusher) OnStationFailure(_ *internal.EventMessage)       {}
func (p *MessagePusher) OnConsistencyViolation(_ *internal.EventMessage) {}
