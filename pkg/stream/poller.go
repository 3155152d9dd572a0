package stream

import (
	"github.com/plantacq/plantacq/pkg/config"
	"github.com/plantacq/plantacq/pkg/daq"
	"github.com/rs/zerolog/log"
)

// InfoReader is the part of the device link used by InfoPoller.
type InfoReader interface {
	ReadInfo() ([]byte, error)
	IsConnected() bool
}

// InfoPoller polls the info endpoint for channel-ready messages and hands
// the channel index to the collector. A read in flight is never interrupted;
// a stop request takes effect once the current read returns.
type InfoPoller struct {
	*lifecycle

	link  InfoReader
	ready *Queue[int]
	event *Event
}

// NewInfoPoller creates a poller that pushes ready channels onto ready and
// raises event for each one.
func NewInfoPoller(link InfoReader, ready *Queue[int], event *Event) *InfoPoller {
	return &InfoPoller{
		lifecycle: newLifecycle(),
		link:      link,
		ready:     ready,
		event:     event,
	}
}

// Run polls until a stop is requested or the link goes down.
func (p *InfoPoller) Run() {
	defer p.terminate()

	for !p.stopRequested() {
		msg, err := p.link.ReadInfo()
		if err != nil || len(msg) == 0 {
			if !p.link.IsConnected() {
				log.Error().Err(err).Msg("info poller: device not connected, exiting")
				return
			}
			// No channel finished yet.
			continue
		}

		ch, err := daq.ParseInfo(msg, config.MaxChannels)
		if err != nil {
			log.Warn().Err(err).Bytes("message", msg).Msg("info poller: protocol mismatch")
			continue
		}

		log.Debug().Int("channel", ch).Msg("channel ready")
		p.ready.Push(ch)
		p.event.Set()
	}
}

// Stop asks the poller to exit after its current read.
func (p *InfoPoller) Stop() {
	log.Debug().Msg("stopping the info poller")
	p.requestStop()
}

// Done is closed once the poller has terminated.
func (p *InfoPoller) Done() <-chan struct{} {
	return p.done
}
