package envelope

import (
	"context"
	"fmt"

	"github.com/agentworkforce/hubrelay/internal/hubspot"
	"github.com/agentworkforce/hubrelay/internal/journal"
)

// Destination is the engine surface a processor delivers into.
type Destination interface {
	Track(ctx context.Context, msg hubspot.TrackMessage) error
	Identify(ctx context.Context, msg hubspot.IdentifyMessage) error
}

type Logger interface {
	Printf(format string, args ...any)
}

// Processor parses, delivers and journals envelopes. Both the spool drainer
// and the live feed deliver through the same processor, so validation and
// journaling behave identically on either path.
type Processor struct {
	destination Destination
	journal     journal.Journal
	logger      Logger
}

func NewProcessor(destination Destination, deliveryJournal journal.Journal, logger Logger) (*Processor, error) {
	if destination == nil {
		return nil, fmt.Errorf("destination is required")
	}
	return &Processor{
		destination: destination,
		journal:     deliveryJournal,
		logger:      logger,
	}, nil
}

// Process handles one raw envelope end to end. The returned error reflects
// parse or delivery failure; journal write failures are logged, not fatal.
func (p *Processor) Process(ctx context.Context, data []byte) (Envelope, error) {
	env, err := Parse(data)
	if err != nil {
		p.Reject(ctx, env, err)
		return env, err
	}
	return env, p.Deliver(ctx, env)
}

// Deliver routes a parsed envelope into the destination and journals the
// outcome.
func (p *Processor) Deliver(ctx context.Context, env Envelope) error {
	var deliverErr error
	switch env.Kind {
	case KindTrack:
		deliverErr = p.destination.Track(ctx, env.Message)
	case KindIdentify:
		deliverErr = p.destination.Identify(ctx, env.Message)
	default:
		deliverErr = fmt.Errorf("unsupported envelope type %q", env.Kind)
	}

	entry := journal.Entry{
		EnvelopeID: env.ID,
		Kind:       env.Kind,
		Email:      env.Message.Email(),
		Status:     journal.StatusDelivered,
	}
	if deliverErr != nil {
		entry.Status = journal.StatusFailed
		entry.Error = deliverErr.Error()
	}
	p.record(ctx, entry)
	return deliverErr
}

// Reject journals an envelope that never made it to delivery.
func (p *Processor) Reject(ctx context.Context, env Envelope, cause error) {
	p.record(ctx, journal.Entry{
		EnvelopeID: env.ID,
		Kind:       env.Kind,
		Email:      env.Message.Email(),
		Status:     journal.StatusFailed,
		Error:      cause.Error(),
	})
}

func (p *Processor) record(ctx context.Context, entry journal.Entry) {
	if p.journal == nil {
		return
	}
	if err := p.journal.Record(ctx, entry); err != nil {
		p.logf("journal write failed for envelope %s: %v", entry.EnvelopeID, err)
	}
}

func (p *Processor) logf(format string, args ...any) {
	if p.logger == nil {
		return
	}
	p.logger.Printf(format, args...)
}
