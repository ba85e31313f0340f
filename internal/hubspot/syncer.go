package hubspot

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type SyncerOptions struct {
	Settings Settings
	Contacts ContactClient
	Events   EventClient
	Cache    *SchemaCache
	Logger   Logger

	// LegacyUpsert selects lookup-then-create/update for identifies without
	// a lifecycle stage, instead of the idempotent createOrUpdate endpoint.
	LegacyUpsert bool
}

// Syncer ties contact lookup, trait normalization, lifecycle resolution and
// the create/update calls together. Each Track or Identify call is an
// independent unit of work; callers needing per-contact ordering must
// serialize externally.
type Syncer struct {
	settings     Settings
	contacts     ContactClient
	events       EventClient
	cache        *SchemaCache
	logger       Logger
	legacyUpsert bool
}

func NewSyncer(opts SyncerOptions) (*Syncer, error) {
	if opts.Contacts == nil {
		return nil, fmt.Errorf("contact client is required: %w", ErrInvalidInput)
	}
	if err := opts.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	cache := opts.Cache
	if cache == nil {
		cache = NewSchemaCache(opts.Contacts, SchemaCacheOptions{})
	}
	return &Syncer{
		settings:     opts.Settings,
		contacts:     opts.Contacts,
		events:       opts.Events,
		cache:        cache,
		logger:       opts.Logger,
		legacyUpsert: opts.LegacyUpsert,
	}, nil
}

// Track sends one event to the remote events endpoint. The profile traits
// riding on the event are normalized and merged into the same payload; no
// contact lookup happens on this path.
func (s *Syncer) Track(ctx context.Context, msg TrackMessage) error {
	email := strings.TrimSpace(msg.Email())
	if email == "" {
		return fmt.Errorf("track: message email is required: %w", ErrInvalidInput)
	}
	if s.events == nil {
		return fmt.Errorf("track: no event client configured: %w", ErrInvalidInput)
	}
	params := MapTrack(msg, s.settings)
	properties, err := s.FilterProperties(ctx, msg.Traits())
	if err != nil {
		return err
	}
	for _, property := range properties {
		params.Set(property.Property, property.Value)
	}
	return s.events.SendEvent(ctx, params)
}

// Identify creates or updates the contact for the profile's email. When the
// mapped profile carries a recognized lifecycle stage the write goes through
// the lifecycle resolution plan; otherwise it goes straight to the idempotent
// createOrUpdate endpoint (or the legacy lookup path when configured).
func (s *Syncer) Identify(ctx context.Context, msg IdentifyMessage) error {
	email := strings.TrimSpace(msg.Email())
	if email == "" {
		return fmt.Errorf("identify: profile email is required: %w", ErrInvalidInput)
	}
	properties, err := s.FilterProperties(ctx, MapIdentify(msg))
	if err != nil {
		return err
	}
	stage, recognized := lifecycleStageOf(properties)
	if recognized {
		return s.identifyWithLifecycle(ctx, email, stage, properties)
	}
	if s.legacyUpsert {
		return s.legacyIdentify(ctx, email, properties)
	}
	return s.contacts.UpsertContact(ctx, s.settings.APIKey, email, properties)
}

// FilterProperties normalizes a raw trait map against the cached remote
// schema. An empty input returns an empty list without consulting the cache.
func (s *Syncer) FilterProperties(ctx context.Context, traits map[string]any) ([]Property, error) {
	if len(traits) == 0 {
		return nil, nil
	}
	definitions, err := s.cache.Ensure(ctx, s.settings.APIKey)
	if err != nil {
		return nil, err
	}
	return Normalize(traits, definitions), nil
}

func (s *Syncer) identifyWithLifecycle(ctx context.Context, email, stage string, properties []Property) error {
	contact, err := s.contacts.GetContactByEmail(ctx, s.settings.APIKey, email)
	if err != nil {
		return err
	}
	steps := PlanWrites(stage, contact, properties)
	if len(steps) > 1 {
		s.logf("clearing lifecycle stage for %s before writing %s", email, stage)
	}
	for _, step := range steps {
		if step.Create {
			if err := s.createContact(ctx, email, step.Properties); err != nil {
				return err
			}
			continue
		}
		if err := s.contacts.UpdateContact(ctx, s.settings.APIKey, contact.Vid, step.Properties); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) legacyIdentify(ctx context.Context, email string, properties []Property) error {
	contact, err := s.contacts.GetContactByEmail(ctx, s.settings.APIKey, email)
	if err != nil {
		return err
	}
	if contact != nil {
		return s.contacts.UpdateContact(ctx, s.settings.APIKey, contact.Vid, properties)
	}
	return s.createContact(ctx, email, properties)
}

// createContact creates a contact and recovers locally from a creation race:
// a conflict means an interleaved request already created the contact, so the
// write is retried as an update against the reported vid.
func (s *Syncer) createContact(ctx context.Context, email string, properties []Property) error {
	_, err := s.contacts.CreateContact(ctx, s.settings.APIKey, properties)
	if err == nil {
		return nil
	}
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		return err
	}
	s.logf("contact %s already exists as vid %d; updating instead", email, conflict.Vid)
	return s.contacts.UpdateContact(ctx, s.settings.APIKey, conflict.Vid, properties)
}

func (s *Syncer) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
