package eligibility

import (
	"context"
	"sync"

	"github.com/JiscPER/jper-sub000/pkg/models"
)

// Snapshot memoizes register and subscriber reads so one notification's routing sees
// a single consistent view. A Snapshot must not outlive that routing.
type Snapshot struct {
	register    LicenseRegister
	subscribers SubscriberStore

	mu           sync.Mutex
	licenses     map[string][]models.License
	participants map[string][]models.Participant
	byID         map[string]*models.License
	active       map[bool][]models.SubscriberProfile
	profiles     map[string]*models.SubscriberProfile
}

// NewSnapshot creates an empty snapshot over the given stores
func NewSnapshot(register LicenseRegister, subscribers SubscriberStore) *Snapshot {
	return &Snapshot{
		register:     register,
		subscribers:  subscribers,
		licenses:     make(map[string][]models.License),
		participants: make(map[string][]models.Participant),
		byID:         make(map[string]*models.License),
		active:       make(map[bool][]models.SubscriberProfile),
		profiles:     make(map[string]*models.SubscriberProfile),
	}
}

// ActiveLicensesForISSN returns the active licenses covering issn
func (s *Snapshot) ActiveLicensesForISSN(ctx context.Context, issn string) ([]models.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.licenses[issn]; ok {
		return v, nil
	}
	v, err := s.register.ActiveLicensesForISSN(ctx, issn)
	if err != nil {
		return nil, err
	}
	s.licenses[issn] = v
	return v, nil
}

// ActiveParticipantsForLicense returns the active participants of a license
func (s *Snapshot) ActiveParticipantsForLicense(ctx context.Context, licenseID string) ([]models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.participants[licenseID]; ok {
		return v, nil
	}
	v, err := s.register.ActiveParticipantsForLicense(ctx, licenseID)
	if err != nil {
		return nil, err
	}
	s.participants[licenseID] = v
	return v, nil
}

// LicenseByID returns a license by id
func (s *Snapshot) LicenseByID(ctx context.Context, id string) (*models.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.byID[id]; ok {
		return v, nil
	}
	v, err := s.register.LicenseByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.byID[id] = v
	return v, nil
}

// ListActiveSubscribers returns the active subscribers
func (s *Snapshot) ListActiveSubscribers(ctx context.Context, excludeSubjectOnly bool) ([]models.SubscriberProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.active[excludeSubjectOnly]; ok {
		return v, nil
	}
	v, err := s.subscribers.ListActiveSubscribers(ctx, excludeSubjectOnly)
	if err != nil {
		return nil, err
	}
	s.active[excludeSubjectOnly] = v
	for i := range v {
		if _, ok := s.profiles[v[i].ID]; !ok {
			s.profiles[v[i].ID] = &v[i]
		}
	}
	return v, nil
}

// ProfileFor returns a subscriber's profile, preferring the copy already in the snapshot
func (s *Snapshot) ProfileFor(ctx context.Context, subscriberID string) (*models.SubscriberProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.profiles[subscriberID]; ok {
		return v, nil
	}
	v, err := s.subscribers.ProfileFor(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	s.profiles[subscriberID] = v
	return v, nil
}
