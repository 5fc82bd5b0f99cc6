package redis

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/JiscPER/jper-sub000/pkg/eligibility"
	"github.com/JiscPER/jper-sub000/pkg/metrics"
	"github.com/JiscPER/jper-sub000/pkg/models"
	"github.com/JiscPER/jper-sub000/pkg/normalizers"
	"github.com/JiscPER/jper-sub000/pkg/tracing"
)

// DefaultRegisterTTL bounds how stale a cached register lookup may be
const DefaultRegisterTTL = 5 * time.Minute

// RegisterCache is a read-through Redis cache in front of the license register.
// Cache failures fall back to the register and are never returned to callers.
type RegisterCache struct {
	client   *Client
	register eligibility.LicenseRegister
	ttl      time.Duration
	logger   ectologger.Logger
}

// NewRegisterCache wraps register with a Redis cache
func NewRegisterCache(client *Client, register eligibility.LicenseRegister, ttl time.Duration, logger ectologger.Logger) *RegisterCache {
	if ttl <= 0 {
		ttl = DefaultRegisterTTL
	}
	return &RegisterCache{
		client:   client,
		register: register,
		ttl:      ttl,
		logger:   logger,
	}
}

// ActiveLicensesForISSN implements eligibility.LicenseRegister
func (c *RegisterCache) ActiveLicensesForISSN(ctx context.Context, issn string) ([]models.License, error) {
	ctx, span := tracing.StartSpan(ctx, "redis.RegisterCache.ActiveLicensesForISSN")
	defer span.End()

	key := c.client.Key("register", "issn", normalizers.ISSN(issn))
	var out []models.License
	if c.load(ctx, "issn", key, &out) {
		return out, nil
	}

	out, err := c.register.ActiveLicensesForISSN(ctx, issn)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, out)
	return out, nil
}

// ActiveParticipantsForLicense implements eligibility.LicenseRegister
func (c *RegisterCache) ActiveParticipantsForLicense(ctx context.Context, licenseID string) ([]models.Participant, error) {
	ctx, span := tracing.StartSpan(ctx, "redis.RegisterCache.ActiveParticipantsForLicense")
	defer span.End()

	key := c.client.Key("register", "participants", licenseID)
	var out []models.Participant
	if c.load(ctx, "participants", key, &out) {
		return out, nil
	}

	out, err := c.register.ActiveParticipantsForLicense(ctx, licenseID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, out)
	return out, nil
}

// LicenseByID implements eligibility.LicenseRegister. Missing licenses are not cached.
func (c *RegisterCache) LicenseByID(ctx context.Context, id string) (*models.License, error) {
	ctx, span := tracing.StartSpan(ctx, "redis.RegisterCache.LicenseByID")
	defer span.End()

	key := c.client.Key("register", "license", id)
	var out models.License
	if c.load(ctx, "license", key, &out) {
		return &out, nil
	}

	l, err := c.register.LicenseByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if l != nil {
		c.store(ctx, key, l)
	}
	return l, nil
}

// Invalidate drops cached entries for a license and the given ISSNs, used after register writes
func (c *RegisterCache) Invalidate(ctx context.Context, licenseID string, issns ...string) error {
	keys := []string{
		c.client.Key("register", "license", licenseID),
		c.client.Key("register", "participants", licenseID),
	}
	for _, issn := range issns {
		if n := normalizers.ISSN(issn); n != "" {
			keys = append(keys, c.client.Key("register", "issn", n))
		}
	}
	return c.client.Del(ctx, keys...)
}

func (c *RegisterCache) load(ctx context.Context, kind, key string, dest any) bool {
	found, err := c.client.GetJSON(ctx, key, dest)
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).Warnf("Register cache read failed: %s", key)
	}
	metrics.RecordRegisterCache(kind, found)
	return found
}

func (c *RegisterCache) store(ctx context.Context, key string, value any) {
	if err := c.client.SetJSON(ctx, key, value, c.ttl); err != nil {
		c.logger.WithContext(ctx).WithError(err).Warnf("Register cache write failed: %s", key)
	}
}
