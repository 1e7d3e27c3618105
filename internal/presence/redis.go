package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tenantpbx/tenantpbx/internal/database/models"
)

// DefaultKeyPrefix namespaces every key written by the Redis registrar.
const DefaultKeyPrefix = "tenantpbx:reg:"

// registerScript stores or removes one contact's expiry, then stretches the
// hash TTL to the latest remaining expiry. A hash left with nothing live is
// deleted.
var registerScript = redis.NewScript(`
-- KEYS[1] = registrations hash for one tenant user
-- ARGV[1] = field (domain|contact)
-- ARGV[2] = expiry, unix ms
-- ARGV[3] = now, unix ms
local now = tonumber(ARGV[3])
if tonumber(ARGV[2]) <= now then
  redis.call('HDEL', KEYS[1], ARGV[1])
else
  redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
end
local latest = 0
for _, v in ipairs(redis.call('HVALS', KEYS[1])) do
  local n = tonumber(v)
  if n and n > latest then
    latest = n
  end
end
if latest > now then
  redis.call('PEXPIREAT', KEYS[1], latest)
else
  redis.call('DEL', KEYS[1])
end
return 1
`)

// RedisClient is the subset of the go-redis client the registrar uses.
type RedisClient interface {
	redis.Scripter
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

// RedisRegistrar keeps registrations in Redis hashes, one per tenant user,
// with a field per (domain, contact) holding its expiry.
type RedisRegistrar struct {
	client RedisClient
	prefix string
	now    func() time.Time
}

// NewRedisRegistrar creates a Redis-backed registrar.
func NewRedisRegistrar(client RedisClient, prefix string) *RedisRegistrar {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisRegistrar{client: client, prefix: prefix, now: time.Now}
}

// Register records or refreshes a registration. An expiry at or before now
// removes the contact.
func (r *RedisRegistrar) Register(ctx context.Context, reg *models.Registration) error {
	if reg.Tenant == "" {
		return errors.New("tenant id required")
	}
	field := fieldFor(reg.Domain, reg.ContactURI)
	err := registerScript.Run(ctx, r.client, []string{r.key(reg.Tenant, reg.User)},
		field, reg.Expires.UnixMilli(), r.now().UnixMilli()).Err()
	if err != nil {
		return fmt.Errorf("storing registration: %w", err)
	}
	return nil
}

// IsRegistered reports whether user has an unexpired contact, optionally
// limited to one domain.
func (r *RedisRegistrar) IsRegistered(ctx context.Context, tenant, user, domain string) (bool, error) {
	if tenant == "" {
		return false, errors.New("tenant id required")
	}
	fields, err := r.client.HGetAll(ctx, r.key(tenant, user)).Result()
	if err != nil {
		return false, fmt.Errorf("reading registrations: %w", err)
	}
	return anyActive(fields, domain, r.now()), nil
}

func (r *RedisRegistrar) key(tenant, user string) string {
	return r.prefix + tenant + ":" + user
}

func fieldFor(domain, contact string) string {
	return strings.ToLower(strings.TrimSpace(domain)) + "|" + contact
}

// anyActive reports whether any field is unexpired at now. An empty domain
// accepts every field.
func anyActive(fields map[string]string, domain string, now time.Time) bool {
	domain = strings.ToLower(strings.TrimSpace(domain))
	for field, value := range fields {
		if domain != "" {
			d, _, _ := strings.Cut(field, "|")
			if d != domain {
				continue
			}
		}
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		if ms > now.UnixMilli() {
			return true
		}
	}
	return false
}
