package tokens

import (
	"fmt"
	"time"

	"github.com/go-redis/redis"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const tokenPrefix = "EphemeralToken:"

// Scope is a minted credential bound to one resource of one user
type Scope struct {
	Token     string
	Scope     string
	ExpiresAt time.Time
}

// Service mints scoped, time-bounded credentials
type Service interface {
	ScopeFor(userID int64, kind string, id int64) (*Scope, error)
}

// ScopeName returns the "<user_id>:<kind>:<id>" scope string
func ScopeName(userID int64, kind string, id int64) string {
	return fmt.Sprintf("%d:%s:%d", userID, kind, id)
}

// RedisEphemeralTokens stores minted tokens in redis until their TTL expires
type RedisEphemeralTokens struct {
	Db  *redis.Client
	TTL time.Duration
}

func NewRedisEphemeralTokens(db *redis.Client, ttl time.Duration) *RedisEphemeralTokens {
	return &RedisEphemeralTokens{Db: db, TTL: ttl}
}

func (r *RedisEphemeralTokens) ScopeFor(userID int64, kind string, id int64) (*Scope, error) {
	token, err := uuid.NewRandom()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate token")
	}

	scope := &Scope{
		Token:     token.String(),
		Scope:     ScopeName(userID, kind, id),
		ExpiresAt: time.Now().Add(r.TTL),
	}
	if err := r.Db.Set(tokenPrefix+scope.Token, scope.Scope, r.TTL).Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to store token for scope %s", scope.Scope)
	}
	return scope, nil
}

// Lookup returns the scope a live token was minted for
func (r *RedisEphemeralTokens) Lookup(token string) (string, error) {
	scope, err := r.Db.Get(tokenPrefix + token).Result()
	if err == redis.Nil {
		return "", errors.Errorf("token %s is unknown or expired", token)
	}
	if err != nil {
		return "", errors.WithStack(err)
	}
	return scope, nil
}
