package session

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/MarketLink/internal/pkg/env"
	"github.com/ManuelReschke/MarketLink/internal/pkg/usercontext"
)

const sessionDatabase = 1

// NewSessionStore creates the Redis-backed session store. Sessions live in
// their own database; the cache client uses DB 0.
func NewSessionStore(cfg env.Config) *session.Store {
	port, err := strconv.Atoi(cfg.Cache.Port)
	if err != nil {
		port = 6379
	}

	storage := redis.New(redis.Config{
		Host:     cfg.Cache.Host,
		Port:     port,
		Password: cfg.Cache.Password,
		Database: sessionDatabase,
		Reset:    false,
	})

	return NewStore(cfg, storage)
}

// NewStore builds the session store on any fiber.Storage. Tests pass nil for
// the in-memory default.
func NewStore(cfg env.Config, storage fiber.Storage) *session.Store {
	return session.New(session.Config{
		Storage:        storage,
		CookieHTTPOnly: true,
		CookieSecure:   cfg.IsProduction(),
		CookieSameSite: fiber.CookieSameSiteLaxMode,
		Expiration:     time.Hour * 1,
		KeyLookup:      "cookie:session_id",
	})
}

// Login records the signed-in user. The login page itself lives outside
// this service; it shares the session store.
func Login(store *session.Store, c *fiber.Ctx, userID uint, username string) error {
	sess, err := store.Get(c)
	if err != nil {
		return fmt.Errorf("failed to get session: %v", err)
	}
	if err := sess.Regenerate(); err != nil {
		return fmt.Errorf("failed to regenerate session: %v", err)
	}
	sess.Set(usercontext.KeyUserID, userID)
	sess.Set(usercontext.KeyUsername, username)
	return sess.Save()
}

// CurrentUser reads the signed-in user from the session, if any.
func CurrentUser(store *session.Store, c *fiber.Ctx) (usercontext.UserContext, error) {
	sess, err := store.Get(c)
	if err != nil {
		return usercontext.UserContext{}, fmt.Errorf("failed to get session: %v", err)
	}
	id, ok := sess.Get(usercontext.KeyUserID).(uint)
	if !ok || id == 0 {
		return usercontext.UserContext{}, nil
	}
	name, _ := sess.Get(usercontext.KeyUsername).(string)
	return usercontext.UserContext{UserID: id, Username: name, IsLoggedIn: true}, nil
}
