package cmd

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/oru-io/conduct/pkg/dispatcher/lock"
)

// NewExecutionLock builds the execution lease from a URL. "memory" (or an
// empty string) selects the in-process lease; "redis://host:port/db"
// selects the shared one.
func NewExecutionLock(lockURL string) lock.ExecutionLock {
	if lockURL == "" || lockURL == "memory" {
		return lock.NewMemoryLock()
	}

	parsed, err := url.Parse(lockURL)
	if err != nil || parsed.Scheme != "redis" {
		panic("Unsupported execution lock url: " + lockURL)
	}

	password, _ := parsed.User.Password()

	db := 0
	if path := strings.TrimPrefix(parsed.Path, "/"); path != "" {
		db, err = strconv.Atoi(path)
		if err != nil {
			panic("Invalid redis database in lock url: " + lockURL)
		}
	}

	redisLock, err := lock.NewRedisLock(parsed.Host, password, db)
	if err != nil {
		panic(fmt.Errorf("failed to create redis execution lock: %w", err))
	}

	return redisLock
}
