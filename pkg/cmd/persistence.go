package cmd

import (
	"strings"

	"github.com/oru-io/conduct/pkg/persistence"
	"github.com/oru-io/conduct/pkg/persistence/file"
)

var supportedPersistenceProviders = []string{"file"}

func NewPersistence(databaseURL string) persistence.Persistence {
	provider, rest := parsePersistenceProvider(databaseURL)

	switch provider {
	default:
		return file.NewPersistence(rest)
	}
}

func parsePersistenceProvider(databaseURL string) (string, string) {
	provider, rest, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file", databaseURL
	}

	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider, rest
		}
	}

	return "file", rest
}
