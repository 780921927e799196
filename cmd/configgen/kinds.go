package main

import (
	"fmt"

	"github.com/danmuck/edgerpc/internal/config"
)

func defaultPath(kind string) (string, error) {
	switch kind {
	case "server":
		return "cmd/edgerpcd/config.toml", nil
	case "client":
		return "cmd/edgerpcctl/config.toml", nil
	default:
		return "", fmt.Errorf("unknown kind: %s", kind)
	}
}

func validateFile(kind, path string) error {
	switch kind {
	case "server":
		_, err := config.LoadServerConfig(path)
		return err
	case "client":
		_, err := config.LoadClientConfig(path)
		return err
	default:
		return fmt.Errorf("unknown kind: %s", kind)
	}
}
