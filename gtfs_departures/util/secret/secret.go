// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package secret

import (
	"fmt"
	"net/http"
	"os"
	"strings"
)

type MissingEnvironmentKey string

func (k MissingEnvironmentKey) Error() string {
	return fmt.Sprintf("%s environment variable not set", string(k))
}

// FromEnvironment reads a secret from $key, or from the file named by $key_FILE.
func FromEnvironment(key string) (string, error) {
	value := os.Getenv(key)
	path := os.Getenv(key + "_FILE")
	if value == "" && path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		value = string(content)
	}

	value = strings.TrimSpace(value)
	if value == "" {
		return "", MissingEnvironmentKey(key)
	}
	return value, nil
}

// Header builds request headers carrying the secret stored under envKey.
// An empty envKey means the endpoint needs no authentication.
func Header(envKey, headerName string) (http.Header, error) {
	if envKey == "" {
		return nil, nil
	}
	value, err := FromEnvironment(envKey)
	if err != nil {
		return nil, err
	}
	if headerName == "" {
		headerName = "Authorization"
	}
	return http.Header{headerName: {value}}, nil
}
