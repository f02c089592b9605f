package openai

import (
	"log"
	"os"
	"time"
)

const (
	// EnvElfaiMode is the environment variable name for mode selection.
	EnvElfaiMode = "ELFAI_MODE"
	// ModeMock indicates mock mode should be used.
	ModeMock = "MOCK"
)

// NewStreamOpener creates a transport based on the ELFAI_MODE environment
// variable. If ELFAI_MODE=MOCK, returns a MockTransport that synthesizes
// completions locally; otherwise returns a real Client.
func NewStreamOpener(baseURL string, credential CredentialFunc, timeout time.Duration) StreamOpener {
	if os.Getenv(EnvElfaiMode) == ModeMock {
		log.Println("ELFAI_MODE=MOCK detected, using mock transport")
		return NewMockTransport()
	}

	return NewClient(baseURL, credential, timeout)
}
