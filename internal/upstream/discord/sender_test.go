package discord

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestRestError(t *testing.T) {
	re := &discordgo.RESTError{
		Response: &http.Response{Status: "429 Too Many Requests"},
		Message:  &discordgo.APIErrorMessage{Message: "You are being rate limited."},
	}
	if got := restError(fmt.Errorf("interaction post: %w", re)); got != "You are being rate limited." {
		t.Errorf("wrapped REST error: got %q", got)
	}

	plain := errors.New("dial tcp: connection refused")
	if got := restError(plain); got != plain.Error() {
		t.Errorf("plain error: got %q", got)
	}

	// A REST error whose body did not decode falls back to the raw error text.
	bare := &discordgo.RESTError{Response: &http.Response{Status: "502 Bad Gateway"}}
	if got := restError(bare); got != bare.Error() {
		t.Errorf("bodyless REST error: got %q", got)
	}
}
