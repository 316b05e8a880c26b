package term

import (
	"os"
	"os/user"
	"testing"
)

func TestCurrentUsernameDoesNotRequireEnv(t *testing.T) {
	// The ownership filter must work under launchd/systemd services
	// where $USER is unset.
	t.Setenv("USER", "")

	u, err := user.Current()
	if err != nil || u.Username == "" {
		t.Skip("no passwd database available")
	}
	if got := currentUsername(); got != u.Username {
		t.Errorf("expected %q from the passwd database, got %q", u.Username, got)
	}
}

func TestIsAliveSelf(t *testing.T) {
	if !isAlive(os.Getpid()) {
		t.Error("own pid must be alive")
	}
}
