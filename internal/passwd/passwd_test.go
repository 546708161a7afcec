package passwd

import (
	"os"
	"os/user"
	"testing"
)

func TestLookupCurrentUser(t *testing.T) {
	cur, err := user.Current()
	if err != nil {
		t.Skipf("os/user.Current unavailable: %v", err)
	}

	acct, err := Lookup(cur.Username)
	if err != nil {
		t.Fatalf("Lookup(%q): %v", cur.Username, err)
	}
	if acct.Name != cur.Username {
		t.Fatalf("Name = %q, want %q", acct.Name, cur.Username)
	}
	if acct.Home != cur.HomeDir {
		t.Fatalf("Home = %q, want %q", acct.Home, cur.HomeDir)
	}
}

func TestLookupEmptyDefaultsToRoot(t *testing.T) {
	if os.Getuid() != 0 {
		if _, err := user.Lookup("root"); err != nil {
			t.Skip("root account not resolvable in this environment")
		}
	}

	acct, err := Lookup("")
	if err != nil {
		t.Fatalf("Lookup(\"\"): %v", err)
	}
	if acct.Name != "root" {
		t.Fatalf("Name = %q, want root", acct.Name)
	}
	if acct.UID != 0 {
		t.Fatalf("UID = %d, want 0", acct.UID)
	}
}

func TestLookupUnknownUser(t *testing.T) {
	if _, err := Lookup("no-such-user-xyz123"); err == nil {
		t.Fatalf("expected error for unknown user")
	}
}

func TestShellForFallsBackOnMissingEntry(t *testing.T) {
	if _, err := shellFor("no-such-user-xyz123"); err == nil {
		t.Fatalf("expected error for missing /etc/passwd entry")
	}
}
