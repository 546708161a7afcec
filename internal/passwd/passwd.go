// Package passwd resolves the account a spawned process should run as,
// mirroring the original daemon's getpwnam lookup.
package passwd

import (
	"bufio"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"
)

// Account is the subset of a passwd entry the daemon needs to drop
// privileges and set up a process's environment.
type Account struct {
	Name   string
	UID    int
	GID    int
	Groups []int
	Home   string
	Shell  string
}

// Lookup resolves name to an Account. An empty name defaults to "root",
// matching the original daemon's behavior when no user is specified on
// the control socket.
func Lookup(name string) (*Account, error) {
	if name == "" {
		name = "root"
	}

	u, err := user.Lookup(name)
	if err != nil {
		return nil, fmt.Errorf("passwd: lookup %q: %w", name, err)
	}

	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return nil, fmt.Errorf("passwd: bad uid %q for %q: %w", u.Uid, name, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return nil, fmt.Errorf("passwd: bad gid %q for %q: %w", u.Gid, name, err)
	}

	groupIDs, err := u.GroupIds()
	if err != nil {
		return nil, fmt.Errorf("passwd: group ids for %q: %w", name, err)
	}
	groups := make([]int, 0, len(groupIDs))
	for _, g := range groupIDs {
		n, err := strconv.Atoi(g)
		if err != nil {
			continue
		}
		groups = append(groups, n)
	}

	shell, err := shellFor(name)
	if err != nil {
		shell = "/bin/sh"
	}

	return &Account{
		Name:   u.Username,
		UID:    uid,
		GID:    gid,
		Groups: groups,
		Home:   u.HomeDir,
		Shell:  shell,
	}, nil
}

// shellFor returns the login shell field of /etc/passwd for name.
// os/user does not expose this field, so it is read directly; this is the
// one place the daemon reaches past the standard library's user lookup.
func shellFor(name string) (string, error) {
	f, err := os.Open("/etc/passwd")
	if err != nil {
		return "", fmt.Errorf("passwd: open /etc/passwd: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 7 || fields[0] != name {
			continue
		}
		return fields[6], nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("passwd: scan /etc/passwd: %w", err)
	}
	return "", fmt.Errorf("passwd: %q not found in /etc/passwd", name)
}
