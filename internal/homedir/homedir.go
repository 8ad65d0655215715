package homedir

import (
	"os"
	"os/user"
)

// Get returns the current user's home directory, or "." when it
// cannot be determined.
func Get() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	usr, err := user.Current()
	if err != nil {
		return "."
	}
	return usr.HomeDir
}
