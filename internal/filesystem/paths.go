// Package filesystem resolves per-user download paths and checks disk space.
package filesystem

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultHomeTemplate is where each user's downloads live. {user} is replaced
// by the sanitized user name.
const DefaultHomeTemplate = "/home/{user}/downloads"

const userPlaceholder = "{user}"

var (
	ErrInvalidUser = errors.New("invalid user name")
	ErrInvalidName = errors.New("invalid job name")
)

// SanitizeUser truncates a user name at the first shell metacharacter or path
// separator and trims it.
func SanitizeUser(user string) (string, error) {
	if i := strings.IndexAny(user, "&><;|/\\"); i >= 0 {
		user = user[:i]
	}
	user = strings.TrimSpace(user)
	if user == "" || user == "." || user == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidUser, user)
	}
	return user, nil
}

// SanitizeName makes a job name safe to join under a download root. Path
// separators and NUL bytes are removed so the result is a single element.
func SanitizeName(name string) (string, error) {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return name, nil
}

// Layout maps users to their download roots.
type Layout struct {
	template string
}

// NewLayout creates a layout from a home template containing {user}.
func NewLayout(template string) *Layout {
	if template == "" {
		template = DefaultHomeTemplate
	}
	return &Layout{template: template}
}

// DownloadRoot returns the download directory for user.
func (l *Layout) DownloadRoot(user string) (string, error) {
	clean, err := SanitizeUser(user)
	if err != nil {
		return "", err
	}
	return filepath.Clean(strings.ReplaceAll(l.template, userPlaceholder, clean)), nil
}

// SourcePath returns the path of a job's data under the user's download root.
func (l *Layout) SourcePath(user, jobName string) (string, error) {
	root, err := l.DownloadRoot(user)
	if err != nil {
		return "", err
	}
	name, err := SanitizeName(jobName)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, name), nil
}
