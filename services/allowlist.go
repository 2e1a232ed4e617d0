package services

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"
	"sync/atomic"
	"time"
)

var (
	// ErrMissingEmail is returned when no email was provided at all.
	ErrMissingEmail = errors.New("missing email")
	// ErrEmailNotAllowed is returned for emails outside the allowed domains.
	ErrEmailNotAllowed = errors.New("email address not allowed")
)

// EmailAllowlist validates login emails against a configured pattern and an
// optional domain file. The file set is hot-reloadable so operators can widen
// or narrow access without a restart, mirroring how the admin allowlist
// behaves elsewhere in the deployment.
type EmailAllowlist struct {
	pattern  *regexp.Regexp
	filePath string
	domains  atomic.Value // holds map[string]struct{}
}

// NewEmailAllowlist compiles the pattern and loads the optional domain file.
func NewEmailAllowlist(pattern, filePath string) (*EmailAllowlist, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling allowed email pattern: %w", err)
	}
	a := &EmailAllowlist{pattern: re, filePath: filePath}
	a.domains.Store(loadDomainFile(filePath))
	return a, nil
}

// Validate checks an email from a login request. An empty file set means the
// pattern alone decides.
func (a *EmailAllowlist) Validate(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ErrMissingEmail
	}
	if !a.pattern.MatchString(email) {
		return fmt.Errorf("%w: %s", ErrEmailNotAllowed, email)
	}

	domains := a.domains.Load().(map[string]struct{})
	if len(domains) == 0 {
		return nil
	}
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return fmt.Errorf("%w: %s", ErrEmailNotAllowed, email)
	}
	domain := strings.ToLower(email[at+1:])
	if _, ok := domains[domain]; !ok {
		return fmt.Errorf("%w: domain %s", ErrEmailNotAllowed, domain)
	}
	return nil
}

// Reload re-reads the domain file.
func (a *EmailAllowlist) Reload() {
	a.domains.Store(loadDomainFile(a.filePath))
}

// StartRefresher re-reads the domain file on an interval until stop is called.
func (a *EmailAllowlist) StartRefresher(interval time.Duration) (stop func()) {
	if a.filePath == "" {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				a.Reload()
			}
		}
	}()
	return func() { close(done) }
}

func loadDomainFile(path string) map[string]struct{} {
	m := make(map[string]struct{})
	if path == "" {
		return m
	}
	f, err := os.Open(path)
	if err != nil {
		log.Printf("⚠️ Could not read allowed domains file %s: %v", path, err)
		return m
	}
	defer func() {
		_ = f.Close() // Best effort cleanup
	}()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if line != "" && !strings.HasPrefix(line, "#") {
			m[line] = struct{}{}
		}
	}
	return m
}
