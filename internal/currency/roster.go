package currency

import (
	"sync"

	"github.com/voxgames/voxbank/internal/platform/errors"
	"github.com/voxgames/voxbank/internal/random"
)

// Roster tracks privileged actors and the rotating access code used to
// claim privilege. Claiming with the current code promotes the actor and
// immediately rotates the code so it cannot be reused.
type Roster struct {
	mu         sync.Mutex
	code       string
	privileged map[string]bool
}

// NewRoster creates a roster with a freshly generated access code.
func NewRoster() (*Roster, error) {
	code, err := random.NewToken(8)
	if err != nil {
		return nil, err
	}
	return &Roster{code: code, privileged: make(map[string]bool)}, nil
}

// RestoreRoster rebuilds a roster from snapshot state. An empty code gets
// a fresh one generated.
func RestoreRoster(code string, privileged []string) (*Roster, error) {
	if code == "" {
		generated, err := random.NewToken(8)
		if err != nil {
			return nil, err
		}
		code = generated
	}
	set := make(map[string]bool, len(privileged))
	for _, actor := range privileged {
		set[actor] = true
	}
	return &Roster{code: code, privileged: set}, nil
}

// Claim promotes actor when code matches the current access code, then
// rotates the code. The new code is returned so the operator can hand it
// out again.
func (r *Roster) Claim(actor, code string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if code == "" || code != r.code {
		return "", errors.New(errors.CodeInvalidCode, "invalid access code")
	}

	next, err := random.NewToken(8)
	if err != nil {
		return "", err
	}
	r.privileged[actor] = true
	r.code = next
	return next, nil
}

// IsPrivileged reports whether actor holds admin privilege.
func (r *Roster) IsPrivileged(actor string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.privileged[actor]
}

// Code returns the current access code. Intended for operator display and
// snapshot persistence.
func (r *Roster) Code() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.code
}

// Privileged returns the current privileged actor ids.
func (r *Roster) Privileged() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.privileged))
	for actor := range r.privileged {
		out = append(out, actor)
	}
	return out
}
