package lock

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Presenter is the UI-presentation collaborator: whatever actually renders
// the full-screen lock surface. The session drives it with exactly one Show
// per activation and one Dismiss per deactivation.
type Presenter interface {
	Show(password string)
	Dismiss()
}

// ConsolePresenter is the built-in presenter for headless deployments: it
// prints the lock banner and password to a writer. The password is the
// content of the UI here, not log output.
type ConsolePresenter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsolePresenter creates a presenter writing to out, or stdout when nil.
func NewConsolePresenter(out io.Writer) *ConsolePresenter {
	if out == nil {
		out = os.Stdout
	}
	return &ConsolePresenter{out: out}
}

// Show implements Presenter.
func (p *ConsolePresenter) Show(password string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "=== DEVICE LOCKED ===\nunlock password: %s\n", password)
}

// Dismiss implements Presenter.
func (p *ConsolePresenter) Dismiss() {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, "=== DEVICE UNLOCKED ===")
}
