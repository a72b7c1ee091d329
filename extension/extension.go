// Package extension describes HiveMQ extensions and stages them on disk so they can be copied into
// a broker container.
package extension

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid extension")

// Extension is the metadata HiveMQ reads from an extension's descriptor.
type Extension struct {
	// ID is also the name of the extension's folder below /opt/hivemq/extensions.
	ID string
	// Name is the display name the broker uses in its log output.
	Name    string
	Version string

	Priority      int
	StartPriority int

	// DisabledOnStartup places a DISABLED marker into the staged folder.
	DisabledOnStartup bool
}

// Validate reports whether e can be staged.
func (e Extension) Validate() error {
	var errs []error
	if err := checkID(e.ID); err != nil {
		errs = append(errs, err)
	}
	if e.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if e.Version == "" {
		errs = append(errs, errors.New("version is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w %q: %w", ErrInvalid, e.ID, multierr.Combine(errs...))
	}
	return nil
}

// ValidateID reports whether id can name an extension folder.
func ValidateID(id string) error {
	if err := checkID(id); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func checkID(id string) error {
	switch {
	case id == "":
		return errors.New("id is required")
	case strings.ContainsAny(id, `/\`), id == ".", id == "..":
		return fmt.Errorf("id %q must be a single path segment", id)
	}
	return nil
}
