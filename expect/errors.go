package expect

import "errors"

var errUnregistered = errors.New("expectation unregistered")
