package provider

import "errors"

// ErrAllProvidersFailed is returned when every attempted provider within
// max_attempts failed (spec §4.3).
var ErrAllProvidersFailed = errors.New("all providers failed")

// ErrNoActiveProviders is returned when the available set is empty
// before the first attempt.
var ErrNoActiveProviders = errors.New("no active providers")
