package config

// ConfigBackend is where non-secret settings persist between runs. Keys
// are the dotted names from the key table ("queue.workers"). Floats and
// bools are stored as strings.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
