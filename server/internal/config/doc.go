// Package config loads syndicate-server configuration from a yaml file.
//
// Load(path) starts from Default(), unmarshals the file over it and
// validates the result, so a file only needs the keys it changes. Watch
// reloads the file on change; only log.level and
// server.sweeper.expiration take effect without a restart.
package config
