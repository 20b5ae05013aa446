// Package appinfo provides application identity constants.
// These are used across packages for consistent naming.
package appinfo

const (
	// AppName is the display name of the application.
	AppName = "vrcwatch"

	// DirName is the directory name used for storing application data.
	// Location: %LOCALAPPDATA%/vrcwatch/ (Windows) or ~/.config/vrcwatch/ (other)
	DirName = "vrcwatch"

	// MutexName is the Windows mutex name for single instance control.
	// "Local\" prefix scopes the mutex to the current user session.
	MutexName = "Local\\vrcwatch"

	// ConfigFileName is the configuration file name.
	ConfigFileName = "config.json"

	// SecretsFileName is the secrets file name.
	SecretsFileName = "secrets.json"

	// DatabaseFileName is the SQLite database file name.
	DatabaseFileName = "vrcwatch.sqlite"
)
