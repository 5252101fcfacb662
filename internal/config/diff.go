package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	ProfilesAdded   []string
	ProfilesRemoved []string
	ProfilesChanged []string

	DefaultsChanged bool
	NewDefaults     DefaultsConfig

	RouterChanged     bool
	NewDefaultProfile string

	FeedbackChanged bool
	NewFeedback     FeedbackConfig

	SchedulerChanged bool
	NewPollInterval  SchedulerConfig

	// Non-reloadable fields that changed (log warnings only)
	NonReloadable []string
}

// HasChanges reports whether any reloadable field changed.
func (d *ConfigDiff) HasChanges() bool {
	return len(d.ProfilesAdded) > 0 ||
		len(d.ProfilesRemoved) > 0 ||
		len(d.ProfilesChanged) > 0 ||
		d.DefaultsChanged ||
		d.RouterChanged ||
		d.FeedbackChanged ||
		d.SchedulerChanged
}

// Diff compares two configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	// Profile diffs
	for name := range new.Profiles {
		if _, ok := old.Profiles[name]; !ok {
			d.ProfilesAdded = append(d.ProfilesAdded, name)
		}
	}
	for name := range old.Profiles {
		if _, ok := new.Profiles[name]; !ok {
			d.ProfilesRemoved = append(d.ProfilesRemoved, name)
		}
	}
	for name, newDef := range new.Profiles {
		if oldDef, ok := old.Profiles[name]; ok {
			if !reflect.DeepEqual(oldDef, newDef) {
				d.ProfilesChanged = append(d.ProfilesChanged, name)
			}
		}
	}

	// Defaults
	if !reflect.DeepEqual(old.Defaults, new.Defaults) {
		d.DefaultsChanged = true
		d.NewDefaults = new.Defaults
	}

	// Router
	if old.Router.DefaultProfile != new.Router.DefaultProfile {
		d.RouterChanged = true
		d.NewDefaultProfile = new.Router.DefaultProfile
	}

	// Feedback settings apply from the next driver run
	if !reflect.DeepEqual(old.Feedback, new.Feedback) {
		d.FeedbackChanged = true
		d.NewFeedback = new.Feedback
	}

	// Scheduler
	if old.Scheduler.PollInterval != new.Scheduler.PollInterval {
		d.SchedulerChanged = true
		d.NewPollInterval = new.Scheduler
	}

	// Non-reloadable warnings
	if old.Telegram.Token != new.Telegram.Token {
		d.NonReloadable = append(d.NonReloadable, "telegram.token")
	}
	if old.Web.Port != new.Web.Port {
		d.NonReloadable = append(d.NonReloadable, "web.port")
	}
	if old.NATS.DataDir != new.NATS.DataDir {
		d.NonReloadable = append(d.NonReloadable, "nats.data_dir")
	}
	if old.Store.Path != new.Store.Path {
		d.NonReloadable = append(d.NonReloadable, "store.path")
	}
	if old.Vault.Passphrase != new.Vault.Passphrase {
		d.NonReloadable = append(d.NonReloadable, "vault.passphrase")
	}
	if old.Worker.Runtime != new.Worker.Runtime {
		d.NonReloadable = append(d.NonReloadable, "worker.runtime")
	}

	return d
}
