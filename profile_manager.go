package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// NewProfileManager creates a new profile manager and loads all profiles from the profiles directory
func NewProfileManager(profilesDir string) (*ProfileManager, error) {
	pm := &ProfileManager{
		profiles: make(map[string]*HardwareProfile),
	}

	if err := pm.LoadProfiles(profilesDir); err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}

	return pm, nil
}

// LoadProfiles loads all YAML profile files from the specified directory
func (pm *ProfileManager) LoadProfiles(profilesDir string) error {
	// No profiles directory - not an error, just no hardware defaults available
	if _, err := os.Stat(profilesDir); os.IsNotExist(err) {
		return nil
	}

	entries, err := os.ReadDir(profilesDir)
	if err != nil {
		return fmt.Errorf("failed to read profiles directory %s: %w", profilesDir, err)
	}

	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		profilePath := filepath.Join(profilesDir, entry.Name())
		if err := pm.LoadProfile(profilePath); err != nil {
			return fmt.Errorf("failed to load profile %s: %w", profilePath, err)
		}
	}

	return nil
}

// LoadProfile loads a single profile file
func (pm *ProfileManager) LoadProfile(profilePath string) error {
	data, err := os.ReadFile(profilePath)
	if err != nil {
		return fmt.Errorf("failed to read profile file: %w", err)
	}

	var profile HardwareProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return fmt.Errorf("failed to parse profile YAML: %w", err)
	}

	if profile.ProfileInfo.Name == "" {
		return fmt.Errorf("profile must have a name")
	}
	if profile.Defaults.Profile != "" {
		return fmt.Errorf("profile %s: defaults must not select another profile", profile.ProfileInfo.Name)
	}
	if _, exists := pm.profiles[profile.ProfileInfo.Name]; exists {
		return fmt.Errorf("duplicate profile name: %s", profile.ProfileInfo.Name)
	}

	pm.profiles[profile.ProfileInfo.Name] = &profile
	return nil
}

// GetProfile returns a profile by name, or nil if not found
func (pm *ProfileManager) GetProfile(name string) *HardwareProfile {
	return pm.profiles[name]
}

// ListProfiles returns the sorted names of all loaded profiles
func (pm *ProfileManager) ListProfiles() []string {
	names := make([]string, 0, len(pm.profiles))
	for name := range pm.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MergeUserSettingsWithDefaults layers user settings over the defaults of the
// profile named by user.Profile. Without a profile the user settings are
// returned unchanged.
func (pm *ProfileManager) MergeUserSettingsWithDefaults(user Settings) (Settings, error) {
	name := user.Profile
	if name == "" {
		return user, nil
	}

	profile := pm.GetProfile(name)
	if profile == nil {
		return Settings{}, fmt.Errorf("%w: unknown hardware profile %q (available: %v)", ErrInvalidArgument, name, pm.ListProfiles())
	}

	merged := Overlay(profile.Defaults, user)
	merged.Profile = name
	return merged, nil
}
