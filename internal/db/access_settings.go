package db

import "whatsapp-hub/internal/models"

// AccessSettingsStore is the typed view over the settings table the
// permission resolver consumes.
type AccessSettingsStore struct {
	settings SettingsRepository
}

func NewAccessSettingsStore(settings SettingsRepository) *AccessSettingsStore {
	return &AccessSettingsStore{settings: settings}
}

// GetAccessSettings returns the stored access switches, or defaults when
// none were ever saved.
func (s *AccessSettingsStore) GetAccessSettings() (*models.AccessSettings, error) {
	out := &models.AccessSettings{}
	found, err := s.settings.Get(accessSettingsKey, out)
	if err != nil {
		return nil, err
	}
	if !found {
		return &models.AccessSettings{}, nil
	}
	return out, nil
}

func (s *AccessSettingsStore) SaveAccessSettings(settings *models.AccessSettings) error {
	return s.settings.Set(accessSettingsKey, settings)
}
