package config

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGist implements GistStorage in memory.
type fakeGist struct {
	enabled bool
	files   map[string][]byte
	loadErr error
	saveErr error
}

func newFakeGist() *fakeGist {
	return &fakeGist{enabled: true, files: map[string][]byte{}}
}

func (f *fakeGist) IsEnabled() bool   { return f.enabled }
func (f *fakeGist) GetGistID() string { return "fake-gist" }

func (f *fakeGist) LoadJSON(_ context.Context, filename string, dest any) error {
	if f.loadErr != nil {
		return f.loadErr
	}
	data, ok := f.files[filename]
	if !ok {
		return errors.New("file not found")
	}
	return json.Unmarshal(data, dest)
}

func (f *fakeGist) SaveJSON(_ context.Context, filename string, data any) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	f.files[filename] = raw
	return nil
}

func TestSettingsManager_IsEnabled(t *testing.T) {
	lc := NewLiveConfig(Defaults())

	sm := NewSettingsManager(nil, nil, "", lc)
	assert.False(t, sm.IsEnabled(), "nil gist should disable settings")

	sm = NewSettingsManager(nil, newFakeGist(), "", lc)
	assert.False(t, sm.IsEnabled(), "missing gist ID should disable settings")

	disabled := newFakeGist()
	disabled.enabled = false
	sm = NewSettingsManager(nil, disabled, "gist-id", lc)
	assert.False(t, sm.IsEnabled(), "disabled gist client should disable settings")

	sm = NewSettingsManager(nil, newFakeGist(), "gist-id", lc)
	assert.True(t, sm.IsEnabled())
}

func TestSettingsManager_LoadSettings_GistOverridesEnv(t *testing.T) {
	gist := newFakeGist()
	stored := Defaults()
	stored.Detector.WhaleThresholdUSD = 50000
	snapshot := SettingsSnapshot{Version: 1, UpdatedAt: time.Now(), Config: stored}
	raw, err := json.Marshal(snapshot)
	require.NoError(t, err)
	gist.files[SettingsFileName] = raw

	envConfig := Defaults()
	envConfig.Detector.WhaleThresholdUSD = 20000
	envConfig.Discord.BotToken = "env-token"

	sm := NewSettingsManager(nil, gist, "gist-id", NewLiveConfig(Defaults()))
	cfg, err := sm.LoadSettings(context.Background(), envConfig)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 50000.0, cfg.Detector.WhaleThresholdUSD, "gist value should win over env")
	assert.Equal(t, "env-token", cfg.Discord.BotToken, "tokens never round-trip through the gist")
}

func TestSettingsManager_LoadSettings_GistErrorFallsBack(t *testing.T) {
	gist := newFakeGist()
	gist.loadErr = errors.New("rate limited")

	envConfig := Defaults()
	envConfig.Detector.WhaleThresholdUSD = 15000

	sm := NewSettingsManager(nil, gist, "gist-id", NewLiveConfig(Defaults()))
	cfg, err := sm.LoadSettings(context.Background(), envConfig)
	require.NoError(t, err, "load errors should fall back, not fail startup")
	assert.Equal(t, 15000.0, cfg.Detector.WhaleThresholdUSD)
}

func TestSettingsManager_SaveSettings_RoundTrip(t *testing.T) {
	gist := newFakeGist()
	cfg := Defaults()
	cfg.Detector.WhaleThresholdUSD = 42000
	lc := NewLiveConfig(cfg)

	sm := NewSettingsManager(nil, gist, "gist-id", lc)
	require.NoError(t, sm.SaveSettings(context.Background()))

	var snapshot SettingsSnapshot
	require.NoError(t, json.Unmarshal(gist.files[SettingsFileName], &snapshot))
	assert.Equal(t, 1, snapshot.Version)
	require.NotNil(t, snapshot.Config)
	assert.Equal(t, 42000.0, snapshot.Config.Detector.WhaleThresholdUSD)
}

func TestSettingsManager_SaveSettings_Disabled(t *testing.T) {
	sm := NewSettingsManager(nil, nil, "", NewLiveConfig(Defaults()))
	assert.Error(t, sm.SaveSettings(context.Background()))
}

func TestSettingsManager_UpdateAndSave(t *testing.T) {
	gist := newFakeGist()
	lc := NewLiveConfig(Defaults())
	sm := NewSettingsManager(nil, gist, "gist-id", lc)

	updated := Defaults()
	updated.Detector.WhaleThresholdUSD = 33000
	require.NoError(t, sm.UpdateAndSave(context.Background(), updated))

	assert.Equal(t, 33000.0, lc.Get().Detector.WhaleThresholdUSD)
	assert.Contains(t, gist.files, SettingsFileName)

	// Save failures are logged but must not reject the config update
	gist.saveErr = errors.New("gist unavailable")
	updated2 := Defaults()
	updated2.Detector.WhaleThresholdUSD = 44000
	require.NoError(t, sm.UpdateAndSave(context.Background(), updated2))
	assert.Equal(t, 44000.0, lc.Get().Detector.WhaleThresholdUSD)

	// Invalid configs are rejected before any save
	bad := Defaults()
	bad.Entity.EdgeThreshold = -1
	assert.Error(t, sm.UpdateAndSave(context.Background(), bad))
}

func TestSettingsManager_GetSettingsInfo(t *testing.T) {
	lc := NewLiveConfig(Defaults())
	sm := NewSettingsManager(nil, newFakeGist(), "gist-id", lc)

	info := sm.GetSettingsInfo()
	assert.Equal(t, "gist", info.Source)
	assert.Equal(t, "gist-id", info.GistID)
	assert.True(t, info.GistEnabled)
	assert.True(t, info.IsValid)

	sm = NewSettingsManager(nil, nil, "", lc)
	info = sm.GetSettingsInfo()
	assert.Equal(t, "env", info.Source)
	assert.False(t, info.GistEnabled)
}
