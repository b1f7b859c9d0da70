package domain

// SettingsMap maps recognized setting names to typed values. Application is
// partial by contract: unknown or rejected keys are skipped without aborting
// the batch.
type SettingsMap map[string]any

// Recognized setting keys. Rate limits are bytes per second, 0 = unlimited.
const (
	SettingDownloadRateLimit  = "downloadRateLimit"
	SettingUploadRateLimit    = "uploadRateLimit"
	SettingMaxConnsPerTorrent = "maxConnsPerTorrent"
	SettingListenPort         = "listenPort"
	SettingDHTEnabled         = "dhtEnabled"
	SettingPEXEnabled         = "pexEnabled"
	SettingUTPEnabled         = "utpEnabled"
	SettingSeedingEnabled     = "seedingEnabled"
)

// Clone returns a shallow copy so cached views cannot be mutated by callers.
func (m SettingsMap) Clone() SettingsMap {
	if m == nil {
		return nil
	}
	out := make(SettingsMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
