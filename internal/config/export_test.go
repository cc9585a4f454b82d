package config

// ApplyEnvOverlayForTest exposes applyEnvOverlay to the config_test package.
var ApplyEnvOverlayForTest = applyEnvOverlay
