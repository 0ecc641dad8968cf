package domain

// DefaultKeyPrefix namespaces every key the service writes to the shared store.
const DefaultKeyPrefix = "guestid:"

// ModelSettings holds per-call generation limits, not exposed to clients.
type ModelSettings struct {
	MaxOutputTokens      int
	Temperature          float32
	DetectionMaxTokens   int
	DetectionTemperature float32
}

// DefaultModelSettings returns the budgets used when configuration leaves them unset.
func DefaultModelSettings() ModelSettings {
	return ModelSettings{
		MaxOutputTokens:      2000,
		Temperature:          0.1,
		DetectionMaxTokens:   300,
		DetectionTemperature: 0.1,
	}
}
