// Package profile defines the sampling profiles bound to each logical role.
package profile

// Profile is a named bundle of LLM sampling parameters.
type Profile struct {
	Temperature     float64 `mapstructure:"temperature"`
	TopP            float64 `mapstructure:"top_p"`
	TopK            int     `mapstructure:"top_k"`
	MinP            float64 `mapstructure:"min_p"`
	RepeatPenalty   float64 `mapstructure:"repeat_penalty"`
	MaxOutputTokens int     `mapstructure:"max_output_tokens"`
}

// Names of the four built-in profiles.
const (
	Planner      = "planner"
	Implementer  = "implementer"
	Conservative = "conservative"
	Consultant   = "consultant"
)

// Defaults returns the four named profiles bound to the pipeline's roles: a
// higher-temperature planner profile, a lower-temperature implementer
// profile, a near-deterministic conservative profile, and a consultant
// profile with the same values as the conservative one.
func Defaults() map[string]Profile {
	return map[string]Profile{
		Planner: {
			Temperature:     0.7,
			TopP:            0.9,
			TopK:            40,
			MinP:            0.05,
			RepeatPenalty:   1.1,
			MaxOutputTokens: 4096,
		},
		Implementer: {
			Temperature:     0.2,
			TopP:            0.9,
			TopK:            40,
			MinP:            0.05,
			RepeatPenalty:   1.1,
			MaxOutputTokens: 8192,
		},
		Conservative: {
			Temperature:     0.1,
			TopP:            0.85,
			TopK:            20,
			MinP:            0.1,
			RepeatPenalty:   1.15,
			MaxOutputTokens: 2048,
		},
		Consultant: {
			Temperature:     0.1,
			TopP:            0.85,
			TopK:            20,
			MinP:            0.1,
			RepeatPenalty:   1.15,
			MaxOutputTokens: 2048,
		},
	}
}
