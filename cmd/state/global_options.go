package state

// GlobalFlags contains the global config values that apply to the whole
// testrender command.
type GlobalFlags struct {
	NoColor        bool
	LogFormat      string
	LogLevel       string
	CategoryFilter string
	Verbose        bool
}

// GetDefaultFlags returns the default global flags.
func GetDefaultFlags() GlobalFlags {
	return GlobalFlags{
		LogLevel: "info",
	}
}

func consolidateGlobalFlags(defaultFlags GlobalFlags, env map[string]string) GlobalFlags {
	result := defaultFlags

	if val, ok := env["TESTRENDER_LOG_FORMAT"]; ok {
		result.LogFormat = val
	}
	if val, ok := env["TESTRENDER_LOG_LEVEL"]; ok && val != "" {
		result.LogLevel = val
	}
	if val, ok := env["TESTRENDER_LOG_CATEGORY_FILTER"]; ok {
		result.CategoryFilter = val
	}
	if env["TESTRENDER_NO_COLOR"] != "" {
		result.NoColor = true
	}
	// Support https://no-color.org/, even an empty value should disable the
	// color output.
	if _, ok := env["NO_COLOR"]; ok {
		result.NoColor = true
	}
	return result
}
