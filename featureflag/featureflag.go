package featureflag

// FeatureFlag is a lookup map for features that is enabled or disabled
type FeatureFlag map[Flag]struct{}

// New return a new feature flags initialized with list of flags
func New(flags []string) FeatureFlag {
	featureFlag := make(FeatureFlag)
	for _, f := range flags {
		featureFlag[Flag(f)] = struct{}{}
	}
	return featureFlag
}

// IsSet reports whether flag is set.
func (f FeatureFlag) IsSet(flag Flag) bool {
	_, ok := f[flag]
	return ok
}

// IfSet runs function `do ` if flag is set in the feature flags
func (f FeatureFlag) IfSet(flag Flag, do func()) {
	if !f.IsSet(flag) {
		return
	}
	do()
}

// IfNotSet runs function `do` if flag is not set in the feature flags
func (f FeatureFlag) IfNotSet(flag Flag, do func()) {
	if f.IsSet(flag) {
		return
	}
	do()
}
