package experiment

// Source is where experiment definitions come from: either a file, which
// takes total precedence, or the trial-specific flags.
type Source interface {
	Resolve() (Experiments, error)

	isSource()
}

// FileSource loads experiments from a YAML file. Trial-specific flags are
// ignored entirely.
type FileSource struct {
	Path   string
	Params map[string]string
}

// FlagSource builds a single experiment from command line flags.
type FlagSource struct {
	Flags Flags
}

func (FileSource) isSource() {}
func (FlagSource) isSource() {}

func (s FileSource) Resolve() (Experiments, error) {
	return Read(s.Path, s.Params)
}

func (s FlagSource) Resolve() (Experiments, error) {
	return Build(s.Flags)
}

// NewSource picks the file source whenever a config file is given.
func NewSource(configFile string, params map[string]string, flags Flags) Source {
	if configFile != "" {
		return FileSource{Path: configFile, Params: params}
	}
	return FlagSource{Flags: flags}
}
