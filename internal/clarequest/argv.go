package clarequest

// OutputFormat selects the CLA's stdout framing.
type OutputFormat string

const (
	OutputFormatJSON       OutputFormat = "json"
	OutputFormatStreamJSON OutputFormat = "stream-json"
)

// ArgvOptions parameterizes CLI argument construction for a single CLA
// invocation.
type ArgvOptions struct {
	OutputFormat  OutputFormat
	Model         string
	SessionID     string
	NewSession    bool
	SystemPrompt  string
	HasSystem     bool
	Streaming     bool
	Prompt        string
	DeliverStdin  bool // when true, -p is omitted and Prompt is written to stdin instead
}

// BuildCLIArgs returns the ordered CLA argument vector: output format,
// model, a permission-bypass flag, an empty tool-disable flag, the
// session flag (new vs. resume), an optional system-prompt flag,
// streaming-only flags, and finally -p unless stdin delivery is requested.
func BuildCLIArgs(opts ArgvOptions) []string {
	args := []string{
		"--output-format", string(opts.OutputFormat),
		"--model", opts.Model,
		"--dangerously-skip-permissions",
		"--disallowed-tools", "",
	}

	if opts.NewSession {
		args = append(args, "--session-id", opts.SessionID)
	} else {
		args = append(args, "--resume", opts.SessionID)
	}

	if opts.HasSystem {
		args = append(args, "--append-system-prompt", opts.SystemPrompt)
	}

	if opts.Streaming {
		args = append(args, "--verbose", "--include-partial-messages")
	}

	if !opts.DeliverStdin {
		args = append(args, "-p", opts.Prompt)
	}

	return args
}
