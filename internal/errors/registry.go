package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Configuration Errors (E100-E139)
	// ============================================

	"E100": {
		Category:   CategoryConfig,
		Message:    "Config file not found",
		Suggestion: "Pass --config with the path to a .toml, .yaml or .json file",
	},
	"E101": {
		Category: CategoryConfig,
		Message:  "Config file could not be parsed",
	},
	"E102": {
		Category:   CategoryConfig,
		Message:    "Unsupported config format",
		Detail:     "Config files must end in .toml, .yaml, .yml or .json.",
		Suggestion: "Rename the file with a supported extension",
	},
	"E103": {
		Category: CategoryConfig,
		Message:  "Invalid port",
		Detail:   "Ports must be between 1 and 65535.",
	},
	"E104": {
		Category:   CategoryConfig,
		Message:    "Invalid channel",
		Suggestion: "Use one of: reliable, reliable_sequenced, reliable_fragmented, unreliable, unreliable_sequenced, unreliable_fragmented",
	},
	"E105": {
		Category: CategoryConfig,
		Message:  "Invalid packet size",
		Detail:   "The packet size must leave room for the frame header and at least one message.",
	},
	"E106": {
		Category:   CategoryConfig,
		Message:    "Invalid log level",
		Suggestion: "Use one of: debug, info, warn, error",
	},
	"E107": {
		Category:   CategoryConfig,
		Message:    "Invalid snapshot store",
		Suggestion: "Use one of: memory, sqlite, s3",
	},
	"E108": {
		Category:   CategoryConfig,
		Message:    "Invalid duration",
		Suggestion: "Durations use Go syntax, for example \"10ms\" or \"1m30s\"",
	},
	"E109": {
		Category: CategoryConfig,
		Message:  "Too many channels",
		Detail:   "Channel ids are carried in a single byte on the wire.",
	},
	"E110": {
		Category: CategoryConfig,
		Message:  "Invalid limit",
	},

	// ============================================
	// CLI Errors (E200-E239)
	// ============================================

	"E200": {
		Category:   CategoryTransport,
		Message:    "Listen failed",
		Suggestion: "Check that no other process is bound to the port",
	},
	"E201": {
		Category: CategoryTransport,
		Message:  "Connect failed",
	},
	"E202": {
		Category: CategoryStorage,
		Message:  "Snapshot store unavailable",
	},
	"E203": {
		Category:   CategoryStorage,
		Message:    "Snapshot not found",
		Suggestion: "Run 'replinet inspect --list' to see stored snapshots",
	},
	"E204": {
		Category: CategoryCLI,
		Message:  "Admin server failed",
	},
	"E205": {
		Category: CategoryCLI,
		Message:  "Invalid address",
		Detail:   "Addresses have the form host:port.",
	},
	"E206": {
		Category: CategoryCLI,
		Message:  "Command failed",
	},
}

// GetAllCodes returns all registered error codes.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}
