package errors

import "sort"

// Template defines a registered error code.
type Template struct {
	Category    Category
	Message     string
	Explanation string
}

// Registered codes.
const (
	CodeConfigNotFound    = "E100"
	CodeConfigParse       = "E101"
	CodeInvalidValue      = "E102"
	CodeUnsupportedFormat = "E103"
	CodeMissingEnv        = "E104"
	CodeInvalidDuration   = "E105"

	CodeInvalidArgs   = "E200"
	CodeListen        = "E201"
	CodeDial          = "E202"
	CodeArchiveSetup  = "E203"
	CodeProfilerSetup = "E204"
	CodeShutdown      = "E205"

	CodeHandshakeRejected = "E300"
	CodeSessionExpired    = "E301"
	CodeRetriesExhausted  = "E302"
	CodeCapacity          = "E303"
	CodeProtocol          = "E304"
	CodeServerDisconnect  = "E305"
)

var registry = map[string]Template{
	// Configuration (E100-E199)
	CodeConfigNotFound: {
		Category:    CategoryConfig,
		Message:     "Configuration file not found",
		Explanation: "No wsession.json, wsession.yaml or wsession.yml was found at the given path.",
	},
	CodeConfigParse: {
		Category:    CategoryConfig,
		Message:     "Configuration file could not be parsed",
		Explanation: "The file is not valid JSON or YAML, or a field has the wrong type.",
	},
	CodeInvalidValue: {
		Category:    CategoryConfig,
		Message:     "Invalid configuration value",
		Explanation: "A configuration field is out of range or inconsistent with another field.",
	},
	CodeUnsupportedFormat: {
		Category:    CategoryConfig,
		Message:     "Unsupported configuration format",
		Explanation: "Configuration files must end in .json, .yaml or .yml.",
	},
	CodeMissingEnv: {
		Category:    CategoryConfig,
		Message:     "Environment variable not set",
		Explanation: "The configuration references ${VAR} but VAR is not set and no default was given. Use ${VAR:-default} to supply one.",
	},
	CodeInvalidDuration: {
		Category:    CategoryConfig,
		Message:     "Invalid duration",
		Explanation: `Durations are strings such as "500ms", "30s" or "5m".`,
	},

	// Command line (E200-E299)
	CodeInvalidArgs: {
		Category:    CategoryCLI,
		Message:     "Invalid arguments",
		Explanation: "The command was called with missing or conflicting arguments.",
	},
	CodeListen: {
		Category:    CategoryCLI,
		Message:     "Server failed to listen",
		Explanation: "The HTTP listener could not be opened. Another process may hold the port.",
	},
	CodeDial: {
		Category:    CategoryCLI,
		Message:     "Could not connect to server",
		Explanation: "The WebSocket dial or handshake failed. Check the URL and that the server is running.",
	},
	CodeArchiveSetup: {
		Category:    CategoryCLI,
		Message:     "Stats archive could not be started",
		Explanation: "The S3 client could not be configured. Check the archive section and AWS credentials.",
	},
	CodeProfilerSetup: {
		Category:    CategoryCLI,
		Message:     "Profiler could not be started",
		Explanation: "Continuous profiling was requested but the profiler failed to start.",
	},
	CodeShutdown: {
		Category:    CategoryCLI,
		Message:     "Shutdown did not complete",
		Explanation: "Sessions or HTTP requests were still active when the shutdown timeout expired.",
	},

	// Protocol and runtime (E300-E399)
	CodeHandshakeRejected: {
		Category:    CategoryProtocol,
		Message:     "Handshake rejected",
		Explanation: "The server refused the Connect or Reconnect frame.",
	},
	CodeSessionExpired: {
		Category:    CategoryProtocol,
		Message:     "Session expired",
		Explanation: "The session was removed after its timeout and the server does not open fresh sessions on resume.",
	},
	CodeRetriesExhausted: {
		Category:    CategoryRuntime,
		Message:     "Reconnect attempts exhausted",
		Explanation: "The client gave up after its configured number of reconnect attempts.",
	},
	CodeCapacity: {
		Category:    CategoryRuntime,
		Message:     "Server at capacity",
		Explanation: "The server reached its session limit and refused a new session.",
	},
	CodeProtocol: {
		Category:    CategoryProtocol,
		Message:     "Protocol error",
		Explanation: "A frame could not be decoded or was not valid in the current state.",
	},
	CodeServerDisconnect: {
		Category:    CategoryRuntime,
		Message:     "Disconnected by server",
		Explanation: "The server ended the session with a Disconnect frame.",
	},
}

// AllCodes returns all registered codes in order.
func AllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// GetTemplate returns the template for a code.
func GetTemplate(code string) (Template, bool) {
	t, ok := registry[code]
	return t, ok
}
