// Package errors provides coded, actionable errors for the replinet CLI.
//
// Codes are grouped by range:
//   - E100-E139: configuration file errors
//   - E200-E239: command errors (listen, connect, snapshot stores)
//
// Each code maps to a short message, an optional detail and a default
// suggestion. Configuration errors can point at a file position; Format
// then prints the surrounding lines.
//
// # Usage
//
//	err := errors.New("E103").
//	    WithLocation("replinet.toml", 4, 8)
//
//	errors.Fprint(os.Stderr, err)
//	// ERROR E103: Invalid port
//	//
//	//   replinet.toml:4:8
//	//
//	//        2 │ [server]
//	//        3 │ address = "0.0.0.0"
//	//   →    4 │ port = 70000
//	//          │        ^
//	//
//	//   Ports must be between 1 and 65535.
package errors
