// Package acp contains the protocol data types and constants shared across
// transports and the orchestration engine. It mirrors the wire representation
// of the agent-client protocol while keeping the surface Go-friendly
// (exported structs with json tags, string constants for method names and
// enumerations, helper validation functions).
//
// The package is intentionally free of transport logic: stdio, the HTTP
// bridge, or any future transports import these types but implement their own
// framing, authentication and session handling. Likewise the engine
// constructs responses using these concrete types and hands them to the
// JSON-RPC layer for serialization.
//
// # Method Names
//
// Method and notification names are enumerated as Method constants (e.g.
// SessionPromptMethod). Using the constants avoids typographical mistakes and
// keeps a single point of truth for the fixed method set.
//
// # Session Updates
//
// Streaming progress travels as session/update notifications. SessionUpdate
// is a discriminated union over UpdateKind; SessionNotification is the
// envelope that carries the per-session sequence number and timestamp
// assigned at send time.
//
// # Errors
//
// The typed errors in this package carry the engine-level error taxonomy.
// The dispatcher translates them into wire error objects, preserving their
// codes and structured data verbatim.
package acp
