// Package httpbridge serves an agent to remote clients over HTTP. Inbound
// JSON-RPC messages arrive as POST bodies; everything the agent originates
// (session/update notifications and agent-to-client requests) flows out
// through a per-connection event stream consumed via GET as Server-Sent
// Events.
//
// Characteristics:
//
//	Connection model : 1 process <-> many clients, one agent Connection each
//	Auth             : optional bearer tokens (RFC 9068) plus the protocol's
//	                   authenticate method; open when no authenticator is set
//	Sessions         : per the agent's session store
//	Transport        : POST for requests, SSE stream for agent traffic,
//	                   DELETE to end a connection
//
// A client opens a connection by POSTing an initialize request without an
// Acp-Connection-Id header. The response carries the assigned id, which the
// client echoes on every later request and on the event stream GET. Streams
// resume after a dropped GET via the standard Last-Event-ID header; how far
// back resumption reaches depends on the configured broker.
//
// Example:
//
//	a := agent.New(anthropic.New(),
//	    agent.WithCredentials(credentials.NewEnv("ANTHROPIC_API_KEY", "")),
//	)
//	h, err := httpbridge.New(ctx, "http://localhost:8410/acp", a)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(http.ListenAndServe(":8410", h))
//
// Deployments that span processes swap the in-memory broker for the redis
// one so event streams survive instance handoff.
package httpbridge
