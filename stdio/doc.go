// Package stdio implements the single-connection agent transport over
// stdin/stdout. Messages are newline-delimited JSON-RPC: client requests
// arrive on stdin, and responses, session/update notifications and
// agent-to-client requests are multiplexed onto stdout. It is intended for
// editors and harnesses that spawn the agent as a subprocess.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 client
//	Auth             : authenticate method only; no transport identity
//	Sessions         : in memory unless the agent carries a session store
//	Transport        : line oriented JSON-RPC, full duplex
//
// Options allow supplying alternate io.Reader / io.Writer or a custom logger.
//
// Example:
//
//	a := agent.New(anthropic.New(),
//	    agent.WithCredentials(credentials.NewEnv("ANTHROPIC_API_KEY", "")),
//	)
//	h := stdio.NewHandler(a)
//	if err := h.Serve(context.Background()); err != nil { log.Fatal(err) }
//
// For multi-client deployments behind a load balancer prefer the httpbridge
// transport, which adds bearer authentication, SSE update streams and a
// shared session store across instances.
package stdio
