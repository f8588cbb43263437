// Package ws serves the collaboration WebSocket.
//
// The package implements:
//   - Hub: tracks connected clients and broadcasts frames best-effort
//   - Handler: upgrades connections and runs the read/write pumps
//   - Service: routes inbound messages to the session manager and task registry
//
// Agent events for a turn go only to the client that started it. Task
// updates go to every client. A client whose send buffer fills up is
// dropped; disconnecting never stops the agent session.
package ws
