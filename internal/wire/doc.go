// Package wire defines the JSON messages exchanged over the persistent
// WebSocket connection between the hub and its clients.
//
// Every message is a JSON object with a "type" discriminator. Server to client:
//   - connected, agent:status, agent:system, agent:text, agent:tool_call,
//     agent:tool_result, agent:done, agent:error, agent:interrupted,
//     agent:permission, task:update, error
//
// Client to server:
//   - agent:send, agent:interrupt, permission:respond, task:submit,
//     task:approve, task:reject
//
// Events are flat structs with optional fields, so one Event type covers
// both directions; receivers must treat absent optional fields as zero.
package wire
