/*
Package rmi provides a client and server for invoking named methods on a remote object over a duplex message channel. It uses WebSockets for bidi messaging so only requires an HTTP server.

There are two messages in this protocol: "request" messages are sent client->server, and "response" messages are sent server->client. The schema for these messages is described in types.go.

The protocol proceeds as follows:

1. The client opens a WebSocket connection with the server.
2. For each call, the client sends a request message with a fresh ID, the method name, and the positional arguments.
3. The server dispatches each request to the handler registered for the method. Requests are read in the order they were sent, but handlers run concurrently, so a short call such as "stop" can be served while a long-running call is still computing.
4. When a handler returns, the server sends exactly one response message carrying the request ID and either a result or an error.
5. The client initiates closing of the WebSocket connection when it is done.

Calls are scoped to the connection--if the connection dies for any reason, every outstanding call on the client fails and the server cancels the contexts of running handlers.
*/
package rmi
